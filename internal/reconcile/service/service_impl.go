package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	bookingdomain "github.com/smallbiznis/homeserve/internal/booking/domain"
	"github.com/smallbiznis/homeserve/internal/clock"
	"github.com/smallbiznis/homeserve/internal/config"
	gatewaydomain "github.com/smallbiznis/homeserve/internal/gateway/domain"
	obsmetrics "github.com/smallbiznis/homeserve/internal/observability/metrics"
	"github.com/smallbiznis/homeserve/internal/reconcile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultBatchSize = 50
	maxAttempts      = 10
	maxErrorLength   = 500
	expireTimeout    = 10 * time.Second
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       domain.Repository
	Gateway    gatewaydomain.Gateway
	Bookings   bookingdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service tracks gateway sessions left without a booking and closes them out.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	gateway    gatewaydomain.Gateway
	bookings   bookingdomain.Service
	obsMetrics *obsmetrics.Metrics
	batchSize  int
}

func New(p Params) *Service {
	batchSize := p.Config.Reconcile.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconcile.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		gateway:    p.Gateway,
		bookings:   p.Bookings,
		obsMetrics: p.ObsMetrics,
		batchSize:  batchSize,
	}
}

// RecordOrphan stores a session for reconciliation. Recording the same
// session twice keeps the first record.
func (s *Service) RecordOrphan(ctx context.Context, provider, sessionID, bookingCode, reason string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	sessionID = strings.TrimSpace(sessionID)
	if provider == "" || sessionID == "" {
		return domain.ErrInvalidOrphan
	}

	now := s.clock.Now()
	inserted, err := s.repo.Insert(ctx, s.db, &domain.OrphanedSession{
		ID:          s.genID.Generate(),
		Provider:    provider,
		SessionID:   sessionID,
		BookingCode: strings.TrimSpace(bookingCode),
		Reason:      reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return errors.Wrap(err, "insert orphaned session")
	}
	if inserted {
		s.log.Warn("orphaned checkout session recorded",
			zap.String("provider", provider),
			zap.String("session_id", sessionID),
			zap.String("booking_code", bookingCode),
			zap.String("reason", reason),
		)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordOrphanedSession(ctx, reason)
		}
	}
	return nil
}

// RunOnce resolves one batch of open orphans. Per-row failures are recorded
// on the row and do not abort the batch.
func (s *Service) RunOnce(ctx context.Context) (domain.RunResult, error) {
	var result domain.RunResult

	orphans, err := s.repo.ListUnresolved(ctx, s.db, maxAttempts, s.batchSize)
	if err != nil {
		return result, errors.Wrap(err, "list orphaned sessions")
	}
	result.Scanned = len(orphans)

	for _, orphan := range orphans {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		logger := s.log.With(
			zap.String("session_id", orphan.SessionID),
			zap.String("booking_code", orphan.BookingCode),
		)

		resolution, err := s.resolve(ctx, orphan)
		now := s.clock.Now()
		if err != nil {
			result.Failed++
			logger.Warn("orphaned session not reconciled", zap.Int("attempts", orphan.Attempts+1), zap.Error(err))
			if recErr := s.repo.RecordFailure(ctx, s.db, orphan.ID, truncate(err.Error(), maxErrorLength), now); recErr != nil {
				return result, errors.Wrap(recErr, "record reconcile failure")
			}
			continue
		}

		if err := s.repo.MarkResolved(ctx, s.db, orphan.ID, resolution, now); err != nil {
			return result, errors.Wrap(err, "mark orphan resolved")
		}
		result.Resolved++
		logger.Info("orphaned session reconciled", zap.String("resolution", resolution))
	}

	return result, nil
}

func (s *Service) resolve(ctx context.Context, orphan domain.OrphanedSession) (string, error) {
	_, err := s.bookings.FindBySessionID(ctx, orphan.SessionID)
	if err == nil {
		return domain.ResolutionBookingFound, nil
	}
	if !errors.Is(err, bookingdomain.ErrBookingNotFound) {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, expireTimeout)
	defer cancel()

	err = s.gateway.ExpireSession(ctx, orphan.SessionID)
	switch {
	case err == nil:
		return domain.ResolutionSessionExpired, nil
	case errors.Is(err, gatewaydomain.ErrSessionNotOpen):
		return domain.ResolutionSessionClosed, nil
	default:
		return "", errors.Mark(err, obsmetrics.ErrGatewayUnavailable)
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
