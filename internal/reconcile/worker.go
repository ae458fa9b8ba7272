package reconcile

import (
	"context"
	"time"

	"github.com/smallbiznis/homeserve/internal/config"
	obsmetrics "github.com/smallbiznis/homeserve/internal/observability/metrics"
	"github.com/smallbiznis/homeserve/internal/reconcile/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobName    = "orphan_reconcile"
	runTimeout = 2 * time.Minute
)

type WorkerParams struct {
	fx.In

	Log     *zap.Logger
	Config  config.Config
	Service *service.Service
	Metrics *obsmetrics.WorkerMetrics `optional:"true"`
}

// Worker runs the reconciler on a fixed interval. A zero interval disables it.
type Worker struct {
	log      *zap.Logger
	svc      *service.Service
	metrics  *obsmetrics.WorkerMetrics
	interval time.Duration
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		log:      p.Log.Named("reconcile.worker"),
		svc:      p.Service,
		metrics:  p.Metrics,
		interval: p.Config.Reconcile.Interval,
	}
}

func (w *Worker) Enabled() bool {
	return w != nil && w.interval > 0
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, runTimeout)
	defer cancel()

	start := time.Now()
	w.metrics.IncJobRun(jobName)
	result, err := w.svc.RunOnce(ctx)
	w.metrics.ObserveJobDuration(jobName, time.Since(start))
	w.metrics.AddBatchProcessed(jobName, "orphaned_sessions", result.Resolved)
	if err != nil {
		w.metrics.IncJobError(jobName, err)
		w.log.Warn("orphan reconcile run failed", zap.Error(err))
		return
	}
	if result.Scanned > 0 {
		w.log.Info("orphan reconcile run finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("resolved", result.Resolved),
			zap.Int("failed", result.Failed),
		)
	}
}
