package domain

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrInvalidService = errors.New("invalid_service")

// Service is a bookable service with its authoritative base price.
type Service struct {
	ID          string          `json:"id" gorm:"primaryKey"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	BasePrice   decimal.Decimal `json:"base_price" gorm:"type:numeric(12,2)"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (Service) TableName() string { return "services" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Service, error)
	List(ctx context.Context, db *gorm.DB) ([]Service, error)
	Upsert(ctx context.Context, db *gorm.DB, svc *Service) error
}

// Catalog resolves service identifiers to catalog entries. Lookup returns
// nil, nil for unknown or inactive services.
type Catalog interface {
	Lookup(ctx context.Context, serviceID string) (*Service, error)
	List(ctx context.Context) ([]Service, error)
}
