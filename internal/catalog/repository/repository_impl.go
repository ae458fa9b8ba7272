package repository

import (
	"context"

	"github.com/smallbiznis/homeserve/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Service, error) {
	var items []domain.Service
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, description, base_price, active, created_at, updated_at
		 FROM services
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Service, error) {
	var items []domain.Service
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, description, base_price, active, created_at, updated_at
		 FROM services
		 WHERE active = ?
		 ORDER BY name ASC`,
		true,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, svc *domain.Service) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO services (id, name, description, base_price, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			base_price = excluded.base_price,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		svc.ID,
		svc.Name,
		svc.Description,
		svc.BasePrice,
		svc.Active,
		svc.CreatedAt,
		svc.UpdatedAt,
	).Error
}
