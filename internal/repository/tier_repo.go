package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/shopora/affiliate-backend/internal/models"
)

// TierRepository affiliate tier storage.
type TierRepository struct {
	db *gorm.DB
}

// NewTierRepository creates the tier repository.
func NewTierRepository(db *gorm.DB) *TierRepository {
	return &TierRepository{db: db}
}

// Create creates a tier.
func (r *TierRepository) Create(ctx context.Context, tier *models.AffiliateTier) error {
	return r.db.WithContext(ctx).Create(tier).Error
}

// GetByID loads a tier by id.
func (r *TierRepository) GetByID(ctx context.Context, id int64) (*models.AffiliateTier, error) {
	var tier models.AffiliateTier
	err := r.db.WithContext(ctx).First(&tier, id).Error
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

// GetByName loads a tier by name.
func (r *TierRepository) GetByName(ctx context.Context, name string) (*models.AffiliateTier, error) {
	var tier models.AffiliateTier
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&tier).Error
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

// Update saves a tier.
func (r *TierRepository) Update(ctx context.Context, tier *models.AffiliateTier) error {
	return r.db.WithContext(ctx).Save(tier).Error
}

// List lists all tiers.
func (r *TierRepository) List(ctx context.Context) ([]*models.AffiliateTier, error) {
	var tiers []*models.AffiliateTier
	err := r.db.WithContext(ctx).Order("commission_rate ASC").Find(&tiers).Error
	return tiers, err
}

// Delete removes a tier.
func (r *TierRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&models.AffiliateTier{}, id).Error
}
