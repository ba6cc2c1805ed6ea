package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shopora/affiliate-backend/internal/models"
)

// StoreRepository read side of the platform store snapshot.
type StoreRepository struct {
	db *gorm.DB
}

// NewStoreRepository creates the store repository.
func NewStoreRepository(db *gorm.DB) *StoreRepository {
	return &StoreRepository{db: db}
}

// GetByID loads a store by id.
func (r *StoreRepository) GetByID(ctx context.Context, id int64) (*models.Store, error) {
	var store models.Store
	err := r.db.WithContext(ctx).First(&store, id).Error
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// GetByOwnerUserID loads the first store owned by the user.
func (r *StoreRepository) GetByOwnerUserID(ctx context.Context, ownerUserID int64) (*models.Store, error) {
	var store models.Store
	err := r.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("id ASC").
		First(&store).Error
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// ListQualifying filters the candidate store ids down to those
// published before the cutoff. Input to the credit award sweep: a
// store qualifies once it is live and has stayed live long enough,
// counted from the moment it went live, not from when the row was
// first synced.
func (r *StoreRepository) ListQualifying(ctx context.Context, storeIDs []int64, publishedBefore time.Time) ([]*models.Store, error) {
	if len(storeIDs) == 0 {
		return nil, nil
	}
	var stores []*models.Store
	err := r.db.WithContext(ctx).
		Where("id IN ? AND published = ? AND published_at IS NOT NULL AND published_at <= ?",
			storeIDs, true, publishedBefore).
		Order("id ASC").
		Find(&stores).Error
	return stores, err
}

// Upsert writes a store snapshot row. On conflict only the synced
// fields are replaced; created_at keeps the first sync's value.
// Called from the platform sync webhook.
func (r *StoreRepository) Upsert(ctx context.Context, store *models.Store) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_user_id", "name", "published", "published_at", "updated_at"}),
	}).Create(store).Error
}
