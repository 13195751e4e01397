package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PartitionRepositoryImpl implements PartitionRepository
type PartitionRepositoryImpl struct {
	*BaseRepository[models.Partition, models.PartitionFilter]
}

func NewPartitionRepository(db *gorm.DB) PartitionRepository {
	return &PartitionRepositoryImpl{BaseRepository: NewBaseRepository[models.Partition, models.PartitionFilter](db)}
}

// ErrNoTransaction is returned by locking reads issued outside a transaction
var ErrNoTransaction = errors.New("locking read requires a transaction")

func (r *PartitionRepositoryImpl) ByIDForUpdate(ctx context.Context, id uint, lockTimeout time.Duration) (*models.Partition, error) {
	tx, ok := ctx.Value(TxContextKey).(*gorm.DB)
	if !ok || tx == nil {
		return nil, ErrNoTransaction
	}
	db := tx.WithContext(ctx)

	if lockTimeout > 0 {
		// SET does not accept bind parameters
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())
		if err := db.Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	var row models.Partition
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *PartitionRepositoryImpl) UpdateLastAssignedOrder(ctx context.Context, id uint, order int) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Partition{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"last_assigned_order": order,
				"updated_at":          utils.UTCNow(),
			}).Error
	})
}

func (r *PartitionRepositoryImpl) UpdateDistribution(ctx context.Context, id uint, useOrder bool, maxOrder int, defaults models.DistributionDefaults) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Partition{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"use_distribution_order": useOrder,
				"max_distribution_order": maxOrder,
				"distribution_defaults":  datatypes.NewJSONType(defaults),
				"updated_at":             utils.UTCNow(),
			}).Error
	})
}

func (r *PartitionRepositoryImpl) applyFilter(db *gorm.DB, f models.PartitionFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.OrgID != nil {
		db = db.Where("org_id = ?", *f.OrgID)
	}
	if f.Name != nil {
		db = db.Where("name = ?", *f.Name)
	}
	return db
}

func (r *PartitionRepositoryImpl) ByFilter(ctx context.Context, filter models.PartitionFilter, orderBy string, limit, offset int) ([]*models.Partition, error) {
	db := r.getDB(ctx)
	query := paginate(r.applyFilter(db.Model(&models.Partition{}), filter), orderBy, limit, offset)
	var rows []*models.Partition
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *PartitionRepositoryImpl) Count(ctx context.Context, filter models.PartitionFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Partition{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PartitionRepositoryImpl) Exists(ctx context.Context, filter models.PartitionFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
