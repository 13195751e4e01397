package repository

import (
	"context"

	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/utils"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecordRepositoryImpl implements RecordRepository
type RecordRepositoryImpl struct {
	*BaseRepository[models.Record, models.RecordFilter]
}

func NewRecordRepository(db *gorm.DB) RecordRepository {
	return &RecordRepositoryImpl{BaseRepository: NewBaseRepository[models.Record, models.RecordFilter](db)}
}

// MergeData applies a partial edit to the field map in a single statement, so
// concurrent edits of different fields all land. Keys in unset are removed.
// distribution_order is never touched. A missing record returns nil, nil.
func (r *RecordRepositoryImpl) MergeData(ctx context.Context, id uint, set datatypes.JSONMap, unset []string) (datatypes.JSONMap, error) {
	if set == nil {
		set = datatypes.JSONMap{}
	}
	if unset == nil {
		unset = []string{}
	}

	var row struct {
		Data datatypes.JSONMap
	}
	var found bool
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Raw(
			`UPDATE records SET data = (COALESCE(data, '{}'::jsonb) || ?::jsonb) - ?::text[], updated_at = ? WHERE id = ? RETURNING data`,
			set, pq.StringArray(unset), utils.UTCNow(), id,
		).Scan(&row)
		if res.Error != nil {
			return res.Error
		}
		found = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if row.Data == nil {
		row.Data = datatypes.JSONMap{}
	}
	return row.Data, nil
}

func (r *RecordRepositoryImpl) ListByIDs(ctx context.Context, orgID uint, ids []uint) ([]*models.Record, error) {
	if len(ids) == 0 {
		return []*models.Record{}, nil
	}
	return r.ByFilter(ctx, models.RecordFilter{OrgID: &orgID, IDs: ids}, "id ASC", 0, 0)
}

func (r *RecordRepositoryImpl) applyFilter(db *gorm.DB, f models.RecordFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if len(f.IDs) > 0 {
		db = db.Where("id IN ?", f.IDs)
	}
	if f.OrgID != nil {
		db = db.Where("org_id = ?", *f.OrgID)
	}
	if f.PartitionID != nil {
		db = db.Where("partition_id = ?", *f.PartitionID)
	}
	return db
}

func (r *RecordRepositoryImpl) ByFilter(ctx context.Context, filter models.RecordFilter, orderBy string, limit, offset int) ([]*models.Record, error) {
	db := r.getDB(ctx)
	query := paginate(r.applyFilter(db.Model(&models.Record{}), filter), orderBy, limit, offset)
	var rows []*models.Record
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *RecordRepositoryImpl) Count(ctx context.Context, filter models.RecordFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Record{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *RecordRepositoryImpl) Exists(ctx context.Context, filter models.RecordFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
