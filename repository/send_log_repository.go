package repository

import (
	"context"
	"time"

	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SendLogRepositoryImpl implements SendLogRepository
type SendLogRepositoryImpl struct {
	*BaseRepository[models.SendLog, models.SendLogFilter]
}

func NewSendLogRepository(db *gorm.DB) SendLogRepository {
	return &SendLogRepositoryImpl{BaseRepository: NewBaseRepository[models.SendLog, models.SendLogFilter](db)}
}

// InsertPending relies on the partial unique index
// uk_send_logs_occurrence (link_id, record_id, occurrence_key) WHERE status <> 'failed'.
func (r *SendLogRepositoryImpl) InsertPending(ctx context.Context, log *models.SendLog) (bool, error) {
	log.Status = models.SendLogStatusPending
	var inserted bool
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Clauses(clause.OnConflict{
			Columns:     []clause.Column{{Name: "link_id"}, {Name: "record_id"}, {Name: "occurrence_key"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "status <> 'failed'"}}},
			DoNothing:   true,
		}).Create(log)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (r *SendLogRepositoryImpl) ExistsNonFailed(ctx context.Context, linkID, recordID uint, since *time.Time) (bool, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.SendLog{}).
		Where("link_id = ? AND record_id = ?", linkID, recordID).
		Where("status <> ?", models.SendLogStatusFailed)
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}
	var count int64
	if err := query.Limit(1).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListPending returns pending logs that carry a provider request id, least
// recently polled first so a batch of long-running deliveries cannot pin the queue.
func (r *SendLogRepositoryImpl) ListPending(ctx context.Context, orgID uint, ids []uint, limit int) ([]*models.SendLog, error) {
	pending := models.SendLogStatusPending
	filter := models.SendLogFilter{OrgID: &orgID, IDs: ids, Status: &pending}
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.SendLog{}), filter).
		Where("provider_request_id IS NOT NULL")
	var rows []*models.SendLog
	if err := paginate(query, "last_polled_at ASC NULLS FIRST, id ASC", limit, 0).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SendLogRepositoryImpl) MarkPolled(ctx context.Context, ids []uint, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.SendLog{}).
			Where("id IN ? AND status = ?", ids, models.SendLogStatusPending).
			Update("last_polled_at", at).Error
	})
}

// ListOrphans returns pending logs that never received a provider request id
func (r *SendLogRepositoryImpl) ListOrphans(ctx context.Context, orgID uint, olderThan time.Time, limit int) ([]*models.SendLog, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.SendLog{}).
		Where("org_id = ? AND status = ?", orgID, models.SendLogStatusPending).
		Where("provider_request_id IS NULL AND created_at < ?", olderThan)
	var rows []*models.SendLog
	if err := paginate(query, "id ASC", limit, 0).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SendLogRepositoryImpl) DistinctPendingOrgs(ctx context.Context, limit int) ([]uint, error) {
	db := r.getDB(ctx)
	var orgIDs []uint
	query := db.Model(&models.SendLog{}).
		Where("status = ?", models.SendLogStatusPending).
		Distinct("org_id").
		Order("org_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("org_id", &orgIDs).Error; err != nil {
		return nil, err
	}
	return orgIDs, nil
}

func (r *SendLogRepositoryImpl) RecordAck(ctx context.Context, id uint, providerRequestID string, sentAt time.Time) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.SendLog{}).
			Where("id = ? AND status = ?", id, models.SendLogStatusPending).
			Updates(map[string]any{
				"provider_request_id": providerRequestID,
				"sent_at":             sentAt,
				"updated_at":          utils.UTCNow(),
			}).Error
	})
}

func (r *SendLogRepositoryImpl) TransitionIfPending(ctx context.Context, id uint, tr models.SendLogTransition) (bool, error) {
	updates := map[string]any{
		"status":         tr.Status,
		"result_code":    tr.ResultCode,
		"result_message": tr.ResultMessage,
		"completed_at":   tr.CompletedAt,
		"updated_at":     utils.UTCNow(),
	}
	if tr.ProviderRequestID != nil {
		updates["provider_request_id"] = *tr.ProviderRequestID
	}
	if tr.Status == models.SendLogStatusSent {
		updates["sent_at"] = gorm.Expr("COALESCE(sent_at, ?)", tr.CompletedAt)
	}

	var changed bool
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.SendLog{}).
			Where("id = ? AND status = ?", id, models.SendLogStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (r *SendLogRepositoryImpl) applyFilter(db *gorm.DB, f models.SendLogFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if len(f.IDs) > 0 {
		db = db.Where("id IN ?", f.IDs)
	}
	if f.OrgID != nil {
		db = db.Where("org_id = ?", *f.OrgID)
	}
	if f.LinkID != nil {
		db = db.Where("link_id = ?", *f.LinkID)
	}
	if f.RecordID != nil {
		db = db.Where("record_id = ?", *f.RecordID)
	}
	if f.Channel != nil {
		db = db.Where("channel = ?", *f.Channel)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *SendLogRepositoryImpl) ByFilter(ctx context.Context, filter models.SendLogFilter, orderBy string, limit, offset int) ([]*models.SendLog, error) {
	db := r.getDB(ctx)
	query := paginate(r.applyFilter(db.Model(&models.SendLog{}), filter), orderBy, limit, offset)
	var rows []*models.SendLog
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SendLogRepositoryImpl) Count(ctx context.Context, filter models.SendLogFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.SendLog{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SendLogRepositoryImpl) Exists(ctx context.Context, filter models.SendLogFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
