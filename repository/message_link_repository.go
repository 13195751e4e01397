package repository

import (
	"context"

	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/utils"
	"gorm.io/gorm"
)

// MessageLinkRepositoryImpl implements MessageLinkRepository
type MessageLinkRepositoryImpl struct {
	*BaseRepository[models.MessageLink, models.MessageLinkFilter]
}

func NewMessageLinkRepository(db *gorm.DB) MessageLinkRepository {
	return &MessageLinkRepositoryImpl{BaseRepository: NewBaseRepository[models.MessageLink, models.MessageLinkFilter](db)}
}

// ListActiveByTrigger returns the active links of a partition bound to the given trigger type
func (r *MessageLinkRepositoryImpl) ListActiveByTrigger(ctx context.Context, partitionID uint, triggerType models.TriggerType) ([]*models.MessageLink, error) {
	active := true
	filter := models.MessageLinkFilter{
		PartitionID: &partitionID,
		TriggerType: &triggerType,
		IsActive:    &active,
	}
	return r.ByFilter(ctx, filter, "id ASC", 0, 0)
}

// Update saves every column of the link
func (r *MessageLinkRepositoryImpl) Update(ctx context.Context, link *models.MessageLink) error {
	return r.write(ctx, func(db *gorm.DB) error {
		link.UpdatedAt = utils.UTCNow()
		return db.Save(link).Error
	})
}

func (r *MessageLinkRepositoryImpl) applyFilter(db *gorm.DB, f models.MessageLinkFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.OrgID != nil {
		db = db.Where("org_id = ?", *f.OrgID)
	}
	if f.PartitionID != nil {
		db = db.Where("partition_id = ?", *f.PartitionID)
	}
	if f.TriggerType != nil {
		db = db.Where("trigger_type = ?", *f.TriggerType)
	}
	if f.Channel != nil {
		db = db.Where("channel = ?", *f.Channel)
	}
	if f.IsActive != nil {
		db = db.Where("is_active = ?", *f.IsActive)
	}
	return db
}

func (r *MessageLinkRepositoryImpl) ByFilter(ctx context.Context, filter models.MessageLinkFilter, orderBy string, limit, offset int) ([]*models.MessageLink, error) {
	db := r.getDB(ctx)
	query := paginate(r.applyFilter(db.Model(&models.MessageLink{}), filter), orderBy, limit, offset)
	var rows []*models.MessageLink
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *MessageLinkRepositoryImpl) Count(ctx context.Context, filter models.MessageLinkFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.MessageLink{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *MessageLinkRepositoryImpl) Exists(ctx context.Context, filter models.MessageLinkFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
