package models

import (
	"time"

	"gorm.io/datatypes"
)

// Record is one sales record. DistributionOrder is assigned once at creation.
type Record struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	OrgID             uint              `gorm:"not null;index:idx_records_org_id" json:"orgId"`
	PartitionID       uint              `gorm:"not null;index:idx_records_partition_id" json:"partitionId"`
	Data              datatypes.JSONMap `gorm:"type:jsonb;not null" json:"data"`
	DistributionOrder *int              `gorm:"<-:create" json:"distributionOrder"`
	CreatedAt         time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_records_created_at" json:"createdAt"`
	UpdatedAt         time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updatedAt"`
}

func (Record) TableName() string { return "records" }

// Field returns the raw value stored under key, if any
func (r *Record) Field(key string) (any, bool) {
	if r == nil || r.Data == nil {
		return nil, false
	}
	v, ok := r.Data[key]
	return v, ok
}

// RecordFilter provides filter fields for repository queries
type RecordFilter struct {
	ID          *uint
	IDs         []uint
	OrgID       *uint
	PartitionID *uint
}
