package dto

import "time"

// CreateRecordRequest inserts a record into a partition
type CreateRecordRequest struct {
	OrgID       uint           `json:"-"`
	PartitionID uint           `json:"-"`
	SessionID   string         `json:"-"`
	Data        map[string]any `json:"data" validate:"required"`
}

// UpdateRecordRequest merges Data into the stored record fields. A null value clears a field.
type UpdateRecordRequest struct {
	OrgID     uint           `json:"-"`
	RecordID  uint           `json:"-"`
	SessionID string         `json:"-"`
	Data      map[string]any `json:"data" validate:"required"`
}

// RecordResponse is the API view of a record
type RecordResponse struct {
	ID                uint           `json:"id"`
	PartitionID       uint           `json:"partitionId"`
	Data              map[string]any `json:"data"`
	DistributionOrder *int           `json:"distributionOrder"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	// NotificationQueued is false when trigger evaluation could not be scheduled
	NotificationQueued bool `json:"notificationQueued"`
}
