package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records administrative actions taken on the notification subsystem
type AuditLog struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	OrgID        uint              `gorm:"not null;index:idx_audit_org_id" json:"orgId"`
	UserID       *uint             `gorm:"index:idx_audit_user_id" json:"userId,omitempty"`
	Action       string            `gorm:"type:audit_action_enum;not null;index:idx_audit_action" json:"action"`
	Description  *string           `gorm:"type:text" json:"description,omitempty"`
	IPAddress    *string           `gorm:"type:inet" json:"ipAddress,omitempty"`
	RequestID    *string           `gorm:"size:255;index:idx_audit_request_id" json:"requestId,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	Success      *bool             `gorm:"default:true;index:idx_audit_success" json:"success"`
	ErrorMessage *string           `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt    time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_audit_created_at" json:"createdAt"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}

// Audit action constants
const (
	AuditActionPartitionCreated    = "partition_created"
	AuditActionDistributionUpdated = "distribution_updated"
	AuditActionMessageLinkCreated  = "message_link_created"
	AuditActionMessageLinkUpdated  = "message_link_updated"
	AuditActionManualSend          = "manual_send"
	AuditActionReconcileRequested  = "reconcile_requested"
)

// AuditLogFilter represents filter criteria for audit log queries
type AuditLogFilter struct {
	ID            *uint
	OrgID         *uint
	UserID        *uint
	Action        *string
	Success       *bool
	RequestID     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *AuditLog) IsFailed() bool {
	return a.Success != nil && !*a.Success
}
