package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// SendLogStatus enumerates the lifecycle of one dispatch attempt
type SendLogStatus string

const (
	SendLogStatusPending  SendLogStatus = "pending"
	SendLogStatusSent     SendLogStatus = "sent"
	SendLogStatusFailed   SendLogStatus = "failed"
	SendLogStatusRejected SendLogStatus = "rejected"
)

func (s SendLogStatus) String() string { return string(s) }

// Valid checks if the status is known
func (s SendLogStatus) Valid() bool {
	switch s {
	case SendLogStatusPending, SendLogStatusSent, SendLogStatusFailed, SendLogStatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed
func (s SendLogStatus) IsTerminal() bool {
	return s == SendLogStatusSent || s == SendLogStatusFailed || s == SendLogStatusRejected
}

// Scan implements the sql.Scanner interface for SendLogStatus
func (s *SendLogStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = SendLogStatus(v)
	case []byte:
		*s = SendLogStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into SendLogStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for SendLogStatus
func (s SendLogStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid SendLogStatus: %s", s)
	}
	return string(s), nil
}

// Local result codes written without a provider round trip
const (
	ResultCodeRecipientMissing = "RECIPIENT_MISSING"
	ResultCodeRecipientInvalid = "RECIPIENT_INVALID"
	ResultCodeProviderError    = "PROVIDER_ERROR"
	ResultCodeProviderTimeout  = "PROVIDER_TIMEOUT"
	ResultCodeOrphanedPending  = "ORPHANED_PENDING"
)

// SendLog is one dispatch attempt of a message link for a record.
// Rows are append-only except for the pending to terminal transition.
type SendLog struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	OrgID             uint          `gorm:"not null;index:idx_send_logs_org_status,priority:1" json:"orgId"`
	Channel           Channel       `gorm:"type:message_channel;not null" json:"channel"`
	LinkID            uint          `gorm:"not null;index:idx_send_logs_link_record,priority:1" json:"linkId"`
	RecordID          uint          `gorm:"not null;index:idx_send_logs_link_record,priority:2" json:"recordId"`
	Recipient         string        `gorm:"size:255" json:"recipient"`
	RenderedTitle     string        `gorm:"type:text" json:"renderedTitle"`
	Status            SendLogStatus `gorm:"type:send_log_status;not null;default:'pending';index:idx_send_logs_org_status,priority:2" json:"status"`
	OccurrenceKey     string        `gorm:"size:80;not null" json:"occurrenceKey"`
	ProviderRequestID *string       `gorm:"size:128;index:idx_send_logs_provider_request_id" json:"providerRequestId,omitempty"`
	ResultCode        *string       `gorm:"size:64" json:"resultCode,omitempty"`
	ResultMessage     *string       `gorm:"type:text" json:"resultMessage,omitempty"`
	SentAt            *time.Time    `json:"sentAt,omitempty"`
	CompletedAt       *time.Time    `json:"completedAt,omitempty"`
	LastPolledAt      *time.Time    `json:"lastPolledAt,omitempty"`
	CreatedAt         time.Time     `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"createdAt"`
	UpdatedAt         time.Time     `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updatedAt"`
}

func (SendLog) TableName() string { return "send_logs" }

// IsTerminal reports whether the log has reached a final status
func (l *SendLog) IsTerminal() bool {
	return l.Status.IsTerminal()
}

// SendLogFilter provides filter fields for repository queries
type SendLogFilter struct {
	ID            *uint
	IDs           []uint
	OrgID         *uint
	LinkID        *uint
	RecordID      *uint
	Channel       *Channel
	Status        *SendLogStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// SendLogTransition is a terminal update applied to a pending log
type SendLogTransition struct {
	Status            SendLogStatus
	ProviderRequestID *string
	ResultCode        *string
	ResultMessage     *string
	CompletedAt       time.Time
}
