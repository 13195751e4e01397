package dto

import "time"

// ManualSendRequest dispatches a manual link to a selection of records
type ManualSendRequest struct {
	OrgID     uint   `json:"-"`
	UserID    uint   `json:"-"`
	LinkID    uint   `json:"-"`
	RecordIDs []uint `json:"recordIds" validate:"required,min=1,dive,gt=0"`
}

// ManualSendItem is the outcome for one selected record
type ManualSendItem struct {
	RecordID   uint    `json:"recordId"`
	SendLogID  *uint   `json:"sendLogId,omitempty"`
	Status     string  `json:"status"`
	ResultCode *string `json:"resultCode,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ManualSendResponse aggregates per-record outcomes of a batch
type ManualSendResponse struct {
	Items   []ManualSendItem `json:"items"`
	Total   int              `json:"total"`
	Sent    int              `json:"sent"`
	Pending int              `json:"pending"`
	Failed  int              `json:"failed"`
	Skipped int              `json:"skipped"`
}

// ListSendLogsRequest filters send logs of an organization
type ListSendLogsRequest struct {
	OrgID     uint
	LinkID    *uint
	RecordID  *uint
	Status    *string `validate:"omitempty,oneof=pending sent failed rejected"`
	Channel   *string `validate:"omitempty,oneof=chat email"`
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	PageSize  int
}

// SendLogItem is the API view of a send log
type SendLogItem struct {
	ID                uint       `json:"id"`
	Channel           string     `json:"channel"`
	LinkID            uint       `json:"linkId"`
	RecordID          uint       `json:"recordId"`
	Recipient         string     `json:"recipient"`
	RenderedTitle     string     `json:"renderedTitle"`
	Status            string     `json:"status"`
	ProviderRequestID *string    `json:"providerRequestId,omitempty"`
	ResultCode        *string    `json:"resultCode,omitempty"`
	ResultMessage     *string    `json:"resultMessage,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// ListSendLogsResponse is a page of send logs
type ListSendLogsResponse struct {
	Items      []SendLogItem  `json:"items"`
	Pagination PaginationInfo `json:"pagination"`
}

// ReconcileRequest asks for an on-demand reconciliation, optionally of specific logs
type ReconcileRequest struct {
	OrgID  uint   `json:"-"`
	UserID uint   `json:"-"`
	LogIDs []uint `json:"logIds,omitempty" validate:"omitempty,max=100,dive,gt=0"`
}

// ReconcileResponse reports how many pending logs were checked and moved
type ReconcileResponse struct {
	Synced  int  `json:"synced"`
	Updated int  `json:"updated"`
	Skipped bool `json:"skipped"`
}
