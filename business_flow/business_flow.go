package businessflow

import (
	"context"

	"github.com/amirphl/leadrelay/app/dto"
	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/repository"
	"github.com/amirphl/leadrelay/utils"
	"gorm.io/gorm"
)

// ClientMetadata holds client-related information for audit logging
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// SetSessionID sets the session ID
func (cm *ClientMetadata) SetSessionID(sessionID string) {
	cm.SessionID = sessionID
}

// TxRunner runs fn inside one database transaction carried by ctx
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// NewGormTxRunner returns a TxRunner backed by repository.WithTransaction
func NewGormTxRunner(db *gorm.DB) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return repository.WithTransaction(ctx, db, fn)
	}
}

// createAuditLog stores an audit row. Callers ignore its error.
func createAuditLog(ctx context.Context, auditRepo repository.AuditLogRepository, orgID, userID uint, action, description string, success bool, errorMsg *string, extra map[string]any, metadata *ClientMetadata) error {
	if auditRepo == nil {
		return nil
	}

	var uid *uint
	if userID != 0 {
		uid = &userID
	}

	audit := &models.AuditLog{
		OrgID:        orgID,
		UserID:       uid,
		Action:       action,
		Description:  &description,
		Success:      utils.ToPtr(success),
		ErrorMessage: errorMsg,
		Metadata:     extra,
	}
	if metadata != nil && metadata.IPAddress != "" {
		audit.IPAddress = &metadata.IPAddress
	}

	// Extract request ID from context if available
	if requestID, ok := ctx.Value(utils.RequestIDKey).(string); ok && requestID != "" {
		audit.RequestID = &requestID
	} else if metadata != nil && metadata.RequestID != "" {
		audit.RequestID = &metadata.RequestID
	}

	return auditRepo.Save(context.WithoutCancel(ctx), audit)
}

func toPartitionResponse(p *models.Partition) *dto.PartitionResponse {
	defaults := p.DistributionDefaults.Data()
	if defaults == nil {
		defaults = models.DistributionDefaults{}
	}
	return &dto.PartitionResponse{
		ID:                   p.ID,
		Name:                 p.Name,
		UseDistributionOrder: p.UseDistributionOrder,
		MaxDistributionOrder: p.MaxDistributionOrder,
		LastAssignedOrder:    p.LastAssignedOrder,
		DistributionDefaults: defaults,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

func toRecordResponse(r *models.Record) *dto.RecordResponse {
	data := map[string]any(r.Data)
	if data == nil {
		data = map[string]any{}
	}
	return &dto.RecordResponse{
		ID:                r.ID,
		PartitionID:       r.PartitionID,
		Data:              data,
		DistributionOrder: r.DistributionOrder,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func toMessageLinkResponse(l *models.MessageLink) dto.MessageLinkResponse {
	return dto.MessageLinkResponse{
		ID:               l.ID,
		PartitionID:      l.PartitionID,
		Name:             l.Name,
		Channel:          l.Channel.String(),
		RecipientField:   l.RecipientField,
		TitleTemplate:    l.TitleTemplate,
		BodyTemplate:     l.BodyTemplate,
		VariableMappings: l.Mappings(),
		TriggerType:      l.TriggerType.String(),
		TriggerCondition: l.TriggerCondition,
		RepeatConfig:     l.RepeatConfig,
		IsActive:         utils.IsTrue(l.IsActive),
		CreatedAt:        l.CreatedAt,
		UpdatedAt:        l.UpdatedAt,
	}
}

func toSendLogItem(l *models.SendLog) dto.SendLogItem {
	return dto.SendLogItem{
		ID:                l.ID,
		Channel:           l.Channel.String(),
		LinkID:            l.LinkID,
		RecordID:          l.RecordID,
		Recipient:         l.Recipient,
		RenderedTitle:     l.RenderedTitle,
		Status:            l.Status.String(),
		ProviderRequestID: l.ProviderRequestID,
		ResultCode:        l.ResultCode,
		ResultMessage:     l.ResultMessage,
		SentAt:            l.SentAt,
		CompletedAt:       l.CompletedAt,
		CreatedAt:         l.CreatedAt,
	}
}
