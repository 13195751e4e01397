package businessflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirphl/leadrelay/app/dto"
	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/repository"
	"github.com/amirphl/leadrelay/utils"
	"gorm.io/datatypes"
)

// MessageLinkFlow manages message links. Conditions and repeat policies are validated here, once.
type MessageLinkFlow interface {
	CreateMessageLink(ctx context.Context, req *dto.CreateMessageLinkRequest, metadata *ClientMetadata) (*dto.MessageLinkResponse, error)
	UpdateMessageLink(ctx context.Context, req *dto.UpdateMessageLinkRequest, metadata *ClientMetadata) (*dto.MessageLinkResponse, error)
	ListMessageLinks(ctx context.Context, orgID, partitionID uint) (*dto.ListMessageLinksResponse, error)
}

// MessageLinkFlowImpl implements MessageLinkFlow
type MessageLinkFlowImpl struct {
	partitionRepo repository.PartitionRepository
	linkRepo      repository.MessageLinkRepository
	auditRepo     repository.AuditLogRepository
}

func NewMessageLinkFlow(partitionRepo repository.PartitionRepository, linkRepo repository.MessageLinkRepository, auditRepo repository.AuditLogRepository) MessageLinkFlow {
	return &MessageLinkFlowImpl{partitionRepo: partitionRepo, linkRepo: linkRepo, auditRepo: auditRepo}
}

func (f *MessageLinkFlowImpl) CreateMessageLink(ctx context.Context, req *dto.CreateMessageLinkRequest, metadata *ClientMetadata) (*dto.MessageLinkResponse, error) {
	partition, err := f.partitionRepo.ByID(ctx, req.PartitionID)
	if err != nil {
		return nil, NewBusinessError("PARTITION_LOOKUP_FAILED", "Failed to load partition", err)
	}
	if partition == nil || partition.OrgID != req.OrgID {
		return nil, ErrPartitionNotFound
	}

	link := &models.MessageLink{
		OrgID:            req.OrgID,
		PartitionID:      partition.ID,
		Name:             strings.TrimSpace(req.Name),
		Channel:          models.Channel(req.Channel),
		RecipientField:   strings.TrimSpace(req.RecipientField),
		TitleTemplate:    req.TitleTemplate,
		BodyTemplate:     req.BodyTemplate,
		VariableMappings: datatypes.NewJSONType(req.VariableMappings),
		TriggerType:      models.TriggerType(req.TriggerType),
		IsActive:         utils.ToPtr(true),
	}
	if req.TriggerCondition != nil {
		link.TriggerCondition = *req.TriggerCondition
	}
	if req.RepeatConfig != nil {
		link.RepeatConfig = *req.RepeatConfig
	}
	if req.IsActive != nil {
		link.IsActive = utils.ToPtr(*req.IsActive)
	}

	if err := validateMessageLink(link); err != nil {
		return nil, err
	}

	if err := f.linkRepo.Save(ctx, link); err != nil {
		errMsg := err.Error()
		_ = createAuditLog(ctx, f.auditRepo, req.OrgID, req.UserID, models.AuditActionMessageLinkCreated, "Message link creation failed", false, &errMsg, nil, metadata)
		return nil, NewBusinessError("MESSAGE_LINK_CREATION_FAILED", "Failed to create message link", err)
	}

	_ = createAuditLog(ctx, f.auditRepo, req.OrgID, req.UserID, models.AuditActionMessageLinkCreated,
		fmt.Sprintf("Message link %d created", link.ID), true, nil,
		map[string]any{"partitionId": link.PartitionID, "triggerType": link.TriggerType.String(), "channel": link.Channel.String()}, metadata)

	resp := toMessageLinkResponse(link)
	return &resp, nil
}

func (f *MessageLinkFlowImpl) UpdateMessageLink(ctx context.Context, req *dto.UpdateMessageLinkRequest, metadata *ClientMetadata) (*dto.MessageLinkResponse, error) {
	link, err := f.linkRepo.ByID(ctx, req.LinkID)
	if err != nil {
		return nil, NewBusinessError("MESSAGE_LINK_LOOKUP_FAILED", "Failed to load message link", err)
	}
	if link == nil || link.OrgID != req.OrgID {
		return nil, ErrMessageLinkNotFound
	}

	if req.Name != nil {
		link.Name = strings.TrimSpace(*req.Name)
	}
	if req.Channel != nil {
		link.Channel = models.Channel(*req.Channel)
	}
	if req.RecipientField != nil {
		link.RecipientField = strings.TrimSpace(*req.RecipientField)
	}
	if req.TitleTemplate != nil {
		link.TitleTemplate = *req.TitleTemplate
	}
	if req.BodyTemplate != nil {
		link.BodyTemplate = *req.BodyTemplate
	}
	if req.VariableMappings != nil {
		link.VariableMappings = datatypes.NewJSONType(req.VariableMappings)
	}
	if req.TriggerType != nil {
		link.TriggerType = models.TriggerType(*req.TriggerType)
	}
	if req.TriggerCondition != nil {
		link.TriggerCondition = *req.TriggerCondition
	}
	if req.RepeatConfig != nil {
		link.RepeatConfig = *req.RepeatConfig
	}
	if req.IsActive != nil {
		link.IsActive = utils.ToPtr(*req.IsActive)
	}

	if err := validateMessageLink(link); err != nil {
		return nil, err
	}

	if err := f.linkRepo.Update(ctx, link); err != nil {
		errMsg := err.Error()
		_ = createAuditLog(ctx, f.auditRepo, req.OrgID, req.UserID, models.AuditActionMessageLinkUpdated,
			fmt.Sprintf("Message link %d update failed", link.ID), false, &errMsg, nil, metadata)
		return nil, NewBusinessError("MESSAGE_LINK_UPDATE_FAILED", "Failed to update message link", err)
	}

	_ = createAuditLog(ctx, f.auditRepo, req.OrgID, req.UserID, models.AuditActionMessageLinkUpdated,
		fmt.Sprintf("Message link %d updated", link.ID), true, nil, nil, metadata)

	resp := toMessageLinkResponse(link)
	return &resp, nil
}

func (f *MessageLinkFlowImpl) ListMessageLinks(ctx context.Context, orgID, partitionID uint) (*dto.ListMessageLinksResponse, error) {
	partition, err := f.partitionRepo.ByID(ctx, partitionID)
	if err != nil {
		return nil, NewBusinessError("PARTITION_LOOKUP_FAILED", "Failed to load partition", err)
	}
	if partition == nil || partition.OrgID != orgID {
		return nil, ErrPartitionNotFound
	}

	links, err := f.linkRepo.ByFilter(ctx, models.MessageLinkFilter{OrgID: &orgID, PartitionID: &partitionID}, "id ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("MESSAGE_LINK_LIST_FAILED", "Failed to list message links", err)
	}

	items := make([]dto.MessageLinkResponse, 0, len(links))
	for _, l := range links {
		items = append(items, toMessageLinkResponse(l))
	}
	return &dto.ListMessageLinksResponse{Items: items}, nil
}

// validateMessageLink parses the loosely typed parts of a link into their tagged forms
func validateMessageLink(link *models.MessageLink) error {
	if !link.Channel.Valid() {
		return ErrInvalidChannel
	}
	if !link.TriggerType.Valid() {
		return ErrInvalidTriggerType
	}
	if link.RecipientField == "" {
		return ErrRecipientFieldNeeded
	}
	if strings.TrimSpace(link.BodyTemplate) == "" {
		return ErrBodyTemplateRequired
	}
	if err := link.TriggerCondition.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	if err := link.RepeatConfig.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRepeatConfig, err)
	}
	for placeholder, field := range link.Mappings() {
		if strings.TrimSpace(placeholder) == "" || strings.TrimSpace(field) == "" {
			return fmt.Errorf("%w: each mapping needs a placeholder and a field", ErrInvalidMappings)
		}
	}
	return nil
}
