package dto

import (
	"time"

	"github.com/amirphl/leadrelay/models"
)

// CreateMessageLinkRequest binds a partition to a message template and a firing rule
type CreateMessageLinkRequest struct {
	OrgID            uint                     `json:"-"`
	UserID           uint                     `json:"-"`
	PartitionID      uint                     `json:"-"`
	Name             string                   `json:"name" validate:"required,max=255"`
	Channel          string                   `json:"channel" validate:"required,oneof=chat email"`
	RecipientField   string                   `json:"recipientField" validate:"required,max=128"`
	TitleTemplate    string                   `json:"titleTemplate" validate:"omitempty,max=1000"`
	BodyTemplate     string                   `json:"bodyTemplate" validate:"required"`
	VariableMappings map[string]string        `json:"variableMappings,omitempty"`
	TriggerType      string                   `json:"triggerType" validate:"required,oneof=manual on_create on_update"`
	TriggerCondition *models.TriggerCondition `json:"triggerCondition,omitempty"`
	RepeatConfig     *models.RepeatConfig     `json:"repeatConfig,omitempty"`
	IsActive         *bool                    `json:"isActive,omitempty"`
}

// UpdateMessageLinkRequest changes the provided fields of a link
type UpdateMessageLinkRequest struct {
	OrgID            uint                     `json:"-"`
	UserID           uint                     `json:"-"`
	LinkID           uint                     `json:"-"`
	Name             *string                  `json:"name,omitempty" validate:"omitempty,max=255"`
	Channel          *string                  `json:"channel,omitempty" validate:"omitempty,oneof=chat email"`
	RecipientField   *string                  `json:"recipientField,omitempty" validate:"omitempty,max=128"`
	TitleTemplate    *string                  `json:"titleTemplate,omitempty" validate:"omitempty,max=1000"`
	BodyTemplate     *string                  `json:"bodyTemplate,omitempty"`
	VariableMappings map[string]string        `json:"variableMappings,omitempty"`
	TriggerType      *string                  `json:"triggerType,omitempty" validate:"omitempty,oneof=manual on_create on_update"`
	TriggerCondition *models.TriggerCondition `json:"triggerCondition,omitempty"`
	RepeatConfig     *models.RepeatConfig     `json:"repeatConfig,omitempty"`
	IsActive         *bool                    `json:"isActive,omitempty"`
}

// MessageLinkResponse is the API view of a message link
type MessageLinkResponse struct {
	ID               uint                    `json:"id"`
	PartitionID      uint                    `json:"partitionId"`
	Name             string                  `json:"name"`
	Channel          string                  `json:"channel"`
	RecipientField   string                  `json:"recipientField"`
	TitleTemplate    string                  `json:"titleTemplate"`
	BodyTemplate     string                  `json:"bodyTemplate"`
	VariableMappings map[string]string       `json:"variableMappings"`
	TriggerType      string                  `json:"triggerType"`
	TriggerCondition models.TriggerCondition `json:"triggerCondition"`
	RepeatConfig     models.RepeatConfig     `json:"repeatConfig"`
	IsActive         bool                    `json:"isActive"`
	CreatedAt        time.Time               `json:"createdAt"`
	UpdatedAt        time.Time               `json:"updatedAt"`
}

// ListMessageLinksResponse lists the links of a partition
type ListMessageLinksResponse struct {
	Items []MessageLinkResponse `json:"items"`
}
