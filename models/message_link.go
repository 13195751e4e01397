package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Channel identifies the outbound channel adapter
type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelEmail Channel = "email"
)

func (c Channel) String() string { return string(c) }

// Valid checks if the channel is known
func (c Channel) Valid() bool {
	switch c {
	case ChannelChat, ChannelEmail:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for Channel
func (c *Channel) Scan(value any) error {
	if value == nil {
		*c = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*c = Channel(v)
	case []byte:
		*c = Channel(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Channel", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for Channel
func (c Channel) Value() (driver.Value, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid Channel: %s", c)
	}
	return string(c), nil
}

// TriggerType decides when a link may fire
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeOnCreate TriggerType = "on_create"
	TriggerTypeOnUpdate TriggerType = "on_update"
)

func (t TriggerType) String() string { return string(t) }

// Valid checks if the trigger type is known
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerTypeManual, TriggerTypeOnCreate, TriggerTypeOnUpdate:
		return true
	default:
		return false
	}
}

// IsEvent reports whether t is a record event (not manual)
func (t TriggerType) IsEvent() bool {
	return t == TriggerTypeOnCreate || t == TriggerTypeOnUpdate
}

// Scan implements the sql.Scanner interface for TriggerType
func (t *TriggerType) Scan(value any) error {
	if value == nil {
		*t = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*t = TriggerType(v)
	case []byte:
		*t = TriggerType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into TriggerType", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for TriggerType
func (t TriggerType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid TriggerType: %s", t)
	}
	return string(t), nil
}

// MessageLink binds a partition to a message template and a firing rule
type MessageLink struct {
	ID               uint                                  `gorm:"primaryKey" json:"id"`
	OrgID            uint                                  `gorm:"not null;index:idx_message_links_org_id" json:"orgId"`
	PartitionID      uint                                  `gorm:"not null;index:idx_message_links_partition_trigger,priority:1" json:"partitionId"`
	Name             string                                `gorm:"size:255;not null" json:"name"`
	Channel          Channel                               `gorm:"type:message_channel;not null" json:"channel"`
	RecipientField   string                                `gorm:"size:128;not null" json:"recipientField"`
	TitleTemplate    string                                `gorm:"type:text" json:"titleTemplate"`
	BodyTemplate     string                                `gorm:"type:text;not null" json:"bodyTemplate"`
	VariableMappings datatypes.JSONType[map[string]string] `gorm:"type:jsonb" json:"variableMappings"`
	TriggerType      TriggerType                           `gorm:"type:message_trigger_type;not null;index:idx_message_links_partition_trigger,priority:2" json:"triggerType"`
	TriggerCondition TriggerCondition                      `gorm:"type:jsonb" json:"triggerCondition"`
	RepeatConfig     RepeatConfig                          `gorm:"type:jsonb" json:"repeatConfig"`
	IsActive         *bool                                 `gorm:"not null;default:true" json:"isActive"`
	CreatedAt        time.Time                             `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"createdAt"`
	UpdatedAt        time.Time                             `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updatedAt"`
}

func (MessageLink) TableName() string { return "message_links" }

// Mappings returns the placeholder to field-key mapping, never nil
func (l *MessageLink) Mappings() map[string]string {
	m := l.VariableMappings.Data()
	if m == nil {
		return map[string]string{}
	}
	return m
}

// EffectiveRepeatPolicy resolves the repeat policy, defaulting by trigger type
func (l *MessageLink) EffectiveRepeatPolicy() RepeatPolicy {
	if l.RepeatConfig.Policy != "" {
		return l.RepeatConfig.Policy
	}
	if l.TriggerType == TriggerTypeOnUpdate {
		return RepeatPolicyAlways
	}
	return RepeatPolicyOnce
}

// MessageLinkFilter provides filter fields for repository queries
type MessageLinkFilter struct {
	ID          *uint
	OrgID       *uint
	PartitionID *uint
	TriggerType *TriggerType
	Channel     *Channel
	IsActive    *bool
}
