package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ConditionOperator is the comparison applied by one condition clause
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorNotContains ConditionOperator = "not_contains"
	OperatorIsEmpty     ConditionOperator = "is_empty"
	OperatorIsNotEmpty  ConditionOperator = "is_not_empty"
	OperatorGreaterThan ConditionOperator = "gt"
	OperatorGreaterOrEq ConditionOperator = "gte"
	OperatorLessThan    ConditionOperator = "lt"
	OperatorLessOrEq    ConditionOperator = "lte"
)

// Valid checks if the operator is known
func (o ConditionOperator) Valid() bool {
	switch o {
	case OperatorEquals, OperatorNotEquals, OperatorContains, OperatorNotContains,
		OperatorIsEmpty, OperatorIsNotEmpty,
		OperatorGreaterThan, OperatorGreaterOrEq, OperatorLessThan, OperatorLessOrEq:
		return true
	default:
		return false
	}
}

// IsNumeric reports whether the operator compares numbers
func (o ConditionOperator) IsNumeric() bool {
	switch o {
	case OperatorGreaterThan, OperatorGreaterOrEq, OperatorLessThan, OperatorLessOrEq:
		return true
	default:
		return false
	}
}

// NeedsValue reports whether the clause must carry a comparison value
func (o ConditionOperator) NeedsValue() bool {
	return o != OperatorIsEmpty && o != OperatorIsNotEmpty
}

// ConditionMatch combines clause results
type ConditionMatch string

const (
	ConditionMatchAll ConditionMatch = "all"
	ConditionMatchAny ConditionMatch = "any"
)

// ConditionClause is one field/operator/value triple
type ConditionClause struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    string            `json:"value,omitempty"`
}

// TriggerCondition is the predicate a record must satisfy for a link to fire.
// The zero value has no clauses and always holds.
type TriggerCondition struct {
	Match   ConditionMatch    `json:"match,omitempty"`
	Clauses []ConditionClause `json:"clauses,omitempty"`
}

// IsZero reports whether the condition has no clauses
func (c TriggerCondition) IsZero() bool {
	return len(c.Clauses) == 0
}

// Validate checks the condition structure once, at save time
func (c TriggerCondition) Validate() error {
	if c.Match != "" && c.Match != ConditionMatchAll && c.Match != ConditionMatchAny {
		return fmt.Errorf("unknown condition match %q", c.Match)
	}
	for i, cl := range c.Clauses {
		if cl.Field == "" {
			return fmt.Errorf("clause %d: field is required", i)
		}
		if !cl.Operator.Valid() {
			return fmt.Errorf("clause %d: unknown operator %q", i, cl.Operator)
		}
		if cl.Operator.IsNumeric() {
			if _, err := decimal.NewFromString(strings.TrimSpace(cl.Value)); err != nil {
				return fmt.Errorf("clause %d: operator %s requires a numeric value", i, cl.Operator)
			}
		}
	}
	return nil
}

// Value implements the driver.Valuer interface; an empty condition is stored as NULL
func (c TriggerCondition) Value() (driver.Value, error) {
	if c.IsZero() {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface for TriggerCondition
func (c *TriggerCondition) Scan(value any) error {
	*c = TriggerCondition{}
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into TriggerCondition", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		return nil
	}
	return json.Unmarshal(bytes, c)
}

// RepeatPolicy decides whether a link may fire more than once per record
type RepeatPolicy string

const (
	RepeatPolicyOnce   RepeatPolicy = "once"
	RepeatPolicyAlways RepeatPolicy = "always"
)

// RepeatConfig is the recurrence policy of a link. The zero value defers to the
// trigger type default.
type RepeatConfig struct {
	Policy          RepeatPolicy `json:"policy,omitempty"`
	CooldownSeconds int          `json:"cooldownSeconds,omitempty"`
}

// IsZero reports whether no policy was configured
func (r RepeatConfig) IsZero() bool {
	return r.Policy == "" && r.CooldownSeconds == 0
}

// Validate checks the policy once, at save time
func (r RepeatConfig) Validate() error {
	switch r.Policy {
	case "", RepeatPolicyOnce, RepeatPolicyAlways:
	default:
		return fmt.Errorf("unknown repeat policy %q", r.Policy)
	}
	if r.CooldownSeconds < 0 {
		return fmt.Errorf("cooldownSeconds must not be negative")
	}
	if r.CooldownSeconds > 0 && r.Policy == RepeatPolicyOnce {
		return fmt.Errorf("cooldownSeconds only applies to the always policy")
	}
	return nil
}

// Value implements the driver.Valuer interface; an empty config is stored as NULL
func (r RepeatConfig) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface for RepeatConfig
func (r *RepeatConfig) Scan(value any) error {
	*r = RepeatConfig{}
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into RepeatConfig", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		return nil
	}
	return json.Unmarshal(bytes, r)
}
