// Package models contains domain entities for partitions, records, message links and send logs
package models

import (
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// DistributionDefaults maps a distribution slot ("1".."99") to the field values
// a record assigned to that slot starts with.
type DistributionDefaults map[string]map[string]any

// ForOrder returns the defaults configured for the given slot, or an empty map
func (d DistributionDefaults) ForOrder(order int) map[string]any {
	out := make(map[string]any)
	if d == nil {
		return out
	}
	for k, v := range d[strconv.Itoa(order)] {
		out[k] = v
	}
	return out
}

// Partition is a named bucket of records inside one organization. It owns the
// round-robin distribution counter.
type Partition struct {
	ID                   uint                                     `gorm:"primaryKey" json:"id"`
	OrgID                uint                                     `gorm:"not null;index:idx_partitions_org_id" json:"orgId"`
	Name                 string                                   `gorm:"size:255;not null" json:"name"`
	UseDistributionOrder bool                                     `gorm:"not null;default:false" json:"useDistributionOrder"`
	MaxDistributionOrder int                                      `gorm:"not null;default:1" json:"maxDistributionOrder"`
	LastAssignedOrder    int                                      `gorm:"not null;default:0" json:"lastAssignedOrder"`
	DistributionDefaults datatypes.JSONType[DistributionDefaults] `gorm:"type:jsonb" json:"distributionDefaults"`
	CreatedAt            time.Time                                `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"createdAt"`
	UpdatedAt            time.Time                                `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updatedAt"`
}

func (Partition) TableName() string { return "partitions" }

// PartitionFilter provides filter fields for repository queries
type PartitionFilter struct {
	ID    *uint
	OrgID *uint
	Name  *string
}
