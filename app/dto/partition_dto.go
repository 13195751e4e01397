package dto

import (
	"time"

	"github.com/amirphl/leadrelay/models"
)

// CreatePartitionRequest creates a record bucket with its distribution settings
type CreatePartitionRequest struct {
	OrgID                uint                        `json:"-"`
	UserID               uint                        `json:"-"`
	Name                 string                      `json:"name" validate:"required,max=255"`
	UseDistributionOrder bool                        `json:"useDistributionOrder"`
	MaxDistributionOrder int                         `json:"maxDistributionOrder" validate:"omitempty,min=1,max=99"`
	DistributionDefaults models.DistributionDefaults `json:"distributionDefaults,omitempty"`
}

// UpdateDistributionRequest replaces the distribution settings of a partition.
// lastAssignedOrder is never reset; a smaller max simply wraps on the next allocation.
type UpdateDistributionRequest struct {
	OrgID                uint                        `json:"-"`
	UserID               uint                        `json:"-"`
	PartitionID          uint                        `json:"-"`
	UseDistributionOrder bool                        `json:"useDistributionOrder"`
	MaxDistributionOrder int                         `json:"maxDistributionOrder" validate:"required,min=1,max=99"`
	DistributionDefaults models.DistributionDefaults `json:"distributionDefaults,omitempty"`
}

// PartitionResponse is the API view of a partition
type PartitionResponse struct {
	ID                   uint                        `json:"id"`
	Name                 string                      `json:"name"`
	UseDistributionOrder bool                        `json:"useDistributionOrder"`
	MaxDistributionOrder int                         `json:"maxDistributionOrder"`
	LastAssignedOrder    int                         `json:"lastAssignedOrder"`
	DistributionDefaults models.DistributionDefaults `json:"distributionDefaults"`
	CreatedAt            time.Time                   `json:"createdAt"`
	UpdatedAt            time.Time                   `json:"updatedAt"`
}
