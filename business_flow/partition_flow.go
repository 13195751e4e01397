package businessflow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/amirphl/leadrelay/app/dto"
	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/repository"
	"github.com/amirphl/leadrelay/utils"
	"gorm.io/datatypes"
)

// PartitionFlow manages partitions and their distribution settings
type PartitionFlow interface {
	CreatePartition(ctx context.Context, req *dto.CreatePartitionRequest, metadata *ClientMetadata) (*dto.PartitionResponse, error)
	GetPartition(ctx context.Context, orgID, partitionID uint) (*dto.PartitionResponse, error)
	UpdateDistribution(ctx context.Context, req *dto.UpdateDistributionRequest, metadata *ClientMetadata) (*dto.PartitionResponse, error)
}

// PartitionFlowImpl implements PartitionFlow
type PartitionFlowImpl struct {
	partitionRepo repository.PartitionRepository
	auditRepo     repository.AuditLogRepository
}

func NewPartitionFlow(partitionRepo repository.PartitionRepository, auditRepo repository.AuditLogRepository) PartitionFlow {
	return &PartitionFlowImpl{partitionRepo: partitionRepo, auditRepo: auditRepo}
}

func (f *PartitionFlowImpl) CreatePartition(ctx context.Context, req *dto.CreatePartitionRequest, metadata *ClientMetadata) (*dto.PartitionResponse, error) {
	maxOrder := req.MaxDistributionOrder
	if maxOrder == 0 {
		maxOrder = 1
	}
	if err := validateDistribution(maxOrder, req.DistributionDefaults); err != nil {
		return nil, err
	}

	partition := &models.Partition{
		OrgID:                req.OrgID,
		Name:                 req.Name,
		UseDistributionOrder: req.UseDistributionOrder,
		MaxDistributionOrder: maxOrder,
		DistributionDefaults: datatypes.NewJSONType(req.DistributionDefaults),
	}
	if err := f.partitionRepo.Save(ctx, partition); err != nil {
		errMsg := err.Error()
		_ = createAuditLog(ctx, f.auditRepo, req.OrgID, req.UserID, models.AuditActionPartitionCreated, "Partition creation failed", false, &errMsg, nil, metadata)
		return nil, NewBusinessError("PARTITION_CREATION_FAILED", "Failed to create partition", err)
	}

	_ = createAuditLog(ctx, f.auditRepo, req.OrgID, req.UserID, models.AuditActionPartitionCreated,
		fmt.Sprintf("Partition %d created", partition.ID), true, nil, nil, metadata)
	return toPartitionResponse(partition), nil
}

func (f *PartitionFlowImpl) GetPartition(ctx context.Context, orgID, partitionID uint) (*dto.PartitionResponse, error) {
	partition, err := f.getPartition(ctx, orgID, partitionID)
	if err != nil {
		return nil, err
	}
	return toPartitionResponse(partition), nil
}

// UpdateDistribution keeps lastAssignedOrder; the next allocation wraps when max shrank below it
func (f *PartitionFlowImpl) UpdateDistribution(ctx context.Context, req *dto.UpdateDistributionRequest, metadata *ClientMetadata) (*dto.PartitionResponse, error) {
	partition, err := f.getPartition(ctx, req.OrgID, req.PartitionID)
	if err != nil {
		return nil, err
	}
	if err := validateDistribution(req.MaxDistributionOrder, req.DistributionDefaults); err != nil {
		return nil, err
	}

	if err := f.partitionRepo.UpdateDistribution(ctx, partition.ID, req.UseDistributionOrder, req.MaxDistributionOrder, req.DistributionDefaults); err != nil {
		errMsg := err.Error()
		_ = createAuditLog(ctx, f.auditRepo, req.OrgID, req.UserID, models.AuditActionDistributionUpdated,
			fmt.Sprintf("Distribution update of partition %d failed", partition.ID), false, &errMsg, nil, metadata)
		return nil, NewBusinessError("DISTRIBUTION_UPDATE_FAILED", "Failed to update distribution", err)
	}

	_ = createAuditLog(ctx, f.auditRepo, req.OrgID, req.UserID, models.AuditActionDistributionUpdated,
		fmt.Sprintf("Distribution of partition %d updated", partition.ID), true, nil,
		map[string]any{"maxDistributionOrder": req.MaxDistributionOrder, "useDistributionOrder": req.UseDistributionOrder}, metadata)

	partition.UseDistributionOrder = req.UseDistributionOrder
	partition.MaxDistributionOrder = req.MaxDistributionOrder
	partition.DistributionDefaults = datatypes.NewJSONType(req.DistributionDefaults)
	partition.UpdatedAt = utils.UTCNow()
	return toPartitionResponse(partition), nil
}

func (f *PartitionFlowImpl) getPartition(ctx context.Context, orgID, partitionID uint) (*models.Partition, error) {
	partition, err := f.partitionRepo.ByID(ctx, partitionID)
	if err != nil {
		return nil, NewBusinessError("PARTITION_LOOKUP_FAILED", "Failed to load partition", err)
	}
	if partition == nil || partition.OrgID != orgID {
		return nil, ErrPartitionNotFound
	}
	return partition, nil
}

// validateDistribution requires 1 <= max <= 99 and default slots inside 1..max
func validateDistribution(maxOrder int, defaults models.DistributionDefaults) error {
	if maxOrder < 1 || maxOrder > utils.MaxDistributionOrder {
		return fmt.Errorf("%w: maxDistributionOrder must be between 1 and %d", ErrInvalidDistributionConfig, utils.MaxDistributionOrder)
	}
	for slot := range defaults {
		n, err := strconv.Atoi(slot)
		if err != nil || n < 1 || n > maxOrder {
			return fmt.Errorf("%w: distributionDefaults slot %q is outside 1..%d", ErrInvalidDistributionConfig, slot, maxOrder)
		}
	}
	return nil
}
