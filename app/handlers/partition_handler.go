package handlers

import (
	"time"

	"github.com/amirphl/leadrelay/app/dto"
	"github.com/amirphl/leadrelay/app/realtime"
	businessflow "github.com/amirphl/leadrelay/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// PartitionHandlerInterface defines the contract for partition handlers
type PartitionHandlerInterface interface {
	Create(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	UpdateDistribution(c fiber.Ctx) error
	Events(c fiber.Ctx) error
}

// PartitionHandler handles partition-related HTTP requests
type PartitionHandler struct {
	baseHandler
	flow      businessflow.PartitionFlow
	hub       *realtime.Hub
	heartbeat time.Duration
}

// NewPartitionHandler creates a new partition handler
func NewPartitionHandler(flow businessflow.PartitionFlow, hub *realtime.Hub, heartbeat time.Duration) *PartitionHandler {
	return &PartitionHandler{
		baseHandler: newBaseHandler(),
		flow:        flow,
		hub:         hub,
		heartbeat:   heartbeat,
	}
}

// Create handles POST /api/v1/partitions
func (h *PartitionHandler) Create(c fiber.Ctx) error {
	var req dto.CreatePartitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	orgID, userID, ok := h.identity(c)
	if !ok {
		return h.unauthorized(c)
	}
	req.OrgID = orgID
	req.UserID = userID

	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.flow.CreatePartition(ctx, &req, h.metadata(c))
	if err != nil {
		return h.businessError(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Partition created successfully", result)
}

// Get handles GET /api/v1/partitions/:id
func (h *PartitionHandler) Get(c fiber.Ctx) error {
	orgID, _, ok := h.identity(c)
	if !ok {
		return h.unauthorized(c)
	}
	partitionID, err := h.idParam(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid partition id", "INVALID_PARTITION_ID", err.Error())
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.flow.GetPartition(ctx, orgID, partitionID)
	if err != nil {
		return h.businessError(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Partition retrieved successfully", result)
}

// UpdateDistribution handles PUT /api/v1/partitions/:id/distribution
func (h *PartitionHandler) UpdateDistribution(c fiber.Ctx) error {
	var req dto.UpdateDistributionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	orgID, userID, ok := h.identity(c)
	if !ok {
		return h.unauthorized(c)
	}
	partitionID, err := h.idParam(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid partition id", "INVALID_PARTITION_ID", err.Error())
	}
	req.OrgID = orgID
	req.UserID = userID
	req.PartitionID = partitionID

	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.flow.UpdateDistribution(ctx, &req, h.metadata(c))
	if err != nil {
		return h.businessError(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Distribution updated successfully", result)
}

// Events handles GET /api/v1/partitions/:id/events and streams record changes
// of the partition to the caller. Changes made with the same session id are not echoed back.
func (h *PartitionHandler) Events(c fiber.Ctx) error {
	orgID, _, ok := h.identity(c)
	if !ok {
		return h.unauthorized(c)
	}
	partitionID, err := h.idParam(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid partition id", "INVALID_PARTITION_ID", err.Error())
	}

	ctx, cancel := h.requestContext(c)
	_, err = h.flow.GetPartition(ctx, orgID, partitionID)
	cancel()
	if err != nil {
		return h.businessError(c, err)
	}

	session := sessionID(c)
	if session == "" {
		session = uuid.NewString()
	}
	return realtime.StreamSSE(c, h.hub, partitionID, session, h.heartbeat)
}
