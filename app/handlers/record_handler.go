package handlers

import (
	"github.com/amirphl/leadrelay/app/dto"
	businessflow "github.com/amirphl/leadrelay/business_flow"
	"github.com/gofiber/fiber/v3"
)

// RecordHandlerInterface defines the contract for record handlers
type RecordHandlerInterface interface {
	Create(c fiber.Ctx) error
	Update(c fiber.Ctx) error
	Get(c fiber.Ctx) error
}

// RecordHandler handles record-related HTTP requests
type RecordHandler struct {
	baseHandler
	flow businessflow.RecordFlow
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(flow businessflow.RecordFlow) *RecordHandler {
	return &RecordHandler{
		baseHandler: newBaseHandler(),
		flow:        flow,
	}
}

// Create handles POST /api/v1/partitions/:id/records
func (h *RecordHandler) Create(c fiber.Ctx) error {
	var req dto.CreateRecordRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	orgID, _, ok := h.identity(c)
	if !ok {
		return h.unauthorized(c)
	}
	partitionID, err := h.idParam(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid partition id", "INVALID_PARTITION_ID", err.Error())
	}
	req.OrgID = orgID
	req.PartitionID = partitionID
	req.SessionID = sessionID(c)

	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.flow.CreateRecord(ctx, &req, h.metadata(c))
	if err != nil {
		return h.businessError(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Record created successfully", result)
}

// Update handles PUT /api/v1/records/:id
func (h *RecordHandler) Update(c fiber.Ctx) error {
	var req dto.UpdateRecordRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	orgID, _, ok := h.identity(c)
	if !ok {
		return h.unauthorized(c)
	}
	recordID, err := h.idParam(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid record id", "INVALID_RECORD_ID", err.Error())
	}
	req.OrgID = orgID
	req.RecordID = recordID
	req.SessionID = sessionID(c)

	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.flow.UpdateRecord(ctx, &req, h.metadata(c))
	if err != nil {
		return h.businessError(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Record updated successfully", result)
}

// Get handles GET /api/v1/records/:id
func (h *RecordHandler) Get(c fiber.Ctx) error {
	orgID, _, ok := h.identity(c)
	if !ok {
		return h.unauthorized(c)
	}
	recordID, err := h.idParam(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid record id", "INVALID_RECORD_ID", err.Error())
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.flow.GetRecord(ctx, orgID, recordID)
	if err != nil {
		return h.businessError(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Record retrieved successfully", result)
}
