package handlers

import (
	"time"

	"github.com/amirphl/leadrelay/app/dto"
	businessflow "github.com/amirphl/leadrelay/business_flow"
	"github.com/gofiber/fiber/v3"
)

// MessageLinkHandlerInterface defines the contract for message link handlers
type MessageLinkHandlerInterface interface {
	Create(c fiber.Ctx) error
	Update(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Send(c fiber.Ctx) error
}

// MessageLinkHandler handles message link configuration and manual sends
type MessageLinkHandler struct {
	baseHandler
	flow        businessflow.MessageLinkFlow
	sendFlow    businessflow.ManualSendFlow
	sendTimeout time.Duration
}

// NewMessageLinkHandler creates a new message link handler
func NewMessageLinkHandler(flow businessflow.MessageLinkFlow, sendFlow businessflow.ManualSendFlow, sendTimeout time.Duration) *MessageLinkHandler {
	if sendTimeout <= 0 {
		sendTimeout = 2 * time.Minute
	}
	return &MessageLinkHandler{
		baseHandler: newBaseHandler(),
		flow:        flow,
		sendFlow:    sendFlow,
		sendTimeout: sendTimeout,
	}
}

// Create handles POST /api/v1/partitions/:id/message-links
func (h *MessageLinkHandler) Create(c fiber.Ctx) error {
	var req dto.CreateMessageLinkRequest
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

	result, err := h.flow.CreateMessageLink(ctx, &req, h.metadata(c))
	if err != nil {
		return h.businessError(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Message link created successfully", result)
}

// Update handles PUT /api/v1/message-links/:id
func (h *MessageLinkHandler) Update(c fiber.Ctx) error {
	var req dto.UpdateMessageLinkRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	orgID, userID, ok := h.identity(c)
	if !ok {
		return h.unauthorized(c)
	}
	linkID, err := h.idParam(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid message link id", "INVALID_LINK_ID", err.Error())
	}
	req.OrgID = orgID
	req.UserID = userID
	req.LinkID = linkID

	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.flow.UpdateMessageLink(ctx, &req, h.metadata(c))
	if err != nil {
		return h.businessError(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Message link updated successfully", result)
}

// List handles GET /api/v1/partitions/:id/message-links
func (h *MessageLinkHandler) List(c fiber.Ctx) error {
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

	result, err := h.flow.ListMessageLinks(ctx, orgID, partitionID)
	if err != nil {
		return h.businessError(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Message links retrieved successfully", result)
}

// Send handles POST /api/v1/message-links/:id/send. Per-record failures are
// reported in the response items; the request itself still succeeds.
func (h *MessageLinkHandler) Send(c fiber.Ctx) error {
	var req dto.ManualSendRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	orgID, userID, ok := h.identity(c)
	if !ok {
		return h.unauthorized(c)
	}
	linkID, err := h.idParam(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid message link id", "INVALID_LINK_ID", err.Error())
	}
	req.OrgID = orgID
	req.UserID = userID
	req.LinkID = linkID

	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContextWithTimeout(c, h.sendTimeout)
	defer cancel()

	result, err := h.sendFlow.SendManual(ctx, &req, h.metadata(c))
	if err != nil {
		return h.businessError(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Messages dispatched", result)
}
