package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/leadrelay/app/dto"
	businessflow "github.com/amirphl/leadrelay/business_flow"
	"github.com/gofiber/fiber/v3"
)

// SendLogHandlerInterface defines the contract for send log handlers
type SendLogHandlerInterface interface {
	List(c fiber.Ctx) error
	Reconcile(c fiber.Ctx) error
}

// SendLogHandler exposes delivery history and on-demand reconciliation
type SendLogHandler struct {
	baseHandler
	flow             businessflow.SendLogFlow
	reconcileTimeout time.Duration
}

// NewSendLogHandler creates a new send log handler
func NewSendLogHandler(flow businessflow.SendLogFlow, reconcileTimeout time.Duration) *SendLogHandler {
	if reconcileTimeout <= 0 {
		reconcileTimeout = time.Minute
	}
	return &SendLogHandler{
		baseHandler:      newBaseHandler(),
		flow:             flow,
		reconcileTimeout: reconcileTimeout,
	}
}

// List handles GET /api/v1/send-logs
// Query: linkId, recordId, status, channel, startDate, endDate (RFC3339), page, pageSize
func (h *SendLogHandler) List(c fiber.Ctx) error {
	orgID, _, ok := h.identity(c)
	if !ok {
		return h.unauthorized(c)
	}

	req, err := parseListSendLogsQuery(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_QUERY", err.Error())
	}
	req.OrgID = orgID

	if ok, err := h.validate(c, req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.flow.ListSendLogs(ctx, req)
	if err != nil {
		return h.businessError(c, err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Send logs retrieved successfully", result)
}

// Reconcile handles POST /api/v1/send-logs/reconcile
func (h *SendLogHandler) Reconcile(c fiber.Ctx) error {
	var req dto.ReconcileRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
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

	ctx, cancel := h.requestContextWithTimeout(c, h.reconcileTimeout)
	defer cancel()

	result, err := h.flow.Reconcile(ctx, &req, h.metadata(c))
	if err != nil {
		return h.businessError(c, err)
	}
	if result.Skipped {
		return h.SuccessResponse(c, fiber.StatusAccepted, "Reconciliation already running for this organization", result)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Reconciliation completed", result)
}

func parseListSendLogsQuery(c fiber.Ctx) (*dto.ListSendLogsRequest, error) {
	req := &dto.ListSendLogsRequest{}

	var err error
	if req.LinkID, err = optionalUintQuery(c, "linkId"); err != nil {
		return nil, err
	}
	if req.RecordID, err = optionalUintQuery(c, "recordId"); err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		req.Status = &v
	}
	if v := strings.TrimSpace(c.Query("channel")); v != "" {
		req.Channel = &v
	}
	if req.StartDate, err = optionalTimeQuery(c, "startDate"); err != nil {
		return nil, err
	}
	if req.EndDate, err = optionalTimeQuery(c, "endDate"); err != nil {
		return nil, err
	}
	if req.Page, err = intQuery(c, "page", 1); err != nil {
		return nil, err
	}
	if req.PageSize, err = intQuery(c, "pageSize", 20); err != nil {
		return nil, err
	}
	return req, nil
}

func optionalUintQuery(c fiber.Ctx, name string) (*uint, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return nil, fmt.Errorf("%s must be a positive integer", name)
	}
	id := uint(v)
	return &id, nil
}

func optionalTimeQuery(c fiber.Ctx, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC3339 timestamp", name)
	}
	t = t.UTC()
	return &t, nil
}

func intQuery(c fiber.Ctx, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}
