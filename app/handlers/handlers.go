// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/leadrelay/app/dto"
	businessflow "github.com/amirphl/leadrelay/business_flow"
	"github.com/amirphl/leadrelay/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
)

const defaultRequestTimeout = 30 * time.Second

type baseHandler struct {
	validator *validator.Validate
}

func newBaseHandler() baseHandler {
	return baseHandler{validator: validator.New()}
}

func (h *baseHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *baseHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate runs struct validation and writes a VALIDATION_ERROR response on failure.
// The returned bool is false when a response was written.
func (h *baseHandler) validate(c fiber.Ctx, req any) (bool, error) {
	err := h.validator.Struct(req)
	if err == nil {
		return true, nil
	}
	var validationErrors []string
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		for _, fe := range fieldErrors {
			validationErrors = append(validationErrors, getValidationErrorMessage(fe))
		}
	} else {
		validationErrors = append(validationErrors, err.Error())
	}
	return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
}

// identity reads the organization and user placed on the request by the auth middleware
func (h *baseHandler) identity(c fiber.Ctx) (orgID, userID uint, ok bool) {
	orgID, ok = c.Locals(string(utils.OrgIDKey)).(uint)
	if !ok || orgID == 0 {
		return 0, 0, false
	}
	userID, _ = c.Locals(string(utils.UserIDKey)).(uint)
	return orgID, userID, true
}

func (h *baseHandler) unauthorized(c fiber.Ctx) error {
	return h.ErrorResponse(c, fiber.StatusUnauthorized, "Organization not found in context", "MISSING_ORG_ID", nil)
}

func (h *baseHandler) idParam(c fiber.Ctx, name string) (uint, error) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return uint(id), nil
}

func (h *baseHandler) metadata(c fiber.Ctx) *businessflow.ClientMetadata {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(requestID(c))
	metadata.SetSessionID(sessionID(c))
	return metadata
}

func (h *baseHandler) requestContext(c fiber.Ctx) (context.Context, context.CancelFunc) {
	return h.requestContextWithTimeout(c, defaultRequestTimeout)
}

func (h *baseHandler) requestContextWithTimeout(c fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, requestID(c))
	return ctx, cancel
}

// businessError translates a business flow error into a JSON error response
func (h *baseHandler) businessError(c fiber.Ctx, err error) error {
	switch {
	case businessflow.IsPartitionNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Partition not found", "PARTITION_NOT_FOUND", nil)
	case businessflow.IsRecordNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Record not found", "RECORD_NOT_FOUND", nil)
	case businessflow.IsMessageLinkNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Message link not found", "MESSAGE_LINK_NOT_FOUND", nil)
	case businessflow.IsMessageLinkInactive(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Message link is inactive", "MESSAGE_LINK_INACTIVE", nil)
	case businessflow.IsAllocationContention(err):
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Partition is busy, please retry", "ALLOCATION_CONTENTION", nil)
	case businessflow.IsChannelNotConfigured(err):
		return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Channel is not configured", "CHANNEL_NOT_CONFIGURED", nil)
	case businessflow.IsTooManyRecords(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Too many records selected", "TOO_MANY_RECORDS", err.Error())
	case businessflow.IsInvalidDistributionConfig(err),
		businessflow.IsRecordDataRequired(err),
		businessflow.IsInvalidTriggerType(err),
		businessflow.IsInvalidChannel(err),
		businessflow.IsInvalidCondition(err),
		businessflow.IsInvalidRepeatConfig(err),
		businessflow.IsInvalidMappings(err),
		businessflow.IsRecipientFieldNeeded(err),
		businessflow.IsBodyTemplateRequired(err),
		businessflow.IsNoRecordsSelected(err),
		businessflow.IsInvalidPage(err),
		businessflow.IsInvalidPageSize(err),
		businessflow.IsStartDateAfterEndDate(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}

	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		return h.ErrorResponse(c, fiber.StatusInternalServerError, be.Message, be.Code, nil)
	}
	return h.ErrorResponse(c, fiber.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR", nil)
}

func requestID(c fiber.Ctx) string {
	if id := requestid.FromContext(c); id != "" {
		return id
	}
	return c.Get("X-Request-ID")
}

func sessionID(c fiber.Ctx) string {
	if id := c.Get(utils.SessionIDHeader); id != "" {
		return id
	}
	return c.Query("session_id")
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
