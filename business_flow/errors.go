// Package businessflow contains the core business logic of the notification subsystem
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Partition and record errors
	ErrPartitionNotFound         = errors.New("partition not found")
	ErrRecordNotFound            = errors.New("record not found")
	ErrInvalidDistributionConfig = errors.New("invalid distribution configuration")
	ErrAllocationContention      = errors.New("distribution slot allocation contended")
	ErrRecordDataRequired        = errors.New("record data is required")

	// Message link errors
	ErrMessageLinkNotFound  = errors.New("message link not found")
	ErrMessageLinkInactive  = errors.New("message link is inactive")
	ErrInvalidTriggerType   = errors.New("invalid trigger type")
	ErrInvalidChannel       = errors.New("invalid channel")
	ErrInvalidCondition     = errors.New("invalid trigger condition")
	ErrInvalidRepeatConfig  = errors.New("invalid repeat configuration")
	ErrInvalidMappings      = errors.New("invalid variable mappings")
	ErrRecipientFieldNeeded = errors.New("recipient field is required")
	ErrBodyTemplateRequired = errors.New("body template is required")

	// Dispatch errors
	ErrChannelNotConfigured = errors.New("channel provider not configured")
	ErrAlreadyDispatched    = errors.New("occurrence already dispatched")
	ErrNoRecordsSelected    = errors.New("no records selected")
	ErrTooManyRecords       = errors.New("too many records selected")

	// Filter errors
	ErrInvalidPage           = errors.New("page must be at least 1")
	ErrInvalidPageSize       = errors.New("page size must be between 1 and 100")
	ErrStartDateAfterEndDate = errors.New("start date cannot be after end date")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsPartitionNotFound(err error) bool {
	return errors.Is(err, ErrPartitionNotFound)
}

func IsRecordNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

func IsInvalidDistributionConfig(err error) bool {
	return errors.Is(err, ErrInvalidDistributionConfig)
}

func IsAllocationContention(err error) bool {
	return errors.Is(err, ErrAllocationContention)
}

func IsRecordDataRequired(err error) bool {
	return errors.Is(err, ErrRecordDataRequired)
}

func IsMessageLinkNotFound(err error) bool {
	return errors.Is(err, ErrMessageLinkNotFound)
}

func IsMessageLinkInactive(err error) bool {
	return errors.Is(err, ErrMessageLinkInactive)
}

func IsInvalidTriggerType(err error) bool {
	return errors.Is(err, ErrInvalidTriggerType)
}

func IsInvalidChannel(err error) bool {
	return errors.Is(err, ErrInvalidChannel)
}

func IsInvalidCondition(err error) bool {
	return errors.Is(err, ErrInvalidCondition)
}

func IsInvalidRepeatConfig(err error) bool {
	return errors.Is(err, ErrInvalidRepeatConfig)
}

func IsInvalidMappings(err error) bool {
	return errors.Is(err, ErrInvalidMappings)
}

func IsRecipientFieldNeeded(err error) bool {
	return errors.Is(err, ErrRecipientFieldNeeded)
}

func IsBodyTemplateRequired(err error) bool {
	return errors.Is(err, ErrBodyTemplateRequired)
}

func IsChannelNotConfigured(err error) bool {
	return errors.Is(err, ErrChannelNotConfigured)
}

func IsAlreadyDispatched(err error) bool {
	return errors.Is(err, ErrAlreadyDispatched)
}

func IsNoRecordsSelected(err error) bool {
	return errors.Is(err, ErrNoRecordsSelected)
}

func IsTooManyRecords(err error) bool {
	return errors.Is(err, ErrTooManyRecords)
}

func IsInvalidPage(err error) bool {
	return errors.Is(err, ErrInvalidPage)
}

func IsInvalidPageSize(err error) bool {
	return errors.Is(err, ErrInvalidPageSize)
}

func IsStartDateAfterEndDate(err error) bool {
	return errors.Is(err, ErrStartDateAfterEndDate)
}
