package services

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/leadrelay/models"
)

// ErrStatusUnsupported is returned by providers that cannot report delivery status
var ErrStatusUnsupported = errors.New("provider does not support status queries")

// OutboundMessage is one rendered message for one recipient
type OutboundMessage struct {
	Channel   models.Channel
	Recipient string
	Title     string
	Body      string
	Reference string // caller-side idempotency reference, forwarded when the provider supports it
}

// SendResult is the synchronous acknowledgement of a provider
type SendResult struct {
	Accepted          bool
	InFlight          bool // accepted but delivery not yet confirmed
	ProviderRequestID string
	ResultCode        string
	ResultMessage     string
}

// DeliveryState is the provider-side status of a previously accepted message
type DeliveryState string

const (
	DeliveryStatePending   DeliveryState = "pending"
	DeliveryStateDelivered DeliveryState = "delivered"
	DeliveryStateFailed    DeliveryState = "failed"
	DeliveryStateRejected  DeliveryState = "rejected"
)

// IsTerminal reports whether the provider will not change the state again
func (s DeliveryState) IsTerminal() bool {
	return s == DeliveryStateDelivered || s == DeliveryStateFailed || s == DeliveryStateRejected
}

// SendLogStatus maps a terminal delivery state to a send log status
func (s DeliveryState) SendLogStatus() (models.SendLogStatus, bool) {
	switch s {
	case DeliveryStateDelivered:
		return models.SendLogStatusSent, true
	case DeliveryStateFailed:
		return models.SendLogStatusFailed, true
	case DeliveryStateRejected:
		return models.SendLogStatusRejected, true
	default:
		return "", false
	}
}

// StatusResult is the answer to a delivery status query
type StatusResult struct {
	State         DeliveryState
	ResultCode    string
	ResultMessage string
	TerminalAt    *time.Time
}

// ChannelProvider sends messages over one channel and reports their delivery status
type ChannelProvider interface {
	Channel() models.Channel
	Send(ctx context.Context, msg OutboundMessage) (*SendResult, error)
	QueryStatus(ctx context.Context, providerRequestID string) (*StatusResult, error)
}

// ProviderRegistry resolves the provider configured for a channel
type ProviderRegistry map[models.Channel]ChannelProvider

// NewProviderRegistry indexes providers by channel; nil entries are ignored
func NewProviderRegistry(providers ...ChannelProvider) ProviderRegistry {
	reg := make(ProviderRegistry, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		reg[p.Channel()] = p
	}
	return reg
}

// Get returns the provider for ch, or nil when none is configured
func (r ProviderRegistry) Get(ch models.Channel) ChannelProvider {
	if r == nil {
		return nil
	}
	return r[ch]
}
