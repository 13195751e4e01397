package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/utils"
	"github.com/google/uuid"
)

// MockChannelProvider implements ChannelProvider in memory. By default every
// message is accepted in flight and reported delivered on the first status query.
type MockChannelProvider struct {
	channel models.Channel

	mu       sync.Mutex
	sent     []MockSentMessage
	statuses map[string]*StatusResult
	queries  map[string]int

	// Hooks override the default behavior when set
	SendFunc   func(ctx context.Context, msg OutboundMessage) (*SendResult, error)
	StatusFunc func(ctx context.Context, providerRequestID string) (*StatusResult, error)
}

// MockSentMessage represents a message handed to the mock provider
type MockSentMessage struct {
	Message   OutboundMessage
	RequestID string
	SentAt    time.Time
}

// NewMockChannelProvider creates a mock provider for the given channel
func NewMockChannelProvider(channel models.Channel) *MockChannelProvider {
	return &MockChannelProvider{
		channel:  channel,
		statuses: make(map[string]*StatusResult),
		queries:  make(map[string]int),
	}
}

func (m *MockChannelProvider) Channel() models.Channel { return m.channel }

func (m *MockChannelProvider) Send(ctx context.Context, msg OutboundMessage) (*SendResult, error) {
	var (
		res *SendResult
		err error
	)
	if m.SendFunc != nil {
		res, err = m.SendFunc(ctx, msg)
	} else {
		res = &SendResult{Accepted: true, InFlight: true, ProviderRequestID: "mock-" + uuid.NewString()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	reqID := ""
	if res != nil {
		reqID = res.ProviderRequestID
	}
	m.sent = append(m.sent, MockSentMessage{Message: msg, RequestID: reqID, SentAt: utils.UTCNow()})
	return res, err
}

func (m *MockChannelProvider) QueryStatus(ctx context.Context, providerRequestID string) (*StatusResult, error) {
	m.mu.Lock()
	m.queries[providerRequestID]++
	st, ok := m.statuses[providerRequestID]
	m.mu.Unlock()

	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, providerRequestID)
	}
	if ok {
		cp := *st
		return &cp, nil
	}
	if providerRequestID == "" {
		return nil, fmt.Errorf("empty provider request id")
	}
	return &StatusResult{State: DeliveryStateDelivered, TerminalAt: utils.UTCNowPtr()}, nil
}

// SetStatus pins the status returned for a request id
func (m *MockChannelProvider) SetStatus(providerRequestID string, st StatusResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[providerRequestID] = &st
}

// SentMessages returns a copy of every message handed to Send
func (m *MockChannelProvider) SentMessages() []MockSentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SendCount returns how many times Send was called
func (m *MockChannelProvider) SendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// QueryCount returns how many times QueryStatus was called for a request id
func (m *MockChannelProvider) QueryCount(providerRequestID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries[providerRequestID]
}
