package utils

import (
	"time"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Dispatch and reconciliation constants
const (
	// ReconcileBatchSize bounds how many pending send logs one reconcile run examines
	ReconcileBatchSize = 100

	// ProviderCallTimeout is the default deadline for a single channel provider call
	ProviderCallTimeout = 30 * time.Second

	// ManualSendMaxRecords bounds one manual multi-select send
	ManualSendMaxRecords = 500

	// MaxDistributionOrder is the upper bound for a partition's distribution slots
	MaxDistributionOrder = 99
)

// Realtime constants
const (
	// SessionIDHeader carries the client's connection session id on record mutations
	SessionIDHeader = "X-Session-ID"

	// SubscriberBufferSize is the per-viewer event buffer before events are dropped
	SubscriberBufferSize = 64
)

// ContextKey is the type of values stored on request contexts
type ContextKey string

const (
	RequestIDKey ContextKey = "X-Request-ID"
	OrgIDKey     ContextKey = "org_id"
	UserIDKey    ContextKey = "user_id"
)
