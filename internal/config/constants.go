package config

import "time"

// Application version
const AppVersion = "1.0.0"

// Health status constants
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusHealthy  = "healthy"
	StatusDisabled = "disabled"
)

// Timeout constants
const (
	ContextTimeout          = 30 * time.Second
	ShutdownTimeout         = 30 * time.Second
	HealthCheckTimeout      = 2 * time.Second
	RenewalLockTTL          = 30 * time.Minute
	SSEKeepAliveInterval    = 15 * time.Second
	ScheduledRenewalTimeout = 2 * time.Hour
)

// Certificate request constants
const (
	DefaultMaxConcurrentRequests = 4
)

// Progress tracking constants
const (
	ProgressLogTTL           = 30 * time.Minute
	ProgressLogKeyPrefix     = "cert:logs:"
	ProgressSubscriberBuffer = 64
	RenewalLockKey           = "lock:renewal:auto"
)

// HSTSMaxAge is the Strict-Transport-Security max-age in seconds
const HSTSMaxAge = 31536000

// DefaultAPIRateLimitWindow is the window of the per-token API rate limit
const DefaultAPIRateLimitWindow = time.Minute
