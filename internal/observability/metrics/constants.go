// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Operation names recorded by the audio session.
const (
	// OpSwitch is a passthrough device switch.
	OpSwitch = "switch"
	// OpSetup is a setupAudio run triggered by enable, wake or type change.
	OpSetup = "setup"
	// OpRebuild is a pipeline (engine and output) rebuild.
	OpRebuild = "rebuild"
	// OpTeardown is an engine stop.
	OpTeardown = "teardown"
	// OpFallback is a last-known-device resolution.
	OpFallback = "fallback"
	// OpProfileSave is a device profile save.
	OpProfileSave = "profile_save"
	// OpProfileApply is a device profile apply.
	OpProfileApply = "profile_apply"
	// OpWake is a wake probe sequence.
	OpWake = "wake"
)

// Status label values.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCoalesced = "coalesced"
	StatusTimeout   = "timeout"
	StatusSkipped   = "skipped"
)

// Device event outcome label values.
const (
	OutcomeHandled    = "handled"
	OutcomeSuppressed = "suppressed"
	OutcomeIgnored    = "ignored"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)

// ShutdownTimeout is the timeout for graceful shutdown operations.
const ShutdownTimeout = 5 * time.Second
