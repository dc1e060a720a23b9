package observability

import "github.com/tphakala/eqroute/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("metrics")
