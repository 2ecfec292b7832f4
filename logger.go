package fleetgate

import "github.com/oarkflow/fleetgate/logger"

// Logger is re-exported so hosts can implement it without importing the
// logger package directly.
type Logger = logger.Logger

// TraceIDFunc is re-exported alongside Logger.
type TraceIDFunc = logger.TraceIDFunc
