// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

/*
Package logger provides structured JSON logging for ModelRelay components.

# Overview

The logger outputs single-line JSON to stdout, making logs directly
consumable by log aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (dispatcher, relay, etc.)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("dispatcher")

Log messages with request context:

	log.Info("req-456", "dispatching request", map[string]interface{}{
	    "provider": "anthropic",
	    "model":    "claude-3-5-sonnet-20241022",
	})

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("req-456", "send completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON:

	{"timestamp":"2026-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"dispatcher","request_id":"req-456",
	 "message":"send completed","fields":{"duration_ms":241}}

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
