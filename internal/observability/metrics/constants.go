// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Label values for lookup and image cache results.
const (
	LabelHit     = "hit"
	LabelMiss    = "miss"
	LabelSuccess = "success"
	LabelError   = "error"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~4s range).
	BucketStart1ms = 0.001
	// BucketStart100B is the starting bucket for 100 byte histograms (100B to ~10MB range).
	BucketStart100B = 100.0

	BucketFactor2  = 2
	BucketFactor10 = 10

	BucketCount6  = 6
	BucketCount12 = 12
)

// ShutdownTimeout bounds the metrics handler shutdown.
const ShutdownTimeout = 5 * time.Second
