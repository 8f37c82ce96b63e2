// Package driver defines the uniform printer driver interface (§4.1) and
// helpers shared by every vendor-specific implementation.
package driver

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the §5 reconnect/retry delay formula:
//
//	delay = min(base * factor^attempt, max) * (1 + U(-0.1, +0.1))
//
// floored at 500ms. attempt is zero-based (the first retry uses attempt=0).
func Backoff(base, max time.Duration, factor float64, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	scaled := float64(base) * math.Pow(factor, float64(attempt))
	capped := math.Min(scaled, float64(max))
	jittered := capped * (1 + (rand.Float64()*0.2 - 0.1))
	floor := float64(500 * time.Millisecond)
	if jittered < floor {
		jittered = floor
	}
	return time.Duration(jittered)
}
