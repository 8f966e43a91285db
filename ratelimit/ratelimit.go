// Component gating requests with a fixed-window counter per limiter key.
//
// The limiter is a pure admission gate: a denied call returns false without
// queuing, retrying, or backing off. The fixed window has a known edge case,
// inherited deliberately: a burst straddling a window boundary can admit up
// to twice the configured count within a short span. Callers who need strict
// smoothing should front expensive operations with ScanGate instead.
package ratelimit

import (
	"context"
)

type Limiter interface {
	// Allow reports whether one more call under limiterKey fits in the
	// current window. The check and the counter update are a single atomic
	// step per key.
	Allow(ctx context.Context, limiterKey string) (bool, error)
}
