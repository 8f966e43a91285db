// Component tracking per-entity access rates over a fixed time window, used
// to decide which cache entries deserve a longer TTL.
//
// Counters decay by construction: a counter whose window has elapsed is reset
// to a fresh window on the next access rather than incremented, so a burst of
// traffic that stops eventually stops being "popular". Threshold crossing is
// only ever evaluated at access time, never by a timer.
package popularity

import (
	"context"
)

type Tracker interface {
	// RecordAccess counts one access of key and returns the count within
	// the current window.
	RecordAccess(ctx context.Context, key string) (int, error)

	// IsPopular reports whether key's count within a live window has
	// reached the threshold.
	IsPopular(ctx context.Context, key string) (bool, error)
}
