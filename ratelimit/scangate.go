package ratelimit

import (
	"time"

	"github.com/RussellLuo/slidingwindow"
)

// ScanGate caps how often the service runs full-table scans (the list
// endpoints), independent of any per-client limit. Unlike the fixed-window
// Limiter it uses a sliding window, since a boundary burst of table scans is
// exactly what it exists to prevent.
type ScanGate struct {
	lim *slidingwindow.Limiter
}

func NewScanGate(count int64, window time.Duration) *ScanGate {
	lim, _ := slidingwindow.NewLimiter(window, count, func() (slidingwindow.Window, slidingwindow.StopFunc) {
		return slidingwindow.NewLocalWindow()
	})
	return &ScanGate{lim: lim}
}

func (g *ScanGate) Allow() bool {
	return g.lim.Allow()
}
