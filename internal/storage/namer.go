package storage

import (
	"sync/atomic"
	"time"
)

// Namer hands out capture indices: microsecond UNIX timestamps that never
// repeat and never go backwards, even if the clock does.
type Namer struct {
	last atomic.Int64
	now  func() time.Time
}

// NewNamer returns a Namer reading the wall clock.
func NewNamer() *Namer {
	return &Namer{now: time.Now}
}

// NewNamerWithClock returns a Namer reading now.
func NewNamerWithClock(now func() time.Time) *Namer {
	return &Namer{now: now}
}

// Next returns max(now, last+1).
func (n *Namer) Next() int64 {
	for {
		last := n.last.Load()
		idx := n.now().UnixMicro()
		if idx <= last {
			idx = last + 1
		}
		if n.last.CompareAndSwap(last, idx) {
			return idx
		}
	}
}
