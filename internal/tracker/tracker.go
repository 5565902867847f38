// Package tracker implements the runtime's resource accounting: allocation
// count, byte budget, and wall-clock budget gating, plus the periodic
// tracing-GC trigger derived from them.
package tracker

import (
	"time"

	"github.com/monty-lang/monty/internal/exception"
)

// Tracker is the capability every allocate and dispatch-loop tick consults.
// Unbounded and Limited below are the two supplied implementations.
type Tracker interface {
	// OnAllocate accounts for a new heap slot of the given estimated size
	// and returns a terminal Resource error if a cap is exceeded.
	OnAllocate(sizeBytes uint64) *exception.Resource
	// Tick samples elapsed wall time at most once per tickInterval calls
	// and returns a terminal Resource error if the duration cap is
	// exceeded.
	Tick() *exception.Resource
	// ShouldGC reports whether the tracing GC should run now.
	ShouldGC() bool
	// Stats returns a snapshot of the tracker's current counters.
	Stats() Stats
}

// tickInterval bounds how often Tick actually samples the clock; sampling
// every call would dominate dispatch-loop overhead for a cheap check.
const tickInterval = 1024

// Stats is a point-in-time snapshot of tracker counters, surfaced to hosts
// for diagnostics and to internal/vm test helpers.
type Stats struct {
	Allocations uint64
	Bytes       uint64
	Elapsed     time.Duration
}

// Unbounded never fails an allocation or tick and never requests a GC
// cycle on its own; callers that still want periodic collection should
// drive ShouldGC externally (e.g. monty-run's CLI).
type Unbounded struct {
	allocs uint64
	bytes  uint64
	start  time.Time
}

// NewUnbounded returns a Tracker with no caps, suitable for trusted
// embeddings that only care about correctness, not isolation.
func NewUnbounded() *Unbounded {
	return &Unbounded{start: time.Now()}
}

func (u *Unbounded) OnAllocate(sizeBytes uint64) *exception.Resource {
	u.allocs++
	u.bytes += sizeBytes
	return nil
}

func (u *Unbounded) Tick() *exception.Resource { return nil }
func (u *Unbounded) ShouldGC() bool            { return false }

func (u *Unbounded) Stats() Stats {
	return Stats{Allocations: u.allocs, Bytes: u.bytes, Elapsed: time.Since(u.start)}
}

// Limits describes the optional caps a Limited tracker enforces. A zero
// value in any field (with its corresponding bool unset) means that axis
// is uncapped.
type Limits struct {
	MaxAllocations uint64
	HasMaxAllocs   bool

	MaxMemoryBytes uint64
	HasMaxMemory   bool

	MaxDuration time.Duration
	HasMaxDur   bool
	GCInterval  uint64
}

// Limited enforces Limits, failing OnAllocate/Tick with the appropriate
// exception.ResourceKind once a cap is crossed.
type Limited struct {
	limits Limits

	allocs uint64
	bytes  uint64

	start          time.Time
	sinceLastCheck uint64
	sinceGC        uint64
}

// NewLimited constructs a Limited tracker. A GCInterval of zero disables
// periodic collection from ShouldGC (the caller may still GC manually).
func NewLimited(limits Limits) *Limited {
	return &Limited{limits: limits, start: time.Now()}
}

func (l *Limited) OnAllocate(sizeBytes uint64) *exception.Resource {
	l.allocs++
	l.sinceGC++
	l.bytes += sizeBytes

	if l.limits.HasMaxAllocs && l.allocs > l.limits.MaxAllocations {
		return exception.NewResource(exception.AllocLimit)
	}
	if l.limits.HasMaxMemory && l.bytes > l.limits.MaxMemoryBytes {
		return exception.NewResource(exception.MemLimit)
	}
	return nil
}

func (l *Limited) Tick() *exception.Resource {
	l.sinceLastCheck++
	if l.sinceLastCheck < tickInterval {
		return nil
	}
	l.sinceLastCheck = 0

	if l.limits.HasMaxDur && time.Since(l.start) > l.limits.MaxDuration {
		return exception.NewResource(exception.TimeLimit)
	}
	return nil
}

// ShouldGC fires on the first call at or after the interval boundary and
// resets its counter, so the hot allocation path never divides.
func (l *Limited) ShouldGC() bool {
	if l.limits.GCInterval == 0 || l.sinceGC < l.limits.GCInterval {
		return false
	}
	l.sinceGC = 0
	return true
}

func (l *Limited) Stats() Stats {
	return Stats{Allocations: l.allocs, Bytes: l.bytes, Elapsed: time.Since(l.start)}
}
