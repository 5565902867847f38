package tracker

import (
	"testing"
	"time"

	"github.com/monty-lang/monty/internal/exception"
)

func TestUnboundedNeverFails(t *testing.T) {
	u := NewUnbounded()
	for i := 0; i < 1000; i++ {
		if err := u.OnAllocate(64); err != nil {
			t.Fatalf("unbounded tracker rejected allocation %d: %v", i, err)
		}
	}
	if u.ShouldGC() {
		t.Fatal("unbounded tracker must never request a GC cycle")
	}
}

func TestLimitedAllocCap(t *testing.T) {
	l := NewLimited(Limits{MaxAllocations: 3, HasMaxAllocs: true})

	for i := 0; i < 3; i++ {
		if err := l.OnAllocate(8); err != nil {
			t.Fatalf("allocation %d should be within cap, got %v", i, err)
		}
	}

	err := l.OnAllocate(8)
	if err == nil {
		t.Fatal("expected AllocLimit resource error once cap exceeded")
	}
	if err.Kind != exception.AllocLimit {
		t.Fatalf("expected AllocLimit, got %v", err.Kind)
	}
}

func TestLimitedMemoryCap(t *testing.T) {
	l := NewLimited(Limits{MaxMemoryBytes: 100, HasMaxMemory: true})

	if err := l.OnAllocate(60); err != nil {
		t.Fatalf("first allocation should fit budget: %v", err)
	}
	err := l.OnAllocate(60)
	if err == nil || err.Kind != exception.MemLimit {
		t.Fatalf("expected MemLimit once bytes exceed cap, got %v", err)
	}
}

func TestLimitedTimeCapRequiresTickInterval(t *testing.T) {
	l := NewLimited(Limits{MaxDuration: time.Nanosecond, HasMaxDur: true})

	for i := 0; i < tickInterval-1; i++ {
		if err := l.Tick(); err != nil {
			t.Fatalf("tick %d should not sample the clock yet, got %v", i, err)
		}
	}

	time.Sleep(time.Millisecond)
	if err := l.Tick(); err == nil || err.Kind != exception.TimeLimit {
		t.Fatalf("expected TimeLimit once the tickInterval-th tick samples an expired clock, got %v", err)
	}
}

func TestLimitedShouldGC(t *testing.T) {
	l := NewLimited(Limits{GCInterval: 4})

	for i := uint64(1); i <= 8; i++ {
		if err := l.OnAllocate(1); err != nil {
			t.Fatalf("unexpected error on allocation %d: %v", i, err)
		}
		want := i%4 == 0
		if got := l.ShouldGC(); got != want {
			t.Fatalf("after %d allocations, ShouldGC() = %v, want %v", i, got, want)
		}
	}
}

func TestLimitedShouldGCResetsAfterFiring(t *testing.T) {
	l := NewLimited(Limits{GCInterval: 4})

	// Allocations can outrun the polls; the first poll at or past the
	// boundary fires once, then the counter starts over.
	for i := 0; i < 6; i++ {
		_ = l.OnAllocate(1)
	}
	if !l.ShouldGC() {
		t.Fatal("first poll past the boundary should request a GC")
	}
	if l.ShouldGC() {
		t.Fatal("the firing poll resets the counter")
	}
	_ = l.OnAllocate(1)
	if l.ShouldGC() {
		t.Fatal("one allocation after reset is below the interval")
	}
}

func TestLimitedStats(t *testing.T) {
	l := NewLimited(Limits{})
	_ = l.OnAllocate(10)
	_ = l.OnAllocate(20)

	stats := l.Stats()
	if stats.Allocations != 2 {
		t.Fatalf("Allocations = %d, want 2", stats.Allocations)
	}
	if stats.Bytes != 30 {
		t.Fatalf("Bytes = %d, want 30", stats.Bytes)
	}
}
