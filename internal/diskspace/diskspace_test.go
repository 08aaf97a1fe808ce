package diskspace

import (
	"math"
	"sync/atomic"
	"testing"
	"time"
)

func TestRequiredIsTriplePackageSize(t *testing.T) {
	cases := []struct {
		size int64
		want uint64
	}{
		{0, 0},
		{-5, 0},
		{1, 3},
		{100 * 1024 * 1024, 300 * 1024 * 1024},
	}
	for _, c := range cases {
		if got := Required(c.size); got != c.want {
			t.Errorf("Required(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestCheckAgainstRealVolume(t *testing.T) {
	dir := t.TempDir()

	ok, err := Check(dir, 1) // 3 bytes required; any volume passes
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !ok {
		t.Error("tiny requirement should fit on any test volume")
	}

	// A requirement no test machine can satisfy.
	ok, err = Check(dir, math.MaxInt64/SpaceMultiplier)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if ok {
		t.Error("absurd requirement should not fit")
	}
}

func TestCheckBoundary(t *testing.T) {
	dir := t.TempDir()
	free, err := Available(dir)
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if free < SpaceMultiplier {
		t.Skip("volume unexpectedly full")
	}

	// Exactly the available space: required == free must pass.
	ok, err := Check(dir, int64(free/SpaceMultiplier))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("available == required should pass (>= comparison)")
	}
}

func TestMonitorFiresLowAndRecovers(t *testing.T) {
	dir := t.TempDir()
	free, err := Available(dir)
	if err != nil {
		t.Fatal(err)
	}

	var lowCalls, okCalls atomic.Int32
	// Threshold above current free space: first poll reports low.
	m := NewMonitor(dir, free*2, 10*time.Millisecond,
		func(uint64) { lowCalls.Add(1) },
		func(uint64) { okCalls.Add(1) },
	)
	m.Start()
	defer m.Stop()

	deadline := time.After(2 * time.Second)
	for lowCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("onLow never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The callback fires once per transition, not per poll.
	time.Sleep(50 * time.Millisecond)
	if lowCalls.Load() != 1 {
		t.Errorf("onLow fired %d times, want 1", lowCalls.Load())
	}

	m.Stop()

	// Flip the threshold to zero and restart: recovery path.
	m2 := NewMonitor(dir, 0, 10*time.Millisecond, nil, func(uint64) { okCalls.Add(1) })
	m2.Start()
	defer m2.Stop()
	time.Sleep(50 * time.Millisecond)
	// free >= 0 threshold means never low; no recovery event without a prior low.
	if okCalls.Load() != 0 {
		t.Errorf("onOK fired without a preceding low transition")
	}
}

func TestMonitorStartStopIdempotent(t *testing.T) {
	m := NewMonitor(t.TempDir(), 0, 10*time.Millisecond, nil, nil)
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}
