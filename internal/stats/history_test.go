package stats

import (
	"testing"
	"time"
)

func TestRingBuffer_Add(t *testing.T) {
	buf := NewRingBuffer(5)

	for i := 0; i < 5; i++ {
		buf.Add(float64(i))
	}

	snapshot := buf.Snapshot()
	if len(snapshot) != 5 {
		t.Errorf("Expected 5 items, got %d", len(snapshot))
	}
	for i, v := range snapshot {
		if v != float64(i) {
			t.Errorf("Expected %f at index %d, got %f", float64(i), i, v)
		}
	}
}

func TestRingBuffer_Wrap(t *testing.T) {
	buf := NewRingBuffer(3)

	for i := 0; i < 5; i++ {
		buf.Add(float64(i))
	}

	snapshot := buf.Snapshot()
	expected := []float64{2, 3, 4}
	if len(snapshot) != len(expected) {
		t.Fatalf("Expected %d items, got %d", len(expected), len(snapshot))
	}
	for i, v := range snapshot {
		if v != expected[i] {
			t.Errorf("Expected %f at index %d, got %f", expected[i], i, v)
		}
	}
}

func TestRingBuffer_SnapshotIsCopy(t *testing.T) {
	buf := NewRingBuffer(2)
	buf.Add(1)
	snap := buf.Snapshot()
	snap[0] = 99

	if got := buf.Snapshot()[0]; got != 1 {
		t.Errorf("Snapshot aliases buffer storage: got %f", got)
	}
}

func TestRingBuffer_LenAndLast(t *testing.T) {
	buf := NewRingBuffer(3)

	if buf.Len() != 0 {
		t.Errorf("Expected length 0, got %d", buf.Len())
	}
	if _, ok := buf.Last(); ok {
		t.Error("Empty buffer should have no last value")
	}

	for i := 1; i <= 4; i++ {
		buf.Add(float64(i))
	}
	if buf.Len() != 3 {
		t.Errorf("Expected length 3, got %d", buf.Len())
	}
	if last, ok := buf.Last(); !ok || last != 4 {
		t.Errorf("Expected last value 4, got %f (%v)", last, ok)
	}
}

func TestRingBuffer_MinimumCapacity(t *testing.T) {
	buf := NewRingBuffer(0)
	buf.Add(7)
	buf.Add(8)
	if got := buf.Snapshot(); len(got) != 1 || got[0] != 8 {
		t.Errorf("Expected [8], got %v", got)
	}
}

func TestRateTracker(t *testing.T) {
	tr := newRateTracker()
	start := time.Unix(1000, 0)

	rates := tr.observe(map[string]uint64{"eth0": 1000}, start)
	if len(rates) != 0 {
		t.Errorf("First sample should yield no rates, got %v", rates)
	}

	rates = tr.observe(map[string]uint64{"eth0": 3000, "eth1": 50}, start.Add(2*time.Second))
	if rates["eth0"] != 1000 {
		t.Errorf("Expected 1000 B/s, got %f", rates["eth0"])
	}
	if _, ok := rates["eth1"]; ok {
		t.Error("New interface should not have a rate yet")
	}

	// Counter reset counts from zero.
	rates = tr.observe(map[string]uint64{"eth0": 500, "eth1": 150}, start.Add(3*time.Second))
	if rates["eth0"] != 500 {
		t.Errorf("Expected 500 B/s after reset, got %f", rates["eth0"])
	}
	if rates["eth1"] != 100 {
		t.Errorf("Expected 100 B/s, got %f", rates["eth1"])
	}

	// Vanished interfaces are forgotten.
	tr.observe(map[string]uint64{"eth1": 150}, start.Add(4*time.Second))
	if _, ok := tr.last["eth0"]; ok {
		t.Error("Removed interface should be dropped")
	}
}
