package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	result := RealClock{}.Now()
	after := time.Now()

	if result.Before(before) || result.After(after) {
		t.Errorf("Now() returned %v, expected between %v and %v", result, before, after)
	}
}

func TestMockClock_Now(t *testing.T) {
	mockTime := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(mockTime)

	if got := mock.Now(); !got.Equal(mockTime) {
		t.Errorf("MockClock.Now() returned %v, expected exactly %v", got, mockTime)
	}
}

func TestMockClock_Advance(t *testing.T) {
	mockTime := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(mockTime)

	mock.Advance(time.Hour)

	if got := mock.Now(); !got.Equal(mockTime.Add(time.Hour)) {
		t.Errorf("After Advance, Now() = %v", got)
	}
	if got := mock.Since(mockTime); got != time.Hour {
		t.Errorf("Since() = %v, expected 1h", got)
	}
}

func TestMockClock_Set(t *testing.T) {
	mock := NewMockClock(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC))

	newTime := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	mock.Set(newTime)

	if !mock.Now().Equal(newTime) {
		t.Errorf("After Set, Now() = %v, expected %v", mock.Now(), newTime)
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(RealClock); !ok {
		t.Error("OrReal(nil) should return RealClock")
	}
	m := NewMockClock(time.Now())
	if OrReal(m) != Clock(m) {
		t.Error("OrReal should pass through a non-nil clock")
	}
}

func TestAge(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	if got := Age(c, base.Add(-time.Minute)); got != time.Minute {
		t.Errorf("Age = %v, want 1m", got)
	}
	if got := Age(c, base.Add(time.Hour)); got != 0 {
		t.Errorf("future timestamp should have age 0, got %v", got)
	}
}
