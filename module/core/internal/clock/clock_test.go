package clock

import (
	"testing"
	"time"
)

func TestMock_AdvanceAndSet(t *testing.T) {
	start := time.Unix(1715003456, 0)
	m := NewMock(start)

	m.Advance(90 * time.Second)
	if got := m.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("expected %v, got %v", start.Add(90*time.Second), got)
	}

	m.Set(start)
	if got := m.Now(); !got.Equal(start) {
		t.Fatalf("expected %v, got %v", start, got)
	}
}
