package host

import (
	"errors"
	"testing"
	"time"
)

func TestBudget_TripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBudget(3)
	boom := errors.New("boom")
	if b.RecordFailure(boom) || b.RecordFailure(boom) {
		t.Fatal("tripped early")
	}
	b.RecordSuccess()
	if st := b.State(); st.Failures != 0 || st.Threshold != 3 {
		t.Fatalf("after success: %+v", st)
	}
	b.RecordFailure(boom)
	b.RecordFailure(boom)
	if !b.RecordFailure(boom) {
		t.Fatal("did not trip on the third consecutive failure")
	}
	if st := b.State(); st.LastError != "boom" || st.LastFailure.IsZero() {
		t.Fatalf("state: %+v", st)
	}
}

func TestBudget_DefaultThreshold(t *testing.T) {
	if st := NewBudget(0).State(); st.Threshold != 5 {
		t.Fatalf("threshold: got %d", st.Threshold)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{7, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.attempt, time.Second, 30*time.Second); got != tt.want {
			t.Errorf("backoff(%d): got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
