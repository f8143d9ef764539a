package gridkit

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	max := 30 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // 32s capped
		{6, 30 * time.Second},
		{34, 30 * time.Second}, // far past where 1<<attempt overflows int64
		{1000, 30 * time.Second},
	}

	for _, tt := range tests {
		got := backoffDelay(tt.attempt, max)
		if got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
		if got <= 0 {
			t.Errorf("backoffDelay(%d) = %v, must stay positive", tt.attempt, got)
		}
	}
}
