package operation

import (
	"errors"
	"math"
	"testing"
)

func TestActivityID_RoundTrip(t *testing.T) {
	for _, id := range []int64{1, 42, 1000000, math.MaxInt64} {
		got, err := ParseActivityID(ActivityID(id))
		if err != nil {
			t.Fatalf("ParseActivityID(%d) failed: %v", id, err)
		}
		if got != id {
			t.Errorf("got %d, want %d", got, id)
		}
	}

	if ActivityID(7) != "ACTIVITY_7" {
		t.Errorf("unexpected encoding %q", ActivityID(7))
	}
}

func TestParseActivityID_Rejects(t *testing.T) {
	tests := []string{
		"",
		"7",
		"activity_7",
		"ACTIVITY_",
		"ACTIVITY_0",
		"ACTIVITY_-3",
		"ACTIVITY_+5",
		"ACTIVITY_05",
		"ACTIVITY_abc",
		"ACTIVITY_9223372036854775808",
	}

	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			if _, err := ParseActivityID(id); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation for %q, got %v", id, err)
			}
		})
	}
}
