package tasks

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `
device_types:
  android:
    - code: DEVICE_INFO
      frequency: 1h
    - code: APPLICATION_LIST
      frequency: 6h
  ios:
    - code: DEVICE_LOCATION
      frequency: 30m
`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got := r.DeviceTypes(); len(got) != 2 || got[0] != "android" || got[1] != "ios" {
		t.Errorf("DeviceTypes() = %v, want [android ios]", got)
	}

	android := r.Tasks("android")
	if len(android) != 2 {
		t.Fatalf("expected 2 android tasks, got %d", len(android))
	}
	if android[1].Frequency != 6*time.Hour {
		t.Errorf("got frequency %v, want 6h", android[1].Frequency)
	}
}

func TestIsPeriodic(t *testing.T) {
	r, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	tests := []struct {
		deviceType string
		code       string
		want       bool
	}{
		{"android", "DEVICE_INFO", true},
		{"ios", "DEVICE_LOCATION", true},
		{"ios", "DEVICE_INFO", false},
		{"windows", "DEVICE_INFO", false},
		{"android", "REBOOT", false},
	}

	for _, tt := range tests {
		t.Run(tt.deviceType+"/"+tt.code, func(t *testing.T) {
			if got := r.IsPeriodic(tt.deviceType, tt.code); got != tt.want {
				t.Errorf("IsPeriodic() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"Missing Code", "device_types:\n  android:\n    - frequency: 1h\n"},
		{"Zero Frequency", "device_types:\n  android:\n    - code: X\n"},
		{"Bad YAML", "device_types: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.raw)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	empty, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if empty.IsPeriodic("android", "DEVICE_INFO") {
		t.Error("empty registry should have no tasks")
	}

	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("failed to write registry: %v", err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !r.IsPeriodic("android", "APPLICATION_LIST") {
		t.Error("expected APPLICATION_LIST to be periodic for android")
	}

	if _, err := Load("/nonexistent/tasks.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	if r.IsPeriodic("android", "X") || r.Tasks("android") != nil || r.DeviceTypes() != nil {
		t.Error("nil registry should behave as empty")
	}
}
