// Package tasks holds the periodic monitoring tasks registered per device type.
package tasks

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Task is an operation code dispatched to every active device of a type at a fixed frequency.
type Task struct {
	Code      string        `yaml:"code"`
	Frequency time.Duration `yaml:"frequency"`
}

type file struct {
	DeviceTypes map[string][]Task `yaml:"device_types"`
}

// Registry is the read-only set of periodic tasks. The zero value has none.
type Registry struct {
	byType map[string][]Task
}

// Load reads a registry file. An empty path returns an empty registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return &Registry{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task registry: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML registry:
//
//	device_types:
//	  android:
//	    - code: DEVICE_INFO
//	      frequency: 1h
func Parse(raw []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse task registry: %w", err)
	}

	r := &Registry{byType: make(map[string][]Task, len(f.DeviceTypes))}
	for deviceType, tasks := range f.DeviceTypes {
		for _, t := range tasks {
			if t.Code == "" {
				return nil, fmt.Errorf("task without code for device type %s", deviceType)
			}
			if t.Frequency <= 0 {
				return nil, fmt.Errorf("task %s for device type %s needs a positive frequency", t.Code, deviceType)
			}
		}
		r.byType[deviceType] = tasks
	}
	return r, nil
}

// IsPeriodic reports whether code is registered as a periodic task for deviceType.
func (r *Registry) IsPeriodic(deviceType, code string) bool {
	if r == nil {
		return false
	}
	for _, t := range r.byType[deviceType] {
		if t.Code == code {
			return true
		}
	}
	return false
}

// Tasks returns the tasks registered for deviceType.
func (r *Registry) Tasks(deviceType string) []Task {
	if r == nil {
		return nil
	}
	return r.byType[deviceType]
}

// DeviceTypes returns every device type with tasks, sorted.
func (r *Registry) DeviceTypes() []string {
	if r == nil {
		return nil
	}
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
