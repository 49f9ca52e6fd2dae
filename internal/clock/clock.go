// Package clock supplies the reference "now" of a fusion run. Road events
// that are still active have an open validity interval that ends at now, so
// the value must be controllable: tests inject a MockClock and reproducible
// re-runs pin it through an environment variable or a file.
package clock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system time, normalized to UTC.
type RealClock struct{}

// Now returns the current system time in UTC.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// MockClock is a controllable, thread-safe clock for tests.
type MockClock struct {
	mu          sync.Mutex
	currentTime time.Time
}

// NewMockClock creates a MockClock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{currentTime: t}
}

// Now returns the mock clock's current time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

// Set changes the mock clock's current time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = t
}

// Advance moves the mock clock by d. Negative durations move it backwards.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

// Source names where a PinnedClock took its time from.
type Source string

const (
	SourceEnv    Source = "env"
	SourceFile   Source = "file"
	SourceSystem Source = "system"
)

// PinnedClock resolves the reference time once, at construction, and returns
// it on every call so that all phases of a run agree on "now".
// Priority: environment variable > file > system time.
type PinnedClock struct {
	now    time.Time
	source Source
}

// NewPinnedClock resolves the time from envVar, then filePath, then the
// system clock. Timestamps without an offset are read in location; when
// location is nil only RFC 3339 values are accepted.
func NewPinnedClock(envVar, filePath string, location *time.Location) *PinnedClock {
	if envVar != "" {
		if raw := os.Getenv(envVar); raw != "" {
			t, err := parseTime(raw, location)
			if err == nil {
				return &PinnedClock{now: t, source: SourceEnv}
			}
			slog.Warn("ignoring unparseable pinned time",
				slog.String("envVar", envVar), slog.String("error", err.Error()))
		}
	}
	if filePath != "" {
		if data, err := os.ReadFile(filePath); err == nil {
			t, err := parseTime(string(data), location)
			if err == nil {
				return &PinnedClock{now: t, source: SourceFile}
			}
			slog.Warn("ignoring unparseable pinned time file",
				slog.String("filePath", filePath), slog.String("error", err.Error()))
		}
	}
	return &PinnedClock{now: time.Now().UTC(), source: SourceSystem}
}

// Now returns the pinned time.
func (p *PinnedClock) Now() time.Time {
	return p.now
}

// Source reports where the pinned time came from.
func (p *PinnedClock) Source() Source {
	return p.source
}

func parseTime(s string, location *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}

	if location == nil {
		return time.Time{}, errors.New("timezone not configured")
	}

	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, s, location); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time %q: expected RFC3339, YYYY-MM-DD HH:MM:SS, YYYY-MM-DDTHH:MM:SS or YYYY-MM-DD", s)
}
