// Package clock is the single source of "now" for the scheduler.
//
// Every timestamp written to the task log comes from a Clock so that values
// carry the configured zone and tests can pin time.
package clock

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// LoadLocation resolves an IANA zone name. Empty and "Local" map to time.Local.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// New returns the wall clock in the given zone.
func New(tz string) (Clock, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	return wall{loc: loc}, nil
}

// System is the wall clock in time.Local.
func System() Clock { return wall{loc: time.Local} }

type wall struct{ loc *time.Location }

func (w wall) Now() time.Time           { return time.Now().In(w.loc) }
func (w wall) Location() *time.Location { return w.loc }

// Manual is a settable clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(t time.Time) *Manual { return &Manual{now: t} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Location() *time.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.Location()
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
