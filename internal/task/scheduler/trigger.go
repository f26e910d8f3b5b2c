package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pinetick/internal/storage"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, &ValidationError{Field: "time_point", Reason: fmt.Sprintf("%q is not HH:MM[:SS]", s)}
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, &ValidationError{Field: "time_point", Reason: fmt.Sprintf("invalid hour in %q", s)}
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, &ValidationError{Field: "time_point", Reason: fmt.Sprintf("invalid minute in %q", s)}
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return TimeOfDay{}, &ValidationError{Field: "time_point", Reason: fmt.Sprintf("invalid second in %q", s)}
		}
	}
	return TimeOfDay{Hour: h, Minute: m, Second: sec}, nil
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59 && t.Second >= 0 && t.Second <= 59
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// On returns the instant at this time of day on day's calendar date, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, t.Hour, t.Minute, t.Second, 0, day.Location())
}

// ScheduleParams selects how a registered function recurs.
// Exactly one of Interval (seconds, >= 1) or TimePoint is set.
type ScheduleParams struct {
	Interval  int
	TimePoint *TimeOfDay
}

// NewScheduleParams validates and builds parameters. Pass interval 0 to omit it.
func NewScheduleParams(interval int, timePoint *TimeOfDay) (ScheduleParams, error) {
	p := ScheduleParams{Interval: interval, TimePoint: timePoint}
	if err := p.Validate(); err != nil {
		return ScheduleParams{}, err
	}
	return p, nil
}

// Every recurs the function every n seconds.
func Every(seconds int) (ScheduleParams, error) { return NewScheduleParams(seconds, nil) }

// DailyAt recurs the function once per day at tod.
func DailyAt(tod TimeOfDay) (ScheduleParams, error) { return NewScheduleParams(0, &tod) }

func (p ScheduleParams) Validate() error {
	switch {
	case p.Interval < 0:
		return &ValidationError{Field: "interval", Reason: "must be >= 1"}
	case p.Interval == 0 && p.TimePoint == nil:
		return &ValidationError{Field: "interval/time_point", Reason: "one of interval or time_point is required"}
	case p.Interval > 0 && p.TimePoint != nil:
		return &ValidationError{Field: "interval/time_point", Reason: "interval and time_point are mutually exclusive"}
	case p.TimePoint != nil && !p.TimePoint.valid():
		return &ValidationError{Field: "time_point", Reason: fmt.Sprintf("%s is out of range", p.TimePoint)}
	}
	return nil
}

func (p ScheduleParams) String() string {
	if p.TimePoint != nil {
		return "daily@" + p.TimePoint.String()
	}
	return "every " + strconv.Itoa(p.Interval) + "s"
}

// Seed computes the trigger kind and start time of a function's first row.
// A daily time point that has already passed today still yields today.
func Seed(p ScheduleParams, now time.Time) (storage.Trigger, time.Time) {
	if p.TimePoint != nil {
		return storage.TriggerTime, p.TimePoint.On(now)
	}
	return storage.TriggerInterval, now.Add(time.Duration(p.Interval) * time.Second)
}

// Next computes the start time of the occurrence after prior.
//
// Interval rows keep their period (start_at - created_at) measured from now,
// so drift accumulates by the execution lag. Time rows advance one calendar
// day in now's location. The returned kind is always unset; callers decide
// what to persist.
func Next(prior storage.TaskRecord, now time.Time) (storage.Trigger, time.Time) {
	switch prior.Trigger {
	case storage.TriggerInterval:
		return storage.TriggerUnset, now.Add(prior.StartAt.Sub(prior.CreatedAt))
	case storage.TriggerTime:
		return storage.TriggerUnset, prior.StartAt.In(now.Location()).AddDate(0, 0, 1)
	default:
		return storage.TriggerUnset, now
	}
}
