package schedule

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTimezone is applied to rules created without an explicit zone.
const DefaultTimezone = "Asia/Riyadh"

// ErrInvalidSchedule indicates a malformed schedule config. It is raised
// eagerly at rule creation/update time, never during polling.
var ErrInvalidSchedule = fmt.Errorf("invalid schedule config")

// Config 调度配置
// IntervalMinutes is the authoritative repeat unit for every schedule
// type; the calendar-style fields are accepted for rule authors but do
// not alter the interval arithmetic.
type Config struct {
	IntervalMinutes int    `json:"interval_minutes"`
	TimeOfDay       string `json:"time_of_day,omitempty"`  // "HH:MM"
	DayOfMonth      int    `json:"day_of_month,omitempty"` // 1..31
	DaysOfWeek      []int  `json:"days_of_week,omitempty"` // 0..6, Sunday = 0
}

// ParseConfig decodes a stored JSON schedule config.
func ParseConfig(raw string) (Config, error) {
	var cfg Config
	if raw == "" {
		return cfg, fmt.Errorf("%w: empty config", ErrInvalidSchedule)
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return cfg, nil
}

// Validate checks the config fields without computing anything.
func (c Config) Validate() error {
	if c.IntervalMinutes <= 0 {
		return fmt.Errorf("%w: interval_minutes must be positive, got %d", ErrInvalidSchedule, c.IntervalMinutes)
	}
	if c.TimeOfDay != "" {
		if _, err := time.Parse("15:04", c.TimeOfDay); err != nil {
			return fmt.Errorf("%w: time_of_day %q is not HH:MM", ErrInvalidSchedule, c.TimeOfDay)
		}
	}
	if c.DayOfMonth != 0 && (c.DayOfMonth < 1 || c.DayOfMonth > 31) {
		return fmt.Errorf("%w: day_of_month %d out of range 1..31", ErrInvalidSchedule, c.DayOfMonth)
	}
	for _, d := range c.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: days_of_week entry %d out of range 0..6", ErrInvalidSchedule, d)
		}
	}
	return nil
}

// LoadLocation resolves an IANA timezone name, falling back to the
// default zone when empty.
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidSchedule, timezone, err)
	}
	return loc, nil
}

// NextExecution computes the instant of the next run: from + interval.
// The timezone affects display only; the underlying arithmetic is
// instant-based and timezone-independent.
func NextExecution(cfg Config, timezone string, from time.Time) (time.Time, error) {
	if err := cfg.Validate(); err != nil {
		return time.Time{}, err
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	next := from.Add(time.Duration(cfg.IntervalMinutes) * time.Minute)
	return next.In(loc), nil
}
