package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestNextExecution_IntervalArithmetic(t *testing.T) {
	from := time.Date(2024, 1, 1, 9, 5, 0, 0, time.UTC)

	tests := []struct {
		name     string
		cfg      Config
		timezone string
		want     time.Time
		wantErr  bool
	}{
		{
			name: "one minute",
			cfg:  Config{IntervalMinutes: 1},
			want: time.Date(2024, 1, 1, 9, 6, 0, 0, time.UTC),
		},
		{
			name: "daily as 1440 minutes",
			cfg:  Config{IntervalMinutes: 1440},
			want: time.Date(2024, 1, 2, 9, 5, 0, 0, time.UTC),
		},
		{
			name:     "timezone does not shift the instant",
			cfg:      Config{IntervalMinutes: 60},
			timezone: "Asia/Riyadh",
			want:     time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC),
		},
		{
			name:    "zero interval rejected",
			cfg:     Config{IntervalMinutes: 0},
			wantErr: true,
		},
		{
			name:    "negative interval rejected",
			cfg:     Config{IntervalMinutes: -5},
			wantErr: true,
		},
		{
			name:    "bad timezone rejected",
			cfg:     Config{IntervalMinutes: 10},
			timezone: "Not/AZone",
			wantErr: true,
		},
		{
			name: "calendar fields accepted but ignored",
			cfg:  Config{IntervalMinutes: 30, TimeOfDay: "09:00", DayOfMonth: 15, DaysOfWeek: []int{1, 3}},
			want: time.Date(2024, 1, 1, 9, 35, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextExecution(tt.cfg, tt.timezone, from)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NextExecution() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSchedule) {
					t.Errorf("expected ErrInvalidSchedule, got %v", err)
				}
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextExecution() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "minimal valid", cfg: Config{IntervalMinutes: 1}},
		{name: "valid time_of_day", cfg: Config{IntervalMinutes: 5, TimeOfDay: "23:59"}},
		{name: "bad time_of_day", cfg: Config{IntervalMinutes: 5, TimeOfDay: "25:00"}, wantErr: true},
		{name: "day_of_month too large", cfg: Config{IntervalMinutes: 5, DayOfMonth: 32}, wantErr: true},
		{name: "day_of_week out of range", cfg: Config{IntervalMinutes: 5, DaysOfWeek: []int{7}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(`{"interval_minutes": 60, "time_of_day": "09:00"}`)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.IntervalMinutes != 60 {
		t.Errorf("expected interval 60, got %d", cfg.IntervalMinutes)
	}
	if cfg.TimeOfDay != "09:00" {
		t.Errorf("expected time_of_day 09:00, got %s", cfg.TimeOfDay)
	}

	if _, err := ParseConfig(""); err == nil {
		t.Error("expected error for empty config")
	}
	if _, err := ParseConfig("{not json"); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestLoadLocation_Default(t *testing.T) {
	loc, err := LoadLocation("")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	if loc.String() != DefaultTimezone {
		t.Errorf("expected default %s, got %s", DefaultTimezone, loc)
	}
}
