package config

import (
	"testing"
	"time"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Host == "" {
		t.Error("expected Server.Host to be set")
	}
	if cfg.Server.Port == 0 {
		t.Error("expected Server.Port to be non-zero")
	}
	if cfg.Database.Name == "" {
		t.Error("expected Database.Name to be set")
	}
	if cfg.Log.Level == "" {
		t.Error("expected Log.Level to be set")
	}
}

func TestConfig_DatabaseSettings(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected postgres driver default, got %s", cfg.Database.Driver)
	}
	if cfg.Database.MaxOpenConns == 0 {
		t.Error("expected MaxOpenConns to be set")
	}
	if cfg.Database.MaxIdleConns == 0 {
		t.Error("expected MaxIdleConns to be set")
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		t.Error("expected ConnMaxLifetime to be set")
	}
}

func TestConfig_SchedulerDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if !cfg.Scheduler.Enabled {
		t.Error("expected scheduler to be enabled by default")
	}
	if cfg.Scheduler.PollInterval != time.Minute {
		t.Errorf("expected 1m poll interval, got %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Scheduler.DefaultIntervalMinutes != 60 {
		t.Errorf("expected 60 minute default interval, got %d", cfg.Scheduler.DefaultIntervalMinutes)
	}
	if cfg.Scheduler.DefaultTimezone == "" {
		t.Error("expected a default timezone")
	}
	if _, err := time.LoadLocation(cfg.Scheduler.DefaultTimezone); err != nil {
		t.Errorf("default timezone must be loadable: %v", err)
	}
}

func TestConfig_SecurityDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if !cfg.Security.CORS.Enabled {
		t.Error("expected CORS to be enabled")
	}
	if !cfg.Security.RateLimiting.Enabled {
		t.Error("expected rate limiting to be enabled")
	}
	if cfg.Security.RateLimiting.RequestsPerMinute == 0 {
		t.Error("expected a request budget")
	}
}

func TestConfig_MonitoringDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Monitoring.MetricsPath == "" {
		t.Error("expected a metrics path")
	}
	// 追踪默认关闭，采样率仍需有效
	if cfg.Monitoring.Tracing.Enabled {
		t.Error("tracing should be opt-in")
	}
	if cfg.Monitoring.Tracing.SampleRatio <= 0 || cfg.Monitoring.Tracing.SampleRatio > 1 {
		t.Errorf("sample ratio out of range: %v", cfg.Monitoring.Tracing.SampleRatio)
	}
	if cfg.Monitoring.Tracing.ServiceName == "" {
		t.Error("expected a default tracing service name")
	}
}

func TestConfig_SMTPDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.SMTP.Enabled {
		t.Error("SMTP should be opt-in")
	}
	if cfg.SMTP.From == "" {
		t.Error("expected a default From address")
	}
}
