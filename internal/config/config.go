package config

import (
	"os"
	"time"
)

// Config holds the full set of FuelFlux controller settings, loaded from
// the process environment at startup. Peripheral pin/bus configuration
// (chip paths, line offsets, polarity, poll/debounce intervals) is
// explicitly out of the core's scope per the specification and is not
// modeled here beyond the controller identity used to talk to peripherals.
type Config struct {
	ControllerID string

	BackendBaseURL string

	StoreDBPath string

	LogLevel  string
	LogFormat string

	InactivityTimeout  time.Duration
	NoFlowTimeout      time.Duration
	BacklogInterval    time.Duration
	CacheDailyHour     int
	CacheRetryInterval time.Duration

	ExecutorWorkers  int
	ExecutorQueueLen int

	BackendRateLimitPerSecond float64
	BackendRateLimitBurst     int

	DiagnosticsAddr string
}

// Load reads configuration from the OS environment.
func Load() Config {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration via the supplied getenv function, allowing
// tests to inject a fake environment without mutating process state.
func LoadFrom(getenv func(string) string) Config {
	return Config{
		ControllerID: GetEnv(getenv, "FUELFLUX_CONTROLLER_ID", "fuelflux-controller-0"),

		BackendBaseURL: GetEnv(getenv, "FUELFLUX_BACKEND_URL", "https://api.fuelflux.local"),

		StoreDBPath: GetEnv(getenv, "FUELFLUX_STORE_DB", "/var/lib/fuelflux/store.db"),

		LogLevel:  GetEnv(getenv, "LOG_LEVEL", "info"),
		LogFormat: GetEnv(getenv, "LOG_FORMAT", "json"),

		InactivityTimeout:  GetEnvDuration(getenv, "FUELFLUX_INACTIVITY_TIMEOUT", 30*time.Second),
		NoFlowTimeout:      GetEnvDuration(getenv, "FUELFLUX_NO_FLOW_TIMEOUT", 30*time.Second),
		BacklogInterval:    GetEnvDuration(getenv, "FUELFLUX_BACKLOG_INTERVAL", 30*time.Second),
		CacheDailyHour:     GetEnvInt(getenv, "FUELFLUX_CACHE_DAILY_HOUR", 2),
		CacheRetryInterval: GetEnvDuration(getenv, "FUELFLUX_CACHE_RETRY_INTERVAL", 60*time.Minute),

		ExecutorWorkers:  GetEnvInt(getenv, "FUELFLUX_EXECUTOR_WORKERS", 1),
		ExecutorQueueLen: GetEnvInt(getenv, "FUELFLUX_EXECUTOR_QUEUE_LEN", 100),

		BackendRateLimitPerSecond: GetEnvFloat(getenv, "FUELFLUX_BACKEND_RATE_LIMIT", 5.0),
		BackendRateLimitBurst:     GetEnvInt(getenv, "FUELFLUX_BACKEND_RATE_BURST", 10),

		DiagnosticsAddr: GetEnv(getenv, "FUELFLUX_DIAGNOSTICS_ADDR", "127.0.0.1:8741"),
	}
}
