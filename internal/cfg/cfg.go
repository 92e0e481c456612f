package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds            int
	ShutdownBudgetSeconds   int
	APIPort                 int
	DatabaseURL             string
	RedisURL                string
	ClaudeAPIKey            string
	ClaudeModel             string
	TriageTimeoutSeconds    int
	TriageMaxAttempts       int
	TriageRetryDelaySeconds int
	WorkerCount             int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis connection URL for the queue and event bridge (empty = in-process)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.IntVar(&c.TriageTimeoutSeconds, "triage-timeout-seconds", 30, "per-call LLM timeout in seconds (1..300)")
	fs.IntVar(&c.TriageMaxAttempts, "triage-max-attempts", 3, "claim-and-process attempts per triage job (1..10)")
	fs.IntVar(&c.TriageRetryDelaySeconds, "triage-retry-delay-seconds", 5, "delay between triage attempts in seconds (0..60)")
	fs.IntVar(&c.WorkerCount, "worker-count", 2, "concurrent triage workers (1..64)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.TriageTimeoutSeconds <= 0 || c.TriageTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid TRIAGE_TIMEOUT_SECONDS %d (must be 1..300)", c.TriageTimeoutSeconds))
	}
	if c.TriageMaxAttempts <= 0 || c.TriageMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid TRIAGE_MAX_ATTEMPTS %d (must be 1..10)", c.TriageMaxAttempts))
	}
	if c.TriageRetryDelaySeconds < 0 || c.TriageRetryDelaySeconds > 60 {
		errs = append(errs, fmt.Errorf("invalid TRIAGE_RETRY_DELAY_SECONDS %d (must be 0..60)", c.TriageRetryDelaySeconds))
	}
	if c.WorkerCount <= 0 || c.WorkerCount > 64 {
		errs = append(errs, fmt.Errorf("invalid WORKER_COUNT %d (must be 1..64)", c.WorkerCount))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
