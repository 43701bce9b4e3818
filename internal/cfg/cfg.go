package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds warden-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	Env         string
	DatabaseURL string
	APIToken    string

	AllowedActions    string
	AllowedNamespaces string

	SlackBotToken      string
	SlackChannelID     string
	SlackSigningSecret string

	ClaudeAPIKey string
	ClaudeModel  string

	KubeAPIEndpoint string
	KubeToken       string
	KubeInsecureTLS bool

	VerifyTimeoutSeconds  int
	VerifyIntervalSeconds int
	ReapproveAfterReject  bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.Env, "env", "dev", "environment label attached to incidents")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token for the webhook and query endpoints (empty = open)")
	fs.StringVar(&c.AllowedActions, "allowed-actions", "rollout_restart", "comma-separated actions the policy guard permits")
	fs.StringVar(&c.AllowedNamespaces, "allowed-namespaces", "default", "comma-separated namespaces actions may target")
	fs.StringVar(&c.SlackBotToken, "slack-bot-token", "", "Slack bot token for posting incident briefs (empty = notifications disabled)")
	fs.StringVar(&c.SlackChannelID, "slack-channel-id", "", "Slack channel for incident briefs")
	fs.StringVar(&c.SlackSigningSecret, "slack-signing-secret", "", "Slack signing secret for verifying interaction callbacks")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude LLM provider (empty = analysis disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.KubeAPIEndpoint, "kube-api-endpoint", "", "Kubernetes API server URL (empty = evidence collection and actions disabled)")
	fs.StringVar(&c.KubeToken, "kube-token", "", "bearer token for the Kubernetes API")
	fs.BoolVar(&c.KubeInsecureTLS, "kube-insecure-tls", false, "skip TLS verification against the Kubernetes API")
	fs.IntVar(&c.VerifyTimeoutSeconds, "verify-timeout-seconds", 30, "seconds to wait for a rollout to converge after restart (1..600)")
	fs.IntVar(&c.VerifyIntervalSeconds, "verify-interval-seconds", 2, "seconds between rollout status polls (1..60)")
	fs.BoolVar(&c.ReapproveAfterReject, "reapprove-after-reject", true, "allow approving a restart after a prior rejection")
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

	if c.Env == "" {
		errs = append(errs, errors.New("ENV is required"))
	}

	if c.AllowedActions == "" {
		errs = append(errs, errors.New("ALLOWED_ACTIONS is required"))
	}
	if c.AllowedNamespaces == "" {
		errs = append(errs, errors.New("ALLOWED_NAMESPACES is required"))
	}

	// Slack fields travel together: a token without a channel cannot post,
	// and interactive approvals without a signing secret cannot be trusted
	if c.SlackBotToken != "" {
		if c.SlackChannelID == "" {
			errs = append(errs, errors.New("SLACK_CHANNEL_ID is required when SLACK_BOT_TOKEN is set"))
		}
		if c.SlackSigningSecret == "" {
			errs = append(errs, errors.New("SLACK_SIGNING_SECRET is required when SLACK_BOT_TOKEN is set"))
		}
	}

	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if c.VerifyTimeoutSeconds <= 0 || c.VerifyTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid VERIFY_TIMEOUT_SECONDS %d (must be 1..600)", c.VerifyTimeoutSeconds))
	}
	if c.VerifyIntervalSeconds <= 0 || c.VerifyIntervalSeconds > 60 {
		errs = append(errs, fmt.Errorf("invalid VERIFY_INTERVAL_SECONDS %d (must be 1..60)", c.VerifyIntervalSeconds))
	}
	if c.VerifyIntervalSeconds >= c.VerifyTimeoutSeconds {
		errs = append(errs, fmt.Errorf("VERIFY_INTERVAL_SECONDS %d must be less than VERIFY_TIMEOUT_SECONDS %d", c.VerifyIntervalSeconds, c.VerifyTimeoutSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
