// ABOUTME: Environment-driven configuration for the piertotum worker sidecar
// ABOUTME: Optionally layers a TOML file under the environment, then validates

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// DefaultPollInterval is the autonomous loop's default poll cadence.
const DefaultPollInterval = 10 * time.Second

// MinPollInterval is the smallest accepted poll cadence; anything below it
// falls back to DefaultPollInterval.
const MinPollInterval = time.Second

// WorkerConfig holds all worker sidecar settings. Values come from the
// environment (highest precedence) over an optional TOML file named by
// WORKER_CONFIG.
type WorkerConfig struct {
	BrokerURL      string `toml:"broker_url" envconfig:"BROKER_URL"`
	AgentID        string `toml:"agent_id" envconfig:"AGENT_ID"`
	AgentName      string `toml:"agent_name" envconfig:"AGENT_NAME"`
	ProjectName    string `toml:"project_name" envconfig:"PROJECT_NAME"`
	ProjectPath    string `toml:"project_path" envconfig:"PROJECT_PATH"`
	AutoProcess    bool   `toml:"auto_process" envconfig:"AUTO_PROCESS"`
	PollIntervalMS int    `toml:"poll_interval_ms" envconfig:"POLL_INTERVAL_MS"`

	// LogLevel controls worker log verbosity (debug, info, warn, error).
	LogLevel string `toml:"log_level" envconfig:"WORKER_LOG_LEVEL"`
}

var agentIDInvalidChars = regexp.MustCompile(`[^a-z0-9-]`)

// SanitizeAgentID lowercases the id and replaces every character outside
// [a-z0-9-] with a dash.
func SanitizeAgentID(id string) string {
	return agentIDInvalidChars.ReplaceAllString(strings.ToLower(id), "-")
}

// LoadWorker builds the worker configuration: TOML file (if WORKER_CONFIG is
// set; a file that cannot be read or parsed is an error), then environment
// variables, then defaults, sanitization, and validation.
func LoadWorker() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}

	if path := os.Getenv("WORKER_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing worker config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("reading worker environment: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize applies defaults, sanitizes the agent id, clamps the poll
// interval, and validates the broker URL scheme.
func (c *WorkerConfig) finalize() error {
	if c.BrokerURL == "" {
		c.BrokerURL = fmt.Sprintf("http://localhost:%d", DefaultPort)
	}

	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return fmt.Errorf("invalid BROKER_URL %q: %w", c.BrokerURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("BROKER_URL scheme must be http or https, got %q", u.Scheme)
	}

	if c.AgentID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "worker"
		}
		c.AgentID = hostname
	}
	c.AgentID = SanitizeAgentID(c.AgentID)

	if c.AgentName == "" {
		c.AgentName = "SP-" + c.AgentID
	}
	if c.ProjectName == "" {
		c.ProjectName = "unknown"
	}
	if c.ProjectPath == "" {
		if wd, err := os.Getwd(); err == nil {
			c.ProjectPath = wd
		}
	}

	if c.PollIntervalMS <= 0 || time.Duration(c.PollIntervalMS)*time.Millisecond < MinPollInterval {
		c.PollIntervalMS = int(DefaultPollInterval / time.Millisecond)
	}

	return nil
}

// PollInterval returns the configured poll cadence as a duration.
func (c *WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}
