// Package config loads runtime configuration from environment variables and
// optional YAML run profiles.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Version is the engine version run profiles gate against.
const Version = "0.1.0"

// Config holds the full runtime configuration.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Config struct {
	AgentCount     int
	Rounds         int
	Threshold      float64
	ExpiryRounds   int
	MaxPending     int
	VoteBudget     int
	ProposalBudget int

	Backend   string // "file" | "redis"
	DataDir   string
	RedisAddr string

	// S3 archive mirror for the file backend; disabled when Bucket is empty.
	S3Bucket   string
	S3Region   string
	S3Endpoint string

	GenesisText     string
	AuthoritySecret string
	DirectivePath   string

	VoteRule string // optional CEL expression; empty selects the heuristic

	LogLevel     string
	OTLPEndpoint string
	OTLPEnabled  bool
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		AgentCount:     envInt("ACCORD_AGENTS", 3),
		Rounds:         envInt("ACCORD_ROUNDS", 10),
		Threshold:      envFloat("ACCORD_THRESHOLD", 0.5),
		ExpiryRounds:   envInt("ACCORD_EXPIRY_ROUNDS", 3),
		MaxPending:     envInt("ACCORD_MAX_PENDING", 10),
		VoteBudget:     envInt("ACCORD_VOTE_BUDGET", 5),
		ProposalBudget: envInt("ACCORD_PROPOSAL_BUDGET", 1),

		Backend:   envStr("ACCORD_BACKEND", "file"),
		DataDir:   envStr("ACCORD_DATA_DIR", "./data"),
		RedisAddr: envStr("ACCORD_REDIS_ADDR", "localhost:6379"),

		S3Bucket:   os.Getenv("ACCORD_S3_BUCKET"),
		S3Region:   envStr("ACCORD_S3_REGION", "us-east-1"),
		S3Endpoint: os.Getenv("ACCORD_S3_ENDPOINT"),

		GenesisText:     envStr("ACCORD_GENESIS", "agents seek shared understanding through proposal and consensus"),
		AuthoritySecret: os.Getenv("ACCORD_AUTHORITY_SECRET"),
		DirectivePath:   envStr("ACCORD_DIRECTIVE_PATH", "./data/directive.txt"),

		VoteRule: os.Getenv("ACCORD_VOTE_RULE"),

		LogLevel:     envStr("LOG_LEVEL", "INFO"),
		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPEnabled:  os.Getenv("ACCORD_OTLP_ENABLED") == "true",
	}
}

// Validate checks the configuration bounds.
func (c *Config) Validate() error {
	if c.AgentCount < 2 {
		return fmt.Errorf("agent count %d: need at least 2 agents to form a quorum", c.AgentCount)
	}
	if c.Rounds < 1 {
		return fmt.Errorf("rounds %d: need at least one round", c.Rounds)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold %g: must be in [0, 1]", c.Threshold)
	}
	if c.ExpiryRounds < 1 {
		return fmt.Errorf("expiry rounds %d: must be positive", c.ExpiryRounds)
	}
	if c.MaxPending < 1 {
		return fmt.Errorf("max pending %d: must be positive", c.MaxPending)
	}
	switch c.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("backend %q: must be file or redis", c.Backend)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
