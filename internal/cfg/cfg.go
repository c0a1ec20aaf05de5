package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// LLM providers.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
)

// Config holds traceback's own settings. go-core packages (log, otelx,
// httpserver, ...) register their flags separately.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APITokens             string

	LineagePath  string
	WatchLineage bool
	Namespaces   string
	DocsDirs     string

	WeaviateURL    string
	WeaviateAPIKey string
	WeaviateClass  string

	Provider               string
	ClaudeAPIKey           string
	ClaudeModel            string
	OpenAIAPIKey           string
	OpenAIModel            string
	OpenAIBaseURL          string
	LLMRatePerSecond       float64
	LLMBurst               int
	LLMMaxInFlight         int
	GenerateTimeoutSeconds int
	MaxTokens              int

	DatabaseURL     string
	RedisURL        string
	RedisTTLHours   int
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma-separated bearer tokens for /api/v1 (empty = no auth)")

	fs.StringVar(&c.LineagePath, "lineage-path", "data/lineage_map.json", "lineage description file (.json, .yaml, .yml)")
	fs.BoolVar(&c.WatchLineage, "watch-lineage", true, "reload the lineage description when the file changes")
	fs.StringVar(&c.Namespaces, "namespaces", "raw,curated,analytics", "comma-separated asset namespaces recognised in questions")
	fs.StringVar(&c.DocsDirs, "docs-dirs", "data/sample_docs,data/sql_files", "comma-separated directories indexed by the in-memory searcher")

	fs.StringVar(&c.WeaviateURL, "weaviate-url", "", "Weaviate endpoint for semantic search (empty = in-memory index)")
	fs.StringVar(&c.WeaviateAPIKey, "weaviate-api-key", "", "Weaviate API key")
	fs.StringVar(&c.WeaviateClass, "weaviate-class", "Document", "Weaviate class holding the documents")

	fs.StringVar(&c.Provider, "llm-provider", ProviderClaude, "text generation provider (claude|openai)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the OpenAI provider")
	fs.StringVar(&c.OpenAIModel, "openai-model", "gpt-4o-mini", "OpenAI model to use")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "OpenAI-compatible API base URL (empty = api.openai.com)")
	fs.Float64Var(&c.LLMRatePerSecond, "llm-rate", 2, "max generation calls per second (0 = unlimited)")
	fs.IntVar(&c.LLMBurst, "llm-burst", 4, "generation call burst size")
	fs.IntVar(&c.LLMMaxInFlight, "llm-max-in-flight", 4, "max concurrent generation calls (0 = unlimited)")
	fs.IntVar(&c.GenerateTimeoutSeconds, "generate-timeout-seconds", 60, "timeout for a single generation call (1..600)")
	fs.IntVar(&c.MaxTokens, "max-tokens", 4096, "max output tokens per generation call (1..100000)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for triage results")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for triage results (redis://...)")
	fs.IntVar(&c.RedisTTLHours, "redis-ttl-hours", 168, "hours to keep triage results in Redis (0 = forever)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
}

// Validate checks every field used by the server.
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

	// One result store at most
	if c.DatabaseURL != "" && c.RedisURL != "" {
		errs = append(errs, errors.New("DATABASE_URL and REDIS_URL are mutually exclusive"))
	}
	if c.RedisTTLHours < 0 {
		errs = append(errs, fmt.Errorf("invalid REDIS_TTL_HOURS %d (must be >= 0)", c.RedisTTLHours))
	}

	if err := c.ValidateEngine(true); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ValidateEngine checks the fields needed to build the lineage graph, the
// retriever and, when requireLLM is set, the text generation provider.
func (c *Config) ValidateEngine(requireLLM bool) error {
	var errs []error

	if c.LineagePath == "" {
		errs = append(errs, errors.New("LINEAGE_PATH is required"))
	}
	if len(c.NamespaceList()) == 0 {
		errs = append(errs, errors.New("NAMESPACES must name at least one namespace"))
	}
	if c.WeaviateURL != "" {
		if u, err := url.Parse(c.WeaviateURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid WEAVIATE_URL %q", c.WeaviateURL))
		}
	}

	switch c.Provider {
	case ProviderClaude:
		if requireLLM && c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required"))
		}
	case ProviderOpenAI:
		if requireLLM && c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be claude or openai)", c.Provider))
	}

	if c.LLMRatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("invalid LLM_RATE %g (must be >= 0)", c.LLMRatePerSecond))
	}
	if c.LLMMaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("invalid LLM_MAX_IN_FLIGHT %d (must be >= 0)", c.LLMMaxInFlight))
	}
	if c.GenerateTimeoutSeconds <= 0 || c.GenerateTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid GENERATE_TIMEOUT_SECONDS %d (must be 1..600)", c.GenerateTimeoutSeconds))
	}
	if c.MaxTokens <= 0 || c.MaxTokens > 100000 {
		errs = append(errs, fmt.Errorf("invalid MAX_TOKENS %d (must be 1..100000)", c.MaxTokens))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// NamespaceList returns the configured namespaces, trimmed and lowercased.
func (c *Config) NamespaceList() []string {
	var out []string
	for _, ns := range splitList(c.Namespaces) {
		out = append(out, strings.ToLower(ns))
	}
	return out
}

// DocsDirList returns the configured document directories.
func (c *Config) DocsDirList() []string { return splitList(c.DocsDirs) }

// GenerateTimeout returns the per-call generation timeout.
func (c *Config) GenerateTimeout() time.Duration {
	return time.Duration(c.GenerateTimeoutSeconds) * time.Second
}

// RedisTTL returns how long Redis keeps triage results.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.RedisTTLHours) * time.Hour
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
