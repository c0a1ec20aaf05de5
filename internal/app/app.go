// Package app builds the traceback object graph once from configuration. The
// server and the CLI share it so both run the same lineage, retrieval and
// triage wiring.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/traceback/internal/cfg"
	"github.com/linnemanlabs/traceback/internal/lineage"
	"github.com/linnemanlabs/traceback/internal/llm/claude"
	"github.com/linnemanlabs/traceback/internal/llm/openai"
	"github.com/linnemanlabs/traceback/internal/llm/ratelimit"
	"github.com/linnemanlabs/traceback/internal/notify/slack"
	"github.com/linnemanlabs/traceback/internal/postgres"
	"github.com/linnemanlabs/traceback/internal/retrieval"
	"github.com/linnemanlabs/traceback/internal/search/memsearch"
	"github.com/linnemanlabs/traceback/internal/search/weaviate"
	"github.com/linnemanlabs/traceback/internal/triage"
	"github.com/linnemanlabs/traceback/internal/triage/memstore"
	"github.com/linnemanlabs/traceback/internal/triage/pgstore"
	"github.com/linnemanlabs/traceback/internal/triage/redisstore"
)

// ErrNoProvider is returned by New when RequireLLM is set and no generation
// provider is configured.
var ErrNoProvider = errors.New("no text generation provider configured")

// Searcher is a semantic searcher that can also report its corpus size.
type Searcher interface {
	retrieval.Searcher
	DocumentCount(ctx context.Context) (int, error)
}

// Options adjusts what New builds.
type Options struct {
	// Registerer receives triage metrics. Nil skips metrics.
	Registerer prometheus.Registerer
	// RequireLLM fails New when no provider can be built.
	RequireLLM bool
	// Notify enables the Slack notifier when a webhook is configured.
	Notify bool
}

// App holds the long-lived collaborators.
type App struct {
	Config    cfg.Config
	Logger    log.Logger
	Lineage   *lineage.Holder
	Extractor *lineage.Extractor
	Searcher  Searcher
	Retriever *retrieval.Retriever
	Metrics   *triage.Metrics

	// Provider, Workflow and Service are nil when no provider is configured.
	Provider triage.Provider
	Model    string
	Workflow *triage.Workflow
	Service  *triage.Service
	Store    triage.Store

	closers []func()
}

// New builds an App from c. Close releases what it opened.
func New(ctx context.Context, c cfg.Config, logger log.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = log.Nop()
	}
	a := &App{Config: c, Logger: logger}

	g, err := lineage.LoadOrFallback(c.LineagePath)
	if err != nil {
		logger.Warn(ctx, "using fallback lineage graph", "path", c.LineagePath, "err", err)
	}
	a.Lineage = lineage.NewHolder(g)
	a.Extractor = lineage.NewExtractor(c.NamespaceList())
	logger.Info(ctx, "lineage graph loaded",
		"nodes", g.NodeCount(),
		"edges", g.EdgeCount(),
		"dashboards", g.DashboardCount(),
	)

	a.Searcher, err = newSearcher(ctx, c, logger)
	if err != nil {
		return nil, err
	}
	a.Retriever = retrieval.New(a.Searcher, a.Lineage, a.Extractor, logger)

	if opts.Registerer != nil {
		a.Metrics = triage.NewMetrics(opts.Registerer)
	}

	a.Provider, a.Model, err = newProvider(c)
	if err != nil {
		return nil, err
	}
	if a.Provider == nil {
		if opts.RequireLLM {
			return nil, ErrNoProvider
		}
		logger.Warn(ctx, "no LLM provider configured, triage disabled", "provider", c.Provider)
		return a, nil
	}
	logger.Info(ctx, "initialized LLM provider",
		"provider", c.Provider,
		"model", a.Model,
		"rate_per_second", c.LLMRatePerSecond,
		"max_in_flight", c.LLMMaxInFlight,
	)

	var hooks triage.Hooks
	if a.Metrics != nil {
		hooks = a.Metrics.Hooks()
	}
	a.Workflow = triage.NewWorkflow(a.Provider, a.Retriever, a.Lineage, a.Extractor, logger, hooks, triage.Config{
		GenerateTimeout: c.GenerateTimeout(),
		MaxTokens:       c.MaxTokens,
	})

	a.Store, err = a.newStore(ctx, c, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var notifier triage.Notifier
	if opts.Notify && c.SlackWebhookURL != "" {
		notifier = slack.New(c.SlackWebhookURL, logger)
		logger.Info(ctx, "notifier enabled", "type", "slack")
	}

	a.Service = triage.NewService(a.Store, a.Workflow, logger, a.Metrics, notifier)
	return a, nil
}

// WatchLineage reloads the lineage description into the holder until ctx is
// canceled. It returns immediately when watching is disabled.
func (a *App) WatchLineage(ctx context.Context, onReload func(*lineage.Graph, error)) error {
	if !a.Config.WatchLineage {
		return nil
	}
	w := lineage.NewWatcher(a.Config.LineagePath, a.Lineage, a.Logger, lineage.WithReloadHook(onReload))
	return w.Run(ctx)
}

// Close waits for async triage runs and releases stores, in reverse order of
// creation.
func (a *App) Close() {
	if a.Service != nil {
		a.Service.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newSearcher(ctx context.Context, c cfg.Config, logger log.Logger) (Searcher, error) {
	if c.WeaviateURL == "" {
		idx := memsearch.FromDirs(ctx, logger, c.DocsDirList()...)
		logger.Info(ctx, "using in-memory search index", "documents", idx.Count())
		return idx, nil
	}
	s, err := weaviate.New(weaviate.Config{
		URL:    c.WeaviateURL,
		APIKey: c.WeaviateAPIKey,
		Class:  c.WeaviateClass,
	})
	if err != nil {
		return nil, fmt.Errorf("weaviate searcher: %w", err)
	}
	logger.Info(ctx, "using weaviate search", "url", c.WeaviateURL, "class", c.WeaviateClass)
	return s, nil
}

// newProvider returns nil when the selected provider has no API key.
func newProvider(c cfg.Config) (triage.Provider, string, error) {
	var (
		p     triage.Provider
		model string
	)
	switch c.Provider {
	case cfg.ProviderClaude:
		if c.ClaudeAPIKey == "" {
			return nil, "", nil
		}
		p, model = claude.New(c.ClaudeAPIKey, c.ClaudeModel), c.ClaudeModel
	case cfg.ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return nil, "", nil
		}
		oc := openai.New(c.OpenAIAPIKey, c.OpenAIModel, c.OpenAIBaseURL)
		p, model = oc, oc.Model()
	default:
		return nil, "", fmt.Errorf("unknown LLM provider %q", c.Provider)
	}
	return ratelimit.New(p, c.LLMRatePerSecond, c.LLMBurst, c.LLMMaxInFlight), model, nil
}

func (a *App) newStore(ctx context.Context, c cfg.Config, logger log.Logger) (triage.Store, error) {
	switch {
	case c.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		s, err := pgstore.New(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("pgstore init: %w", err)
		}
		logger.Info(ctx, "using postgres store", "max_conns", pool.Config().MaxConns)
		return s, nil
	case c.RedisURL != "":
		s, err := redisstore.New(ctx, c.RedisURL, redisstore.WithTTL(c.RedisTTL()))
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		logger.Info(ctx, "using redis store", "ttl", c.RedisTTL().String())
		return s, nil
	default:
		logger.Info(ctx, "using in-memory store (no database-url or redis-url configured)")
		return memstore.New(), nil
	}
}
