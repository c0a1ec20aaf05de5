// Package weaviate implements retrieval.Searcher on a Weaviate class whose
// objects are vectorized server-side, using nearText queries.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	wv "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/linnemanlabs/traceback/internal/retrieval"
)

var tracer = otel.Tracer("github.com/linnemanlabs/traceback/internal/search/weaviate")

const (
	DefaultClass       = "Document"
	DefaultTextField   = "content"
	DefaultSourceField = "source"
)

// Config describes the Weaviate endpoint and the class holding documents.
type Config struct {
	URL         string // http(s)://host:port
	APIKey      string
	Class       string
	TextField   string
	SourceField string
}

func (c *Config) applyDefaults() {
	if c.Class == "" {
		c.Class = DefaultClass
	}
	if c.TextField == "" {
		c.TextField = DefaultTextField
	}
	if c.SourceField == "" {
		c.SourceField = DefaultSourceField
	}
}

// Searcher queries one Weaviate class.
type Searcher struct {
	client *wv.Client
	cfg    Config
}

// New builds a Searcher for cfg. No request is made until the first search.
func New(cfg Config) (*Searcher, error) {
	cfg.applyDefaults()

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse weaviate url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("weaviate url %q has no host", cfg.URL)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}

	wcfg := wv.Config{Host: u.Host, Scheme: scheme}
	if cfg.APIKey != "" {
		wcfg.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}
	client, err := wv.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &Searcher{client: client, cfg: cfg}, nil
}

// SimilaritySearch returns the k objects nearest to query.
func (s *Searcher) SimilaritySearch(ctx context.Context, query string, k int) ([]retrieval.Hit, error) {
	if k <= 0 {
		return []retrieval.Hit{}, nil
	}

	ctx, span := tracer.Start(ctx, "weaviate.SimilaritySearch", trace.WithAttributes(
		attribute.String("db.system", "weaviate"),
		attribute.String("weaviate.class", s.cfg.Class),
		attribute.Int("retrieval.k", k),
	))
	defer span.End()

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	result, err := s.client.GraphQL().Get().
		WithClassName(s.cfg.Class).
		WithFields(
			graphql.Field{Name: s.cfg.TextField},
			graphql.Field{Name: s.cfg.SourceField},
			graphql.Field{Name: "_additional { certainty }"},
		).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weaviate nearText: %w", err)
	}

	hits, err := parseHits(result, s.cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	span.SetAttributes(attribute.Int("retrieval.hits", len(hits)))
	return hits, nil
}

// DocumentCount returns the number of objects in the class.
func (s *Searcher) DocumentCount(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "weaviate.DocumentCount", trace.WithAttributes(
		attribute.String("db.system", "weaviate"),
		attribute.String("weaviate.class", s.cfg.Class),
	))
	defer span.End()

	result, err := s.client.GraphQL().Aggregate().
		WithClassName(s.cfg.Class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("weaviate aggregate: %w", err)
	}
	n, err := parseCount(result, s.cfg.Class)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return n, err
}

// parseHits converts a Get response into hits. GraphQL errors fail the whole
// search so callers never see a partial result.
func parseHits(result *models.GraphQLResponse, cfg Config) ([]retrieval.Hit, error) {
	if result == nil {
		return nil, errors.New("weaviate returned no response")
	}
	if err := graphQLError(result); err != nil {
		return nil, err
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []retrieval.Hit{}, nil
	}
	objects, ok := data[cfg.Class].([]interface{})
	if !ok {
		return []retrieval.Hit{}, nil
	}

	hits := make([]retrieval.Hit, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected %s object of type %T", cfg.Class, obj)
		}
		h := retrieval.Hit{
			Text:   getString(m, cfg.TextField),
			Source: getString(m, cfg.SourceField),
		}
		if h.Source == "" {
			h.Source = "unknown"
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if c, ok := add["certainty"].(float64); ok {
				h.Score = c
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func parseCount(result *models.GraphQLResponse, class string) (int, error) {
	if result == nil {
		return 0, errors.New("weaviate returned no response")
	}
	if err := graphQLError(result); err != nil {
		return 0, err
	}
	agg, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	groups, ok := agg[class].([]interface{})
	if !ok || len(groups) == 0 {
		return 0, nil
	}
	group, ok := groups[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := group["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func graphQLError(result *models.GraphQLResponse) error {
	if len(result.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return fmt.Errorf("weaviate query error: %s", strings.Join(msgs, "; "))
}

func getString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
