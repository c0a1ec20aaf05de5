// Package retrieval merges semantic document search with lineage facts for the
// assets a query mentions.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/traceback/internal/lineage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/traceback/internal/retrieval")

// SourceLineage labels fragments derived from the lineage graph.
const SourceLineage = "lineage"

// maxListed caps how many ids each side of a lineage fragment lists.
const maxListed = 3

// Kind distinguishes where a fragment came from.
type Kind string

const (
	KindSemantic Kind = "semantic"
	KindLineage  Kind = "lineage"
)

// Fragment is one piece of evidence handed to the triage workflow.
type Fragment struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Kind   Kind   `json:"kind"`
}

// Hit is a single semantic search result.
type Hit struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score,omitempty"`
}

// Searcher is the semantic search collaborator.
type Searcher interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]Hit, error)
}

// Error reports a failed semantic search. Lineage fragments built for the same
// query are still returned alongside it.
type Error struct {
	Query string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieval for %q: %v", e.Query, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type graphKey struct{}

// WithGraph pins g for lineage lookups made by Search with the returned ctx.
func WithGraph(ctx context.Context, g *lineage.Graph) context.Context {
	if g == nil {
		return ctx
	}
	return context.WithValue(ctx, graphKey{}, g)
}

// GraphFromContext returns the graph pinned by WithGraph.
func GraphFromContext(ctx context.Context) (*lineage.Graph, bool) {
	g, ok := ctx.Value(graphKey{}).(*lineage.Graph)
	return g, ok
}

// Retriever combines a Searcher with the current lineage graph.
type Retriever struct {
	searcher  Searcher
	graphs    lineage.Source
	extractor *lineage.Extractor
	logger    log.Logger
}

// New returns a Retriever. A nil extractor recognizes the default namespaces.
func New(searcher Searcher, graphs lineage.Source, extractor *lineage.Extractor, logger log.Logger) *Retriever {
	if extractor == nil {
		extractor = lineage.NewExtractor(nil)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Retriever{
		searcher:  searcher,
		graphs:    graphs,
		extractor: extractor,
		logger:    logger,
	}
}

// Extractor returns the asset id extractor used for queries.
func (r *Retriever) Extractor() *lineage.Extractor { return r.extractor }

// Graph returns the lineage graph currently in use.
func (r *Retriever) Graph() *lineage.Graph { return r.graphs.Current() }

// Search returns up to k fragments: semantic hits first, then one lineage
// fragment per mentioned asset that has upstream or downstream neighbours.
// When the searcher fails only the lineage fragments are returned, with an
// *Error. Lineage comes from the graph pinned with WithGraph, if any, else
// from the current graph.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]Fragment, error) {
	if k <= 0 {
		return []Fragment{}, nil
	}

	ctx, span := tracer.Start(ctx, "retrieval.Search", trace.WithAttributes(
		attribute.Int("retrieval.k", k),
	))
	defer span.End()

	var (
		out       []Fragment
		searchErr error
	)

	if r.searcher != nil {
		hits, err := r.searcher.SimilaritySearch(ctx, query, k)
		if err != nil {
			// hits returned next to an error are not trusted
			hits = nil
			searchErr = &Error{Query: query, Err: err}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Warn(ctx, "semantic search failed, continuing with lineage only", "err", err)
		}
		for _, h := range hits {
			if len(out) == k {
				break
			}
			out = append(out, Fragment{Text: h.Text, Source: h.Source, Kind: KindSemantic})
		}
	}
	semantic := len(out)

	out = append(out, r.lineageFragments(ctx, query)...)
	if len(out) > k {
		out = out[:k]
	}
	if out == nil {
		out = []Fragment{}
	}

	span.SetAttributes(
		attribute.Int("retrieval.semantic", semantic),
		attribute.Int("retrieval.lineage", len(out)-semantic),
	)
	return out, searchErr
}

func (r *Retriever) lineageFragments(ctx context.Context, query string) []Fragment {
	g, ok := GraphFromContext(ctx)
	if !ok {
		g = r.graphs.Current()
	}
	if g == nil {
		return nil
	}

	var out []Fragment
	for _, id := range r.extractor.Extract(query) {
		up := g.UpstreamDependencies(id)
		down := g.DownstreamImpact(id)
		if len(up) == 0 && len(down) == 0 {
			continue
		}
		out = append(out, Fragment{
			Text:   FormatLineage(id, up, down),
			Source: SourceLineage,
			Kind:   KindLineage,
		})
	}
	return out
}

// FormatLineage renders the lineage fragment for id, e.g.
// "Table curated.sales_orders: Depends on raw.sales_orders. Impacts curated.revenue_summary."
// Each part lists at most three ids and is omitted when empty.
func FormatLineage(id string, upstream, downstream []string) string {
	var b strings.Builder
	b.WriteString("Table ")
	b.WriteString(id)
	b.WriteString(":")
	if len(upstream) > 0 {
		b.WriteString(" Depends on ")
		b.WriteString(strings.Join(head(upstream, maxListed), ", "))
		b.WriteString(".")
	}
	if len(downstream) > 0 {
		b.WriteString(" Impacts ")
		b.WriteString(strings.Join(head(downstream, maxListed), ", "))
		b.WriteString(".")
	}
	return b.String()
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
