// Package incidentapi exposes triage, retrieval and lineage over HTTP.
package incidentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/traceback/internal/lineage"
	"github.com/linnemanlabs/traceback/internal/retrieval"
	"github.com/linnemanlabs/traceback/internal/triage"
)

// TriageService defines the business operations incidentapi needs.
type TriageService interface {
	Triage(ctx context.Context, req triage.Request) (*triage.Result, error)
	Submit(ctx context.Context, req triage.Request) (*triage.SubmitResult, error)
	Get(ctx context.Context, id string) (*triage.Result, bool, error)
}

// Searcher is the lineage-aware retriever.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Fragment, error)
}

// DocumentCounter reports how many documents the semantic index holds.
type DocumentCounter interface {
	DocumentCount(ctx context.Context) (int, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	svc     TriageService
	search  Searcher
	graphs  lineage.Source
	docs    DocumentCounter
	started time.Time
	now     func() time.Time
}

// New creates a new API handler. docs may be nil, in which case stats report
// zero documents.
func New(logger log.Logger, svc TriageService, search Searcher, graphs lineage.Source, docs DocumentCounter) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	if search == nil {
		panic(xerrors.New("retriever is required"))
	}
	if graphs == nil {
		panic(xerrors.New("lineage source is required"))
	}
	return &API{
		logger:  logger,
		svc:     svc,
		search:  search,
		graphs:  graphs,
		docs:    docs,
		started: time.Now(),
		now:     time.Now,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/triage", a.handleTriage)
		r.Post("/incidents", a.handleSubmit)
		r.Get("/incidents/{id}", a.handleGetIncident)
		r.Get("/search", a.handleSearch)
		r.Get("/lineage/{node}", a.handleLineage)
		r.Get("/stats", a.handleStats)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
