package incidentapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/traceback/internal/retrieval"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

type searchResponse struct {
	Query   string               `json:"query"`
	Results []retrieval.Fragment `json:"results"`
	Total   int                  `json:"total"`
	Error   string               `json:"error,omitempty"`
}

type lineageResponse struct {
	Table                string   `json:"table"`
	Known                bool     `json:"known"`
	UpstreamDependencies []string `json:"upstream_dependencies"`
	DownstreamImpact     []string `json:"downstream_impact"`
	Dashboards           []string `json:"dashboards"`
	TotalDependencies    int      `json:"total_dependencies"`
}

type statsResponse struct {
	Documents      int     `json:"vectorstore_documents"`
	LineageNodes   int     `json:"lineage_nodes"`
	LineageEdges   int     `json:"lineage_edges"`
	Dashboards     int     `json:"lineage_dashboards"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	DocumentsError string  `json:"documents_error,omitempty"`
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	limit := defaultSearchLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxSearchLimit {
			writeError(w, http.StatusBadRequest, "limit must be 1..50")
			return
		}
		limit = n
	}

	frags, err := a.search.Search(r.Context(), query, limit)
	resp := searchResponse{Query: query, Results: frags, Total: len(frags)}
	if resp.Results == nil {
		resp.Results = []retrieval.Fragment{}
	}
	if err != nil {
		// partial results: lineage fragments survive a searcher failure
		a.logger.Warn(r.Context(), "search degraded", "query", query, "err", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLineage(w http.ResponseWriter, r *http.Request) {
	node := chi.URLParam(r, "node")
	g := a.graphs.Current()

	_, known := g.Node(node)
	up := g.UpstreamDependencies(node)
	down := g.DownstreamImpact(node)
	dash := g.DashboardsReading(append([]string{node}, down...)...)

	writeJSON(w, http.StatusOK, lineageResponse{
		Table:                node,
		Known:                known,
		UpstreamDependencies: up,
		DownstreamImpact:     down,
		Dashboards:           dash,
		TotalDependencies:    len(up) + len(down),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	g := a.graphs.Current()
	resp := statsResponse{
		LineageNodes:  g.NodeCount(),
		LineageEdges:  g.EdgeCount(),
		Dashboards:    g.DashboardCount(),
		UptimeSeconds: a.now().Sub(a.started).Seconds(),
	}
	if a.docs != nil {
		n, err := a.docs.DocumentCount(r.Context())
		if err != nil {
			a.logger.Warn(r.Context(), "document count failed", "err", err)
			resp.DocumentsError = err.Error()
		}
		resp.Documents = n
	}
	writeJSON(w, http.StatusOK, resp)
}
