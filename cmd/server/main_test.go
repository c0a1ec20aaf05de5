package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/traceback/internal/lineage"
	"github.com/linnemanlabs/traceback/internal/postgres"
)

// pingAPI registers a single authenticated route.
type pingAPI struct{}

func (pingAPI) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/ping", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
}

func okHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}
}

func TestNewRouter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tokens   []string
		path     string
		auth     string
		wantCode int
		wantBody string
	}{
		{"healthy open", []string{"secret"}, "/-/healthy", "", http.StatusOK, "alive"},
		{"ready open", []string{"secret"}, "/-/ready", "", http.StatusOK, "ready"},
		{"api without token", []string{"secret"}, "/api/v1/ping", "", http.StatusUnauthorized, ""},
		{"api wrong token", []string{"secret"}, "/api/v1/ping", "Bearer nope", http.StatusUnauthorized, ""},
		{"api with token", []string{"secret"}, "/api/v1/ping", "Bearer secret", http.StatusOK, "pong"},
		{"api open without tokens", nil, "/api/v1/ping", "", http.StatusOK, "pong"},
		{"unknown route", nil, "/api/v1/nothing", "", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newRouter(pingAPI{}, tt.tokens, okHandler("alive"), okHandler("ready"))
			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestNewRouter_StashesHTTPMethod(t *testing.T) {
	t.Parallel()

	var got string
	api := registrarFunc(func(r chi.Router) {
		r.Post("/api/v1/probe", func(_ http.ResponseWriter, req *http.Request) {
			got = postgres.HTTPMethodFromContext(req.Context())
		})
	})
	r := newRouter(api, nil, okHandler(""), okHandler(""))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/probe", http.NoBody))
	if got != http.MethodPost {
		t.Errorf("method in request context = %q, want %q", got, http.MethodPost)
	}
}

type registrarFunc func(chi.Router)

func (f registrarFunc) RegisterRoutes(r chi.Router) { f(r) }

func TestLineageMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	lm := newLineageMetrics(reg)

	lm.setGraph(lineage.Fallback())
	if got := testutil.ToFloat64(lm.size.WithLabelValues("nodes")); got != 4 {
		t.Errorf("nodes = %v, want 4", got)
	}

	lm.onReload(nil, errors.New("bad yaml"))
	if got := testutil.ToFloat64(lm.reloads.WithLabelValues("error")); got != 1 {
		t.Errorf("error reloads = %v, want 1", got)
	}
	// failed reloads keep the gauges of the graph being served
	if got := testutil.ToFloat64(lm.size.WithLabelValues("edges")); got != 3 {
		t.Errorf("edges = %v, want 3", got)
	}

	g, err := lineage.Build(&lineage.Description{
		Nodes: []lineage.NodeSpec{{ID: "raw.a"}, {ID: "curated.b"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	lm.onReload(g, nil)
	if got := testutil.ToFloat64(lm.reloads.WithLabelValues("success")); got != 1 {
		t.Errorf("success reloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(lm.size.WithLabelValues("nodes")); got != 2 {
		t.Errorf("nodes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(lm.size.WithLabelValues("dashboards")); got != 0 {
		t.Errorf("dashboards = %v, want 0", got)
	}
}

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	// Create a real unixgram listener.
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}

	got := string(buf[:n])
	if got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}
