package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/go-core/log"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/traceback/internal/triage/pgstore.(*Store).Get", "(*Store).Get"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).Get", "(*Store).Get"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := shortenFuncName(tt.in)
			if got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReqDBStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}

	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	if s.QueryCount != 3 {
		t.Errorf("QueryCount = %d, want 3", s.QueryCount)
	}
	if s.TotalDuration != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", s.TotalDuration)
	}
	if s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
}

func TestReqDBStatsContext_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := NewReqDBStatsContext(context.Background())
	got, ok := ReqDBStatsFromContext(ctx)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got == nil {
		t.Fatal("expected non-nil stats")
	}

	// Verify it's the same pointer
	got.AddQuery(time.Millisecond, nil)
	got2, _ := ReqDBStatsFromContext(ctx)
	if got2.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", got2.QueryCount)
	}
}

func TestReqDBStatsFromContext_Missing(t *testing.T) {
	t.Parallel()

	_, ok := ReqDBStatsFromContext(context.Background())
	if ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestWithHTTPMethod_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithHTTPMethod(context.Background(), "POST")
	got := HTTPMethodFromContext(ctx)
	if got != "POST" {
		t.Errorf("HTTPMethodFromContext = %q, want %q", got, "POST")
	}
}

func TestWithHTTPMethod_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithHTTPMethod(context.Background(), "")
	got := HTTPMethodFromContext(ctx)
	if got != "" {
		t.Errorf("HTTPMethodFromContext = %q, want empty", got)
	}
}

func TestSetQueryObserver(t *testing.T) {
	t.Parallel()

	// Save and restore the global to avoid test pollution.
	defer SetQueryObserver(nil)

	called := false
	obs := QueryObserverFunc(func(_ context.Context, _, _, _ string, _ time.Duration) {
		called = true
	})

	SetQueryObserver(obs)
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "GET", "/test", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	got = getQueryObserver()
	if got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}

func TestIsNoiseFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fn   string
		want bool
	}{
		{"runtime.goexit", true},
		{"github.com/jackc/pgx/v5/pgxpool.(*Pool).QueryRow", true},
		{"github.com/exaring/otelpgx.(*Tracer).TraceQueryStart", true},
		{"github.com/linnemanlabs/traceback/internal/postgres.loggingTracer.TraceQueryStart", true},
		{"github.com/linnemanlabs/traceback/internal/triage/pgstore.(*Store).Get", false},
	}
	for _, tt := range tests {
		if got := isNoiseFrame(tt.fn); got != tt.want {
			t.Errorf("isNoiseFrame(%q) = %v, want %v", tt.fn, got, tt.want)
		}
	}
}

func TestQueryFields(t *testing.T) {
	t.Parallel()

	meta := &queryMeta{sql: "INSERT INTO triage_runs", args: []any{1, 2}, caller: "(*Store).Put"}
	fields := queryFields(meta, 2*time.Millisecond, pgx.TraceQueryEndData{
		CommandTag: pgconn.NewCommandTag("INSERT 0 1"),
		Err:        &pgconn.PgError{Code: "23505", ConstraintName: "triage_runs_pkey"},
	})

	got := map[string]any{}
	for i := 0; i+1 < len(fields); i += 2 {
		got[fields[i].(string)] = fields[i+1]
	}
	if got["db.operation.name"] != "INSERT" {
		t.Errorf("db.operation.name = %v, want INSERT", got["db.operation.name"])
	}
	if got["db.rows"] != int64(1) {
		t.Errorf("db.rows = %v, want 1", got["db.rows"])
	}
	if got["db.args"] != 2 {
		t.Errorf("db.args = %v, want 2", got["db.args"])
	}
	if got["db.caller"] != "(*Store).Put" {
		t.Errorf("db.caller = %v", got["db.caller"])
	}
	if _, ok := got["db.handler"]; ok {
		t.Error("db.handler should be omitted when empty")
	}
	if got["db.error_code"] != "23505" {
		t.Errorf("db.error_code = %v, want 23505", got["db.error_code"])
	}
}

func TestLoggingTracer_RecordsStats(t *testing.T) {
	tr := wrapQueryTracer(nil)
	ctx := log.WithContext(NewReqDBStatsContext(context.Background()), log.Nop())

	qctx := tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	s, _ := ReqDBStatsFromContext(ctx)
	if s.QueryCount != 1 || s.ErrorCount != 1 {
		t.Errorf("stats = %d queries / %d errors, want 1/1", s.QueryCount, s.ErrorCount)
	}
	if s.TotalDuration <= 0 {
		t.Errorf("TotalDuration = %v, want > 0", s.TotalDuration)
	}
}

func TestSetSlowQueryThreshold_Negative(t *testing.T) {
	defer SetSlowQueryThreshold(0)

	SetSlowQueryThreshold(-time.Second)
	if got := slowQuery.Load(); got != 0 {
		t.Errorf("slowQuery = %d, want 0", got)
	}
	SetSlowQueryThreshold(time.Second)
	if got := time.Duration(slowQuery.Load()); got != time.Second {
		t.Errorf("slowQuery = %v, want 1s", got)
	}
}

func TestNewPool_InvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), "postgres://%zz"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}
