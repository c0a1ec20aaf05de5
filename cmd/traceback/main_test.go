package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linnemanlabs/traceback/internal/retrieval"
	"github.com/linnemanlabs/traceback/internal/triage"
)

// execute runs the CLI with a missing lineage file (fallback graph) and an
// empty docs directory unless args set them.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	if !slices.Contains(args, "--lineage-path") {
		args = append(args, "--lineage-path", filepath.Join(t.TempDir(), "missing.json"))
	}
	if !slices.Contains(args, "--docs-dirs") {
		args = append(args, "--docs-dirs", t.TempDir())
	}
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestLineage_JSON(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "lineage", "curated.sales_orders", "-o", "json")
	require.NoError(t, err)

	var got lineageView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "curated.sales_orders", got.Table)
	assert.True(t, got.Known)
	assert.Equal(t, []string{"raw.sales_orders"}, got.UpstreamDependencies)
	assert.ElementsMatch(t, []string{"curated.revenue_summary", "analytics.customer_behavior"}, got.DownstreamImpact)
	assert.ElementsMatch(t, []string{"bi.daily_sales", "bi.customer_analytics"}, got.Dashboards)
	assert.Equal(t, 3, got.TotalDependencies)
}

func TestLineage_Text(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "lineage", "raw.sales_orders")
	require.NoError(t, err)
	assert.Contains(t, out, "raw.sales_orders")
	assert.Contains(t, out, "curated.sales_orders")
	assert.Contains(t, out, "Total dependencies")
}

func TestLineage_UnknownTable(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "lineage", "staging.nothing", "-o", "json")
	require.NoError(t, err)

	var got lineageView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.False(t, got.Known)
	assert.Empty(t, got.DownstreamImpact)
	assert.Zero(t, got.TotalDependencies)
}

func TestLineage_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad format", []string{"lineage", "raw.sales_orders", "-o", "yaml"}, "unknown output format"},
		{"missing table", []string{"lineage"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSearch_MergesLineage(t *testing.T) {
	t.Parallel()

	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "orders_runbook.md"),
		[]byte("When sales orders arrive late, rerun the curated load."), 0o600))

	out, _, err := execute(t, "search", "curated.sales_orders", "late", "-l", "3", "-o", "json", "--docs-dirs", docs)
	require.NoError(t, err)

	var frags []retrieval.Fragment
	require.NoError(t, json.Unmarshal([]byte(out), &frags))
	require.NotEmpty(t, frags)
	assert.LessOrEqual(t, len(frags), 3)

	var kinds []retrieval.Kind
	for _, f := range frags {
		kinds = append(kinds, f.Kind)
	}
	assert.Contains(t, kinds, retrieval.KindLineage)
}

func TestSearch_Text(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "search", "data pipeline incident")
	require.NoError(t, err)
	assert.Contains(t, out, "incident_playbook.md")
}

func TestSearch_InvalidLimit(t *testing.T) {
	t.Parallel()

	for _, limit := range []string{"0", "51"} {
		_, _, err := execute(t, "search", "x", "-l", limit)
		require.Error(t, err, "limit %s", limit)
		assert.Contains(t, err.Error(), "limit must be")
	}
}

// fakeOpenAI answers every chat completion with brief.
func fakeOpenAI(t *testing.T, brief string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		content, _ := json.Marshal(brief)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": `+string(content)+`}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 40, "completion_tokens": 10, "total_tokens": 50}
		}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestTriage_JSON(t *testing.T) {
	t.Parallel()

	brief := "## Summary\nSales orders are late.\n\n## Recommended Actions\n- Rerun the curated load\n"
	srv, calls := fakeOpenAI(t, brief)

	out, _, err := execute(t, "triage", "curated.sales_orders", "is", "late",
		"-o", "json", "-p", "high",
		"--llm-provider", "openai",
		"--openai-api-key", "sk-test",
		"--openai-base-url", srv.URL+"/v1",
		"--llm-rate", "0",
	)
	require.NoError(t, err)

	var res triage.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, triage.StatusComplete, res.Status)
	assert.Equal(t, "curated.sales_orders is late", res.Question)
	assert.Equal(t, "high", res.Priority)
	assert.Contains(t, res.Brief, "Sales orders are late.")
	assert.ElementsMatch(t, []string{"curated.revenue_summary", "analytics.customer_behavior"}, res.BlastRadius)
	assert.NotEmpty(t, res.ID)
	// impact assessor and writer
	assert.EqualValues(t, 2, calls.Load())
}

func TestTriage_TextVerbose(t *testing.T) {
	t.Parallel()

	srv, _ := fakeOpenAI(t, "All quiet.")

	out, _, err := execute(t, "triage", "why is the dashboard slow",
		"-v",
		"--llm-provider", "openai",
		"--openai-api-key", "sk-test",
		"--openai-base-url", srv.URL+"/v1",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "All quiet.")
	assert.Contains(t, out, "Blast radius")
	assert.Contains(t, out, string(triage.StepWriter))
}

func TestTriage_TextVerboseShowsStageReason(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream overloaded","type":"server_error"}}`)
	}))
	t.Cleanup(srv.Close)

	out, _, err := execute(t, "triage", "why is the dashboard slow",
		"-v",
		"--llm-provider", "openai",
		"--openai-api-key", "sk-test",
		"--openai-base-url", srv.URL+"/v1",
		"--llm-rate", "0",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Reason")

	var writerRow string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, string(triage.StepWriter)) && strings.Contains(line, string(triage.OutcomeFailed)) {
			writerRow = line
			break
		}
	}
	require.NotEmpty(t, writerRow, "no failed writer row in:\n%s", out)
	assert.Contains(t, writerRow, "generation failed")
}

func TestTriage_RequiresKey(t *testing.T) {
	t.Parallel()

	_, _, err := execute(t, "triage", "anything", "--llm-provider", "openai")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestVersion(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "go=")
}

func TestClip(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b", clip("a\n  b", 10))
	assert.Equal(t, "abcd…", clip("abcdefgh", 5))
	assert.Equal(t, "héllo", clip("héllo", 5))
}
