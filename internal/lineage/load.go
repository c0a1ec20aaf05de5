package lineage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Description is the persisted form of a lineage graph.
type Description struct {
	Nodes      []NodeSpec      `json:"nodes" yaml:"nodes" validate:"dive"`
	Edges      []EdgeSpec      `json:"edges" yaml:"edges" validate:"dive"`
	Dashboards []DashboardSpec `json:"dashboards" yaml:"dashboards" validate:"dive"`
}

type NodeSpec struct {
	ID     string `json:"id" yaml:"id" validate:"required"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=table dashboard"`
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

type EdgeSpec struct {
	From      string `json:"from" yaml:"from" validate:"required"`
	To        string `json:"to" yaml:"to" validate:"required"`
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty"`
}

type DashboardSpec struct {
	ID     string   `json:"id" yaml:"id" validate:"required"`
	Tables []string `json:"tables" yaml:"tables" validate:"dive,required"`
}

// LoadError reports a missing or malformed lineage description.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("lineage load: %v", e.Err)
	}
	return fmt.Sprintf("lineage load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ErrNoPath is returned by Load when no description path is configured.
var ErrNoPath = errors.New("no lineage description configured")

var validate = validator.New()

// Load reads, validates and builds the description at path. YAML is used for
// .yaml/.yml files, JSON otherwise. All failures are *LoadError.
func Load(path string) (*Graph, error) {
	if path == "" {
		return nil, &LoadError{Err: ErrNoPath}
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	desc, err := Decode(data, formatFor(path))
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	g, err := Build(desc)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return g, nil
}

// Decode parses and validates a description in the given format ("json" or
// "yaml").
func Decode(data []byte, format string) (*Description, error) {
	var desc Description
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &desc); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &desc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported lineage format %q", format)
	}
	if err := validate.Struct(&desc); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	if len(desc.Nodes) == 0 && len(desc.Edges) == 0 {
		return nil, errors.New("description has no nodes and no edges")
	}
	return &desc, nil
}

// LoadOrFallback loads path and substitutes the fallback graph on any error.
// The returned error is the load failure (nil when path loaded cleanly) and is
// only meant for logging.
func LoadOrFallback(path string) (*Graph, error) {
	g, err := Load(path)
	if err != nil {
		return Fallback(), err
	}
	return g, nil
}

// FallbackDescription is the built-in sales pipeline used when no description
// can be loaded: raw -> curated -> analytics with two BI dashboards.
func FallbackDescription() *Description {
	return &Description{
		Nodes: []NodeSpec{
			{ID: "raw.sales_orders", Type: "table", Schema: "raw"},
			{ID: "curated.sales_orders", Type: "table", Schema: "curated"},
			{ID: "curated.revenue_summary", Type: "table", Schema: "curated"},
			{ID: "analytics.customer_behavior", Type: "table", Schema: "analytics"},
		},
		Edges: []EdgeSpec{
			{From: "raw.sales_orders", To: "curated.sales_orders", Operation: "clean+enrich"},
			{From: "curated.sales_orders", To: "curated.revenue_summary", Operation: "aggregate"},
			{From: "curated.sales_orders", To: "analytics.customer_behavior", Operation: "aggregate"},
		},
		Dashboards: []DashboardSpec{
			{ID: "bi.daily_sales", Tables: []string{"curated.sales_orders", "curated.revenue_summary"}},
			{ID: "bi.customer_analytics", Tables: []string{"analytics.customer_behavior"}},
		},
	}
}

// Fallback returns the graph built from FallbackDescription.
func Fallback() *Graph {
	g, err := Build(FallbackDescription())
	if err != nil {
		panic(err) // static data
	}
	return g
}

func formatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}
