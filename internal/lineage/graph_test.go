package lineage

import (
	"reflect"
	"sync"
	"testing"
)

func mustBuild(t *testing.T, desc *Description) *Graph {
	t.Helper()
	g, err := Build(desc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestFallback_Shape(t *testing.T) {
	t.Parallel()

	g := Fallback()
	if g.NodeCount() != 4 {
		t.Errorf("NodeCount = %d, want 4", g.NodeCount())
	}
	if g.EdgeCount() != 3 {
		t.Errorf("EdgeCount = %d, want 3", g.EdgeCount())
	}
	if g.DashboardCount() != 2 {
		t.Errorf("DashboardCount = %d, want 2", g.DashboardCount())
	}
}

func TestDownstreamImpact_Fallback(t *testing.T) {
	t.Parallel()

	g := Fallback()
	tests := []struct {
		id   string
		want []string
	}{
		{"raw.sales_orders", []string{"curated.sales_orders", "curated.revenue_summary", "analytics.customer_behavior"}},
		{"curated.sales_orders", []string{"curated.revenue_summary", "analytics.customer_behavior"}},
		{"curated.revenue_summary", []string{}},
		{"analytics.customer_behavior", []string{}},
		{"does.not_exist", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			t.Parallel()
			got := g.DownstreamImpact(tt.id)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DownstreamImpact(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestUpstreamDependencies_Fallback(t *testing.T) {
	t.Parallel()

	g := Fallback()
	tests := []struct {
		id   string
		want []string
	}{
		{"raw.sales_orders", []string{}},
		{"curated.sales_orders", []string{"raw.sales_orders"}},
		{"curated.revenue_summary", []string{"curated.sales_orders", "raw.sales_orders"}},
		{"analytics.customer_behavior", []string{"curated.sales_orders", "raw.sales_orders"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			t.Parallel()
			got := g.UpstreamDependencies(tt.id)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("UpstreamDependencies(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestTraversal_Cycle(t *testing.T) {
	t.Parallel()

	g := mustBuild(t, &Description{
		Nodes: []NodeSpec{{ID: "raw.a"}, {ID: "raw.b"}},
		Edges: []EdgeSpec{
			{From: "raw.a", To: "raw.b"},
			{From: "raw.b", To: "raw.a"},
		},
	})

	if got := g.DownstreamImpact("raw.a"); !reflect.DeepEqual(got, []string{"raw.b"}) {
		t.Errorf("DownstreamImpact(raw.a) = %v, want [raw.b]", got)
	}
	if got := g.UpstreamDependencies("raw.a"); !reflect.DeepEqual(got, []string{"raw.b"}) {
		t.Errorf("UpstreamDependencies(raw.a) = %v, want [raw.b]", got)
	}
}

func TestTraversal_SelfLoopExcludesQuery(t *testing.T) {
	t.Parallel()

	g := mustBuild(t, &Description{
		Edges: []EdgeSpec{
			{From: "raw.a", To: "raw.a"},
			{From: "raw.a", To: "raw.b"},
		},
	})

	if got := g.DownstreamImpact("raw.a"); !reflect.DeepEqual(got, []string{"raw.b"}) {
		t.Errorf("DownstreamImpact(raw.a) = %v, want [raw.b]", got)
	}
}

func TestTraversal_DiamondVisitsOnce(t *testing.T) {
	t.Parallel()

	g := mustBuild(t, &Description{
		Edges: []EdgeSpec{
			{From: "raw.a", To: "raw.b"},
			{From: "raw.a", To: "raw.c"},
			{From: "raw.b", To: "raw.d"},
			{From: "raw.c", To: "raw.d"},
			{From: "raw.a", To: "raw.b"}, // parallel
		},
	})

	want := []string{"raw.b", "raw.d", "raw.c"}
	if got := g.DownstreamImpact("raw.a"); !reflect.DeepEqual(got, want) {
		t.Errorf("DownstreamImpact(raw.a) = %v, want %v", got, want)
	}
	if g.EdgeCount() != 5 {
		t.Errorf("EdgeCount = %d, want 5", g.EdgeCount())
	}
}

func TestTraversal_DanglingEndpoints(t *testing.T) {
	t.Parallel()

	g := mustBuild(t, &Description{
		Nodes: []NodeSpec{{ID: "raw.a"}},
		Edges: []EdgeSpec{{From: "raw.a", To: "curated.missing"}},
	})

	if got := g.DownstreamImpact("raw.a"); !reflect.DeepEqual(got, []string{"curated.missing"}) {
		t.Errorf("DownstreamImpact(raw.a) = %v", got)
	}
	if got := g.DownstreamImpact("curated.missing"); len(got) != 0 {
		t.Errorf("DownstreamImpact(curated.missing) = %v, want empty", got)
	}
	if got := g.UpstreamDependencies("curated.missing"); !reflect.DeepEqual(got, []string{"raw.a"}) {
		t.Errorf("UpstreamDependencies(curated.missing) = %v", got)
	}
}

func TestTraversal_Idempotent(t *testing.T) {
	t.Parallel()

	g := Fallback()
	first := g.DownstreamImpact("raw.sales_orders")
	second := g.DownstreamImpact("raw.sales_orders")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ: %v vs %v", first, second)
	}
}

func TestTraversal_Concurrent(t *testing.T) {
	t.Parallel()

	g := Fallback()
	want := g.DownstreamImpact("raw.sales_orders")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := g.DownstreamImpact("raw.sales_orders"); !reflect.DeepEqual(got, want) {
					t.Errorf("concurrent result = %v, want %v", got, want)
					return
				}
				_ = g.UpstreamDependencies("analytics.customer_behavior")
			}
		}()
	}
	wg.Wait()
}

func TestBuild_DuplicateNode(t *testing.T) {
	t.Parallel()

	_, err := Build(&Description{Nodes: []NodeSpec{{ID: "raw.a"}, {ID: "raw.a"}}})
	if err == nil {
		t.Fatal("expected error for duplicate node id")
	}
}

func TestBuild_DuplicateDashboard(t *testing.T) {
	t.Parallel()

	_, err := Build(&Description{
		Nodes:      []NodeSpec{{ID: "raw.a"}},
		Dashboards: []DashboardSpec{{ID: "bi.x"}, {ID: "bi.x"}},
	})
	if err == nil {
		t.Fatal("expected error for duplicate dashboard id")
	}
}

func TestBuild_NilDescription(t *testing.T) {
	t.Parallel()

	if _, err := Build(nil); err == nil {
		t.Fatal("expected error for nil description")
	}
}

func TestBuild_NodeDefaults(t *testing.T) {
	t.Parallel()

	g := mustBuild(t, &Description{Nodes: []NodeSpec{
		{ID: "curated.orders"},
		{ID: "bi.sales", Type: "dashboard", Schema: "reporting"},
	}})

	n, ok := g.Node("curated.orders")
	if !ok {
		t.Fatal("curated.orders not found")
	}
	if n.Kind != KindTable {
		t.Errorf("Kind = %q, want %q", n.Kind, KindTable)
	}
	if n.Schema != "curated" {
		t.Errorf("Schema = %q, want curated", n.Schema)
	}

	n, _ = g.Node("bi.sales")
	if n.Kind != KindDashboard || n.Schema != "reporting" {
		t.Errorf("bi.sales = %+v", n)
	}

	if _, ok := g.Node("nope"); ok {
		t.Error("expected unknown node to be absent")
	}
}

func TestDashboardsReading(t *testing.T) {
	t.Parallel()

	g := Fallback()
	tests := []struct {
		name   string
		tables []string
		want   []string
	}{
		{"revenue", []string{"curated.revenue_summary"}, []string{"bi.daily_sales"}},
		{"both", []string{"curated.sales_orders", "analytics.customer_behavior"}, []string{"bi.customer_analytics", "bi.daily_sales"}},
		{"raw only", []string{"raw.sales_orders"}, []string{}},
		{"none", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := g.DashboardsReading(tt.tables...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DashboardsReading(%v) = %v, want %v", tt.tables, got, tt.want)
			}
		})
	}
}

func TestDashboard_ReturnsCopy(t *testing.T) {
	t.Parallel()

	g := Fallback()
	d, ok := g.Dashboard("bi.daily_sales")
	if !ok {
		t.Fatal("bi.daily_sales not found")
	}
	d.Tables[0] = "mutated"

	again, _ := g.Dashboard("bi.daily_sales")
	if again.Tables[0] != "curated.sales_orders" {
		t.Errorf("graph mutated through returned dashboard: %v", again.Tables)
	}
}

func TestEdges_IncludesDanglingSources(t *testing.T) {
	t.Parallel()

	g := mustBuild(t, &Description{
		Nodes: []NodeSpec{{ID: "raw.a"}},
		Edges: []EdgeSpec{
			{From: "raw.z", To: "raw.a"},
			{From: "raw.a", To: "raw.b", Operation: "copy"},
		},
	})

	edges := g.Edges()
	if len(edges) != 2 {
		t.Fatalf("len(Edges) = %d, want 2", len(edges))
	}
	if edges[0].From != "raw.a" || edges[0].Operation != "copy" {
		t.Errorf("edges[0] = %+v", edges[0])
	}
	if edges[1].From != "raw.z" {
		t.Errorf("edges[1] = %+v", edges[1])
	}
}
