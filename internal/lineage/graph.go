package lineage

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the type of asset a node represents.
type Kind string

const (
	KindTable     Kind = "table"
	KindDashboard Kind = "dashboard"
)

// Node is a pipeline asset such as curated.sales_orders.
type Node struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"type"`
	Schema string `json:"schema"`
}

// Edge is a data-flow operation from one asset into another.
type Edge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Operation string `json:"operation,omitempty"`
}

// Dashboard maps a BI dashboard to the tables it reads. Dashboards are not part
// of the edge set.
type Dashboard struct {
	ID     string   `json:"id"`
	Tables []string `json:"tables"`
}

// Graph is an immutable lineage graph. It is safe for concurrent use.
type Graph struct {
	nodes      map[string]Node
	order      []string          // node ids in load order
	out        map[string][]Edge // from -> edges
	in         map[string][]Edge // to -> edges
	edgeCount  int
	dashboards map[string]Dashboard
	dashOrder  []string
	readers    map[string][]string // table -> dashboards reading it
}

// Build validates desc and returns the graph it describes.
func Build(desc *Description) (*Graph, error) {
	if desc == nil {
		return nil, fmt.Errorf("nil lineage description")
	}

	g := &Graph{
		nodes:      make(map[string]Node, len(desc.Nodes)),
		out:        make(map[string][]Edge),
		in:         make(map[string][]Edge),
		dashboards: make(map[string]Dashboard, len(desc.Dashboards)),
		readers:    make(map[string][]string),
	}

	for _, n := range desc.Nodes {
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		kind := Kind(n.Type)
		if kind == "" {
			kind = KindTable
		}
		schema := n.Schema
		if schema == "" {
			schema = namespaceOf(n.ID)
		}
		g.nodes[n.ID] = Node{ID: n.ID, Kind: kind, Schema: schema}
		g.order = append(g.order, n.ID)
	}

	for _, e := range desc.Edges {
		edge := Edge{From: e.From, To: e.To, Operation: e.Operation}
		g.out[e.From] = append(g.out[e.From], edge)
		g.in[e.To] = append(g.in[e.To], edge)
		g.edgeCount++
	}

	for _, d := range desc.Dashboards {
		if _, dup := g.dashboards[d.ID]; dup {
			return nil, fmt.Errorf("duplicate dashboard id %q", d.ID)
		}
		tables := append([]string(nil), d.Tables...)
		g.dashboards[d.ID] = Dashboard{ID: d.ID, Tables: tables}
		g.dashOrder = append(g.dashOrder, d.ID)
		for _, t := range tables {
			g.readers[t] = append(g.readers[t], d.ID)
		}
	}

	return g, nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in load order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges grouped by source node in node load order, followed by
// edges whose source is not a declared node.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, g.edgeCount)
	seen := make(map[string]bool, len(g.order))
	for _, id := range g.order {
		seen[id] = true
		out = append(out, g.out[id]...)
	}
	var dangling []string
	for from := range g.out {
		if !seen[from] {
			dangling = append(dangling, from)
		}
	}
	sort.Strings(dangling)
	for _, from := range dangling {
		out = append(out, g.out[from]...)
	}
	return out
}

// NodeCount returns the number of declared nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges, parallel edges included.
func (g *Graph) EdgeCount() int { return g.edgeCount }

// DashboardCount returns the number of dashboard mappings.
func (g *Graph) DashboardCount() int { return len(g.dashboards) }

// Dashboard returns the dashboard mapping with the given id.
func (g *Graph) Dashboard(id string) (Dashboard, bool) {
	d, ok := g.dashboards[id]
	if !ok {
		return Dashboard{}, false
	}
	d.Tables = append([]string(nil), d.Tables...)
	return d, true
}

// Dashboards returns all dashboard mappings in load order.
func (g *Graph) Dashboards() []Dashboard {
	out := make([]Dashboard, 0, len(g.dashOrder))
	for _, id := range g.dashOrder {
		d, _ := g.Dashboard(id)
		out = append(out, d)
	}
	return out
}

// DashboardsReading returns the sorted ids of dashboards that read at least one
// of the given tables.
func (g *Graph) DashboardsReading(tables ...string) []string {
	set := make(map[string]struct{})
	for _, t := range tables {
		for _, d := range g.readers[t] {
			set[d] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func namespaceOf(id string) string {
	if i := strings.Index(id, "."); i > 0 {
		return id[:i]
	}
	return ""
}
