package lineage

import "sync/atomic"

// Source yields the graph to use for a single operation. Callers should fetch
// the graph once per operation so a concurrent reload cannot split a request
// across two graphs.
type Source interface {
	Current() *Graph
}

// Holder publishes the current graph. Reloads replace the pointer; graphs are
// never mutated in place.
type Holder struct {
	p atomic.Pointer[Graph]
}

// NewHolder returns a Holder publishing g.
func NewHolder(g *Graph) *Holder {
	h := &Holder{}
	h.p.Store(g)
	return h
}

// Current returns the published graph.
func (h *Holder) Current() *Graph { return h.p.Load() }

// Swap publishes g and returns the previous graph.
func (h *Holder) Swap(g *Graph) *Graph { return h.p.Swap(g) }

// Static adapts a fixed graph to Source.
func Static(g *Graph) Source { return staticSource{g} }

type staticSource struct{ g *Graph }

func (s staticSource) Current() *Graph { return s.g }
