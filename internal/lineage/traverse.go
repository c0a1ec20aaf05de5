package lineage

// DownstreamImpact returns every node reachable from id by following edges in
// their from -> to direction, excluding id itself. Each node appears once, in
// depth-first pre-order. Unknown ids yield an empty result.
func (g *Graph) DownstreamImpact(id string) []string {
	return g.walk(id, g.out, func(e Edge) string { return e.To })
}

// UpstreamDependencies returns every node that id transitively depends on,
// following edges in reverse. Same ordering and exclusion rules as
// DownstreamImpact.
func (g *Graph) UpstreamDependencies(id string) []string {
	return g.walk(id, g.in, func(e Edge) string { return e.From })
}

// walk is an iterative depth-first traversal. The visited set is local to the
// call so concurrent walks over the same graph share nothing mutable.
func (g *Graph) walk(start string, adj map[string][]Edge, next func(Edge) string) []string {
	out := []string{}
	visited := map[string]bool{start: true}

	stack := pushReversed(nil, adj[start], next)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		out = append(out, id)
		stack = pushReversed(stack, adj[id], next)
	}
	return out
}

// pushReversed pushes neighbours in reverse so the first edge is popped first,
// matching the order a recursive walk would visit them in.
func pushReversed(stack []string, edges []Edge, next func(Edge) string) []string {
	for i := len(edges) - 1; i >= 0; i-- {
		stack = append(stack, next(edges[i]))
	}
	return stack
}
