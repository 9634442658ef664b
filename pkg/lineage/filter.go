package lineage

// FilterGraph keeps only nodes whose otype is in allowedOTypes. A removed
// node is spliced out: the kept nodes it led to become neighbors of the kept
// nodes that led to it, so reachability between kept nodes is preserved.
//
// The result lists kept top-level nodes in their original order. Each
// carries a non-nil neighbor list of plain references (id, otype and fully
// qualified name, never nested neighbors). The input is not modified.
func FilterGraph(nodes []GraphNode, allowedOTypes []string) []GraphNode {
	allowed := make(map[string]bool, len(allowedOTypes))
	for _, t := range allowedOTypes {
		allowed[t] = true
	}

	f := &graphFilter{
		allowed:   allowed,
		index:     make(map[string]*GraphNode),
		resolved:  make(map[string][]string),
		neighbors: make(map[string][]string),
	}
	f.buildIndex(nodes)

	for i := range nodes {
		f.resolve(nodes[i].Key())
	}

	out := make([]GraphNode, 0, len(nodes))
	emitted := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		key := n.Key()
		if !f.kept(key) || emitted[key] {
			continue
		}
		emitted[key] = true

		node := n.ref()
		node.Neighbors = make([]GraphNode, 0, len(f.neighbors[key]))
		for _, nk := range f.neighbors[key] {
			node.Neighbors = append(node.Neighbors, f.index[nk].ref())
		}
		out = append(out, node)
	}
	return out
}

// graphFilter holds the state of one FilterGraph call
type graphFilter struct {
	allowed map[string]bool
	// canonical value per node key; top-level occurrences win over nested ones
	index map[string]*GraphNode
	// memoized resolution: the kept keys a node stands for
	resolved map[string][]string
	// deduplicated kept neighbors of each kept node
	neighbors map[string][]string
}

func (f *graphFilter) buildIndex(nodes []GraphNode) {
	for i := range nodes {
		if _, ok := f.index[nodes[i].Key()]; !ok {
			f.index[nodes[i].Key()] = &nodes[i]
		}
	}
	for i := range nodes {
		f.indexNested(nodes[i].Neighbors)
	}
}

func (f *graphFilter) indexNested(nodes []GraphNode) {
	for i := range nodes {
		key := nodes[i].Key()
		if _, ok := f.index[key]; ok {
			continue
		}
		f.index[key] = &nodes[i]
		f.indexNested(nodes[i].Neighbors)
	}
}

func (f *graphFilter) kept(key string) bool {
	n, ok := f.index[key]
	if !ok || !f.allowed[n.OType] {
		return false
	}
	_, ok = f.resolved[key]
	return ok
}

// resolve returns the keys of the kept nodes that stand in for key: the node
// itself when its type is allowed, otherwise the kept nodes reachable
// through it.
func (f *graphFilter) resolve(key string) []string {
	if r, ok := f.resolved[key]; ok {
		return r
	}
	node := f.index[key]

	if !f.allowed[node.OType] {
		return f.expand(key)
	}

	self := []string{key}
	// memoized before descending so cycles back to this node terminate
	f.resolved[key] = self

	var union []string
	seen := make(map[string]bool)
	for _, nb := range node.Neighbors {
		for _, k := range f.resolve(nb.Key()) {
			if !seen[k] {
				seen[k] = true
				union = append(union, k)
			}
		}
	}
	f.neighbors[key] = union
	return self
}

// expand walks the removed nodes reachable from the removed node key and
// collects the kept nodes they lead to, depth first. The walk covers the
// whole removed region, so the memoized result is complete even when key
// sits on a cycle of removed nodes.
func (f *graphFilter) expand(key string) []string {
	var collected []string
	seen := make(map[string]bool)
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			collected = append(collected, k)
		}
	}

	visited := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		visited[cur] = true
		for _, nb := range f.index[cur].Neighbors {
			nk := nb.Key()
			switch {
			case f.allowed[f.index[nk].OType]:
				add(nk)
			case visited[nk]:
			default:
				if r, ok := f.resolved[nk]; ok {
					for _, k := range r {
						add(k)
					}
					continue
				}
				walk(nk)
			}
		}
	}
	walk(key)

	f.resolved[key] = collected
	for _, k := range collected {
		f.resolve(k)
	}
	return collected
}
