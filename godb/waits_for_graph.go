package godb

// WaitsForGraph implements §4.3: an ephemeral directed graph built from
// LockTable state on demand, used only to decide whether the
// just-arrived requester must be aborted. It is never persisted across
// calls.
//
// Grounded on the teacher's BufferPool.hasCycle(), which built its edges
// from a `transactionDependencies` map maintained incrementally rather
// than recomputed per call, and used recursion. Both choices are replaced
// here per the spec: edges are recomputed fresh from LockTable.holds/
// wants each time (§4.3: "one-shot check per getPage call — graph is not
// persisted"), and the DFS uses an explicit stack instead of recursion
// per §9's redesign note ("convert to an explicit stack to avoid
// call-stack blowup").
type WaitsForGraph struct {
	edges map[TransactionID]map[TransactionID]struct{}
}

// BuildWaitsForGraph constructs G = (V, E) from the current LockTable
// state, per the edge-construction rule of §4.3:
//   - a ReadWrite want adds an edge to every holder (shared or exclusive)
//     of the wanted page, other than the requester itself;
//   - a ReadOnly want adds an edge only to the page's exclusive holder,
//     if any, other than the requester itself.
func BuildWaitsForGraph(lt *LockTable) *WaitsForGraph {
	g := &WaitsForGraph{edges: make(map[TransactionID]map[TransactionID]struct{})}

	for tid, w := range lt.Wants() {
		excl, hasExcl, shared := lt.HoldersOf(w.pid)
		switch w.mode {
		case ReadWrite:
			if hasExcl && excl != tid {
				g.addEdge(tid, excl)
			}
			for _, h := range shared {
				if h != tid {
					g.addEdge(tid, h)
				}
			}
		case ReadOnly:
			if hasExcl && excl != tid {
				g.addEdge(tid, excl)
			}
		}
	}

	return g
}

func (g *WaitsForGraph) addEdge(from, to TransactionID) {
	m, ok := g.edges[from]
	if !ok {
		m = make(map[TransactionID]struct{})
		g.edges[from] = m
	}
	m[to] = struct{}{}
}

// HasCycle reports whether the graph contains a cycle reachable from the
// requester, using iterative DFS with explicit marked/onStack sets (a
// back-edge to a vertex currently on the stack is a cycle).
func (g *WaitsForGraph) HasCycle(requester TransactionID) bool {
	marked := make(map[TransactionID]bool)
	onStack := make(map[TransactionID]bool)

	type frame struct {
		tid      TransactionID
		children []TransactionID
		idx      int
	}

	childrenOf := func(tid TransactionID) []TransactionID {
		neighbors := g.edges[tid]
		out := make([]TransactionID, 0, len(neighbors))
		for n := range neighbors {
			out = append(out, n)
		}
		return out
	}

	stack := []*frame{{tid: requester, children: childrenOf(requester)}}
	marked[requester] = true
	onStack[requester] = true

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.idx >= len(top.children) {
			onStack[top.tid] = false
			stack = stack[:len(stack)-1]
			continue
		}

		next := top.children[top.idx]
		top.idx++

		if onStack[next] {
			return true
		}
		if marked[next] {
			continue
		}

		marked[next] = true
		onStack[next] = true
		stack = append(stack, &frame{tid: next, children: childrenOf(next)})
	}

	return false
}
