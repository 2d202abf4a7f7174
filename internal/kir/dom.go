package kir

// DomTree is the dominator tree of a function's CFG, computed with the
// iterative data-flow algorithm of Cooper, Harvey and Kennedy over a
// reverse-postorder numbering. Unreachable blocks have Idom == NoBlock.
type DomTree struct {
	Idom     []BlockID   // immediate dominator per block, entry's is itself
	Children [][]BlockID // dominator-tree children, ascending block order
	rpoIndex []int       // reverse-postorder position per block, -1 if unreachable
}

// BuildDomTree computes the dominator tree of f.
func BuildDomTree(f *Func) *DomTree {
	n := len(f.Blocks)
	dt := &DomTree{
		Idom:     make([]BlockID, n),
		Children: make([][]BlockID, n),
		rpoIndex: make([]int, n),
	}
	for i := range dt.Idom {
		dt.Idom[i] = NoBlock
		dt.rpoIndex[i] = -1
	}
	if n == 0 {
		return dt
	}

	rpo := postorder(f)
	reverse(rpo)
	for i, id := range rpo {
		dt.rpoIndex[id] = i
	}

	entry := f.Blocks[0].ID
	dt.Idom[entry] = entry

	for changed := true; changed; {
		changed = false
		for _, id := range rpo {
			if id == entry {
				continue
			}
			var newIdom = NoBlock
			for _, p := range f.Blocks[id].Preds {
				if dt.Idom[p] == NoBlock {
					continue // predecessor not yet processed or unreachable
				}
				if newIdom == NoBlock {
					newIdom = p
				} else {
					newIdom = dt.intersect(p, newIdom)
				}
			}
			if newIdom != NoBlock && dt.Idom[id] != newIdom {
				dt.Idom[id] = newIdom
				changed = true
			}
		}
	}

	for i := range f.Blocks {
		id := BlockID(i) //nolint:gosec // G115: bounded by block count
		if id == entry || dt.Idom[id] == NoBlock {
			continue
		}
		parent := dt.Idom[id]
		dt.Children[parent] = append(dt.Children[parent], id)
	}
	return dt
}

func (dt *DomTree) intersect(a, b BlockID) BlockID {
	for a != b {
		for dt.rpoIndex[a] > dt.rpoIndex[b] {
			a = dt.Idom[a]
		}
		for dt.rpoIndex[b] > dt.rpoIndex[a] {
			b = dt.Idom[b]
		}
	}
	return a
}

// Dominates reports whether a dominates b (reflexively).
func (dt *DomTree) Dominates(a, b BlockID) bool {
	if int(b) >= len(dt.Idom) || dt.Idom[b] == NoBlock {
		return false
	}
	for {
		if a == b {
			return true
		}
		parent := dt.Idom[b]
		if parent == b {
			return false // reached entry
		}
		b = parent
	}
}

// DominanceFrontier computes the dominance frontier of every block using
// the standard per-predecessor walk: for a join block j, every predecessor
// p walks up the dominator tree to idom(j), adding j to each frontier.
func DominanceFrontier(f *Func, dt *DomTree) [][]BlockID {
	df := make([][]BlockID, len(f.Blocks))
	for _, b := range f.Blocks {
		if len(b.Preds) < 2 || dt.Idom[b.ID] == NoBlock {
			continue
		}
		for _, p := range b.Preds {
			if dt.Idom[p] == NoBlock {
				continue
			}
			runner := p
			for runner != dt.Idom[b.ID] {
				if !containsBlock(df[runner], b.ID) {
					df[runner] = append(df[runner], b.ID)
				}
				next := dt.Idom[runner]
				if next == runner {
					break
				}
				runner = next
			}
		}
	}
	return df
}

// IteratedFrontier returns the iterated dominance frontier of a block set:
// the fixpoint of repeatedly adding frontiers of newly added blocks. This
// is where mem2reg places phis.
func IteratedFrontier(df [][]BlockID, defs []BlockID) []BlockID {
	inResult := make(map[BlockID]bool)
	work := append([]BlockID(nil), defs...)
	seen := make(map[BlockID]bool, len(defs))
	for _, d := range defs {
		seen[d] = true
	}

	var result []BlockID
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		if int(b) >= len(df) {
			continue
		}
		for _, fb := range df[b] {
			if inResult[fb] {
				continue
			}
			inResult[fb] = true
			result = append(result, fb)
			if !seen[fb] {
				seen[fb] = true
				work = append(work, fb)
			}
		}
	}
	return result
}

// postorder returns reachable block ids in DFS postorder.
func postorder(f *Func) []BlockID {
	seen := make([]bool, len(f.Blocks))
	order := make([]BlockID, 0, len(f.Blocks))

	var visit func(id BlockID)
	visit = func(id BlockID) {
		if id < 0 || int(id) >= len(f.Blocks) || seen[id] {
			return
		}
		seen[id] = true
		f.Blocks[id].Term.Successors(visit)
		order = append(order, id)
	}
	if len(f.Blocks) > 0 {
		visit(f.Blocks[0].ID)
	}
	return order
}

func reverse(ids []BlockID) {
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}

func containsBlock(ids []BlockID, id BlockID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
