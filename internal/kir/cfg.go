package kir

// Reachable performs a DFS from the entry block and returns a bitmap of
// reachable blocks.
func Reachable(f *Func) []bool {
	reachable := make([]bool, len(f.Blocks))

	var visit func(id BlockID)
	visit = func(id BlockID) {
		if id < 0 || int(id) >= len(f.Blocks) || reachable[id] {
			return
		}
		reachable[id] = true
		f.Blocks[id].Term.Successors(visit)
	}

	if len(f.Blocks) > 0 {
		visit(f.Blocks[0].ID)
	}
	return reachable
}

// SimplifyCFG removes trivial forwarding blocks and unreachable blocks,
// then renumbers the remaining blocks.
// Transformations:
//  1. Redirect edges through empty goto blocks (chains collapsed). A
//     forwarding block whose target carries phis is left alone: the phi
//     edges name it.
//  2. Remove blocks unreachable from entry, dropping their phi edges in
//     surviving blocks.
//  3. Compact and renumber, remapping terminators, phi edges and preds.
func SimplifyCFG(f *Func) bool {
	if f == nil || len(f.Blocks) == 0 {
		return false
	}

	changed := applyRedirects(f, buildRedirectMap(f))

	reachable := Reachable(f)
	count := 0
	for _, r := range reachable {
		if r {
			count++
		}
	}
	if count == len(f.Blocks) {
		if changed {
			f.RecomputePreds()
		}
		return changed
	}

	dropDeadPhiEdges(f, reachable)
	compactBlocks(f, reachable, count)
	f.RecomputePreds()
	return true
}

// buildRedirectMap finds trivial forwarding blocks (no instructions, jump
// terminator, phi-free target) and maps them to their final targets.
func buildRedirectMap(f *Func) map[BlockID]BlockID {
	redirects := make(map[BlockID]BlockID)

	for _, b := range f.Blocks {
		if !isTrivialJumpBlock(f, b.ID) {
			continue
		}
		target := b.Term.Jump.Target
		visited := map[BlockID]bool{b.ID: true}
		for !visited[target] {
			visited[target] = true
			if next, ok := redirects[target]; ok {
				target = next
				continue
			}
			if isTrivialJumpBlock(f, target) {
				target = f.Blocks[target].Term.Jump.Target
				continue
			}
			break
		}
		if tb := f.Block(target); tb != nil && len(tb.Phis()) == 0 && target != b.ID {
			redirects[b.ID] = target
		}
	}
	return redirects
}

func isTrivialJumpBlock(f *Func, id BlockID) bool {
	b := f.Block(id)
	if b == nil || b.ID == 0 {
		return false // never forward the entry away
	}
	return len(b.Instrs) == 0 && b.Term.Kind == TermJump
}

func applyRedirects(f *Func, redirects map[BlockID]BlockID) bool {
	if len(redirects) == 0 {
		return false
	}
	redirect := func(id BlockID) BlockID {
		if newID, ok := redirects[id]; ok {
			return newID
		}
		return id
	}
	for _, b := range f.Blocks {
		b.Term.Retarget(redirect)
	}
	return true
}

// dropDeadPhiEdges removes phi operands arriving from unreachable blocks.
func dropDeadPhiEdges(f *Func, reachable []bool) {
	for _, b := range f.Blocks {
		if !reachable[b.ID] {
			continue
		}
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Op != OpPhi {
				break
			}
			for j := len(in.Preds) - 1; j >= 0; j-- {
				p := in.Preds[j]
				if int(p) < len(reachable) && !reachable[p] {
					in.RemovePhiEdge(p)
				}
			}
		}
	}
}

// compactBlocks drops unreachable blocks and renumbers the survivors,
// remapping every block reference.
func compactBlocks(f *Func, reachable []bool, count int) {
	oldToNew := make(map[BlockID]BlockID, count)
	newBlocks := make([]*Block, 0, count)

	for i, keep := range reachable {
		if keep {
			oldToNew[BlockID(i)] = BlockID(len(newBlocks)) //nolint:gosec // G115: bounded by block count
			newBlocks = append(newBlocks, f.Blocks[i])
		}
	}

	remap := func(id BlockID) BlockID {
		if newID, ok := oldToNew[id]; ok {
			return newID
		}
		return id
	}

	for i, b := range newBlocks {
		b.ID = BlockID(i) //nolint:gosec // G115: bounded by block count
		b.Term.Retarget(remap)
		for j := range b.Instrs {
			in := &b.Instrs[j]
			if in.Op != OpPhi {
				break
			}
			for k := range in.Preds {
				in.Preds[k] = remap(in.Preds[k])
			}
		}
	}

	f.Blocks = newBlocks
}
