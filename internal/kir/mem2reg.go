package kir

import "knull/internal/types"

// PromoteAllocas rewrites promotable stack slots into SSA registers,
// inserting phis at iterated dominance frontiers. Returns whether the
// function changed.
//
// An alloca is promotable iff its address never escapes: it only ever
// appears as the address operand of loads and stores. Address-taken
// allocas stay real memory operations.
func PromoteAllocas(f *Func) bool {
	cands := promotableAllocas(f)
	if len(cands) == 0 {
		return false
	}

	dt := BuildDomTree(f)
	df := DominanceFrontier(f, dt)

	pr := &promoter{
		f:        f,
		cands:    cands,
		phiOwner: make(map[RegID]RegID),
		renames:  make(map[Value]Value),
		stacks:   make(map[RegID][]Value, len(cands)),
	}
	pr.insertPhis(dt, df)
	pr.rename(dt, f.Entry().ID)
	pr.rewrite()
	return true
}

// allocaInfo describes one promotion candidate.
type allocaInfo struct {
	slot Value        // the alloca's pointer result
	elem types.TypeID // promoted value type
}

// promotableAllocas selects candidates: allocas whose pointer is used only
// as the address operand of loads and stores.
func promotableAllocas(f *Func) map[RegID]allocaInfo {
	cands := make(map[RegID]allocaInfo)
	f.ForEachInstr(func(_ *Block, _ int, in *Instr) {
		if in.Op == OpAlloca {
			cands[in.Result.Reg] = allocaInfo{slot: in.Result, elem: in.Type}
		}
	})

	disqualify := func(v Value) {
		if v.Kind == ValReg {
			delete(cands, v.Reg)
		}
	}
	f.ForEachInstr(func(_ *Block, _ int, in *Instr) {
		switch in.Op {
		case OpLoad:
			// address position only; nothing to check
		case OpStore:
			disqualify(in.Args[1]) // storing the address itself escapes it
		default:
			for _, a := range in.Args {
				disqualify(a)
			}
		}
	})
	for _, b := range f.Blocks {
		b.Term.Uses(disqualify)
	}
	return cands
}

type promoter struct {
	f     *Func
	cands map[RegID]allocaInfo

	// phiOwner maps an inserted phi's result register to the candidate
	// slot register it merges.
	phiOwner map[RegID]RegID

	// renames maps each promoted load's result to the value that reaches
	// it. Chains are resolved through the map.
	renames map[Value]Value

	// stacks holds the reaching value per candidate during the dominator
	// tree walk.
	stacks map[RegID][]Value
}

// insertPhis places one phi per candidate at every block of the iterated
// dominance frontier of the candidate's store blocks.
func (pr *promoter) insertPhis(dt *DomTree, df [][]BlockID) {
	for slotReg, info := range pr.cands {
		var defBlocks []BlockID
		seen := make(map[BlockID]bool)
		for _, b := range pr.f.Blocks {
			for i := range b.Instrs {
				in := &b.Instrs[i]
				if in.Op == OpStore && in.Args[0] == info.slot && !seen[b.ID] {
					seen[b.ID] = true
					defBlocks = append(defBlocks, b.ID)
				}
			}
		}
		for _, at := range IteratedFrontier(df, defBlocks) {
			b := pr.f.Block(at)
			if dt.Idom[at] == NoBlock {
				continue // unreachable join, nothing to merge
			}
			phi := Instr{
				Op:     OpPhi,
				Result: pr.f.NewReg(info.elem),
				Type:   info.elem,
			}
			// Operand order follows the block's stored predecessor order,
			// fixed at CFG construction, so promotion is deterministic.
			for _, p := range b.Preds {
				phi.Args = append(phi.Args, Undef(info.elem))
				phi.Preds = append(phi.Preds, p)
			}
			b.Instrs = append([]Instr{phi}, b.Instrs...)
			pr.phiOwner[phi.Result.Reg] = slotReg
		}
	}
}

// resolve follows rename chains to the final replacement value.
func (pr *promoter) resolve(v Value) Value {
	for {
		next, ok := pr.renames[v]
		if !ok {
			return v
		}
		v = next
	}
}

// reaching returns the value of a candidate at the current walk point.
func (pr *promoter) reaching(slotReg RegID) Value {
	st := pr.stacks[slotReg]
	if len(st) == 0 {
		return Undef(pr.cands[slotReg].elem)
	}
	return st[len(st)-1]
}

// rename walks the dominator tree depth-first, replacing loads with the
// reaching value and recording stores as new reaching values.
func (pr *promoter) rename(dt *DomTree, id BlockID) {
	b := pr.f.Block(id)
	pushed := make(map[RegID]int)

	push := func(slotReg RegID, v Value) {
		pr.stacks[slotReg] = append(pr.stacks[slotReg], v)
		pushed[slotReg]++
	}

	for i := range b.Instrs {
		in := &b.Instrs[i]
		switch in.Op {
		case OpPhi:
			if slotReg, ok := pr.phiOwner[in.Result.Reg]; ok {
				push(slotReg, in.Result)
			}
		case OpLoad:
			addr := in.Args[0]
			if addr.Kind == ValReg {
				if _, ok := pr.cands[addr.Reg]; ok {
					pr.renames[in.Result] = pr.reaching(addr.Reg)
				}
			}
		case OpStore:
			addr := in.Args[0]
			if addr.Kind == ValReg {
				if _, ok := pr.cands[addr.Reg]; ok {
					push(addr.Reg, pr.resolve(in.Args[1]))
				}
			}
		}
	}

	// Fill phi operands in successors for the edges leaving this block.
	b.Term.Successors(func(s BlockID) {
		sb := pr.f.Block(s)
		for i := range sb.Instrs {
			in := &sb.Instrs[i]
			if in.Op != OpPhi {
				break
			}
			slotReg, ok := pr.phiOwner[in.Result.Reg]
			if !ok {
				continue
			}
			for j, p := range in.Preds {
				if p == id {
					in.Args[j] = pr.reaching(slotReg)
				}
			}
		}
	})

	for _, child := range dt.Children[id] {
		pr.rename(dt, child)
	}

	for slotReg, n := range pushed {
		st := pr.stacks[slotReg]
		pr.stacks[slotReg] = st[:len(st)-n]
	}
}

// rewrite deletes the promoted allocas, loads and stores and applies the
// rename map to every remaining operand.
func (pr *promoter) rewrite() {
	isCandSlot := func(v Value) bool {
		if v.Kind != ValReg {
			return false
		}
		_, ok := pr.cands[v.Reg]
		return ok
	}

	for _, b := range pr.f.Blocks {
		kept := b.Instrs[:0]
		for i := range b.Instrs {
			in := b.Instrs[i]
			switch in.Op {
			case OpAlloca:
				if isCandSlot(in.Result) {
					continue
				}
			case OpLoad:
				if isCandSlot(in.Args[0]) {
					continue
				}
			case OpStore:
				if isCandSlot(in.Args[0]) {
					continue
				}
			}
			for j := range in.Args {
				in.Args[j] = pr.resolve(in.Args[j])
			}
			kept = append(kept, in)
		}
		b.Instrs = kept

		switch b.Term.Kind {
		case TermRet:
			if b.Term.Ret.HasValue {
				b.Term.Ret.Value = pr.resolve(b.Term.Ret.Value)
			}
		case TermJumpIf:
			b.Term.JumpIf.Cond = pr.resolve(b.Term.JumpIf.Cond)
		case TermSwitch:
			b.Term.Switch.Value = pr.resolve(b.Term.Switch.Value)
		}
	}
}
