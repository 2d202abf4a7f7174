package opt

import (
	"knull/internal/kir"
	"knull/internal/trace"
	"knull/internal/types"
)

// Unroll fully expands counted loops with a compile-time trip count. The
// recognized shape is the one the builder produces for counted loops after
// promotion: a header holding the phis and a single bound comparison, one
// back edge, and a single exit edge out of the header. Each iteration's
// body is cloned with the header phis substituted by that iteration's
// values; the original loop blocks become unreachable and are swept by
// DCE. Anything else (unknown trip count, extra exits, oversized bodies)
// is refused.
type Unroll struct {
	types  *types.Interner
	cap    int
	tracer trace.Tracer
}

func NewUnroll(typesIn *types.Interner, capInstrs int, tracer trace.Tracer) *Unroll {
	if capInstrs <= 0 {
		capInstrs = DefaultUnrollCap
	}
	if tracer == nil {
		tracer = trace.Nop
	}
	return &Unroll{types: typesIn, cap: capInstrs, tracer: tracer}
}

func (p *Unroll) Name() string { return "unroll" }

// countedLoop is one fully analyzed unroll candidate.
type countedLoop struct {
	header    *kir.Block
	preheader kir.BlockID
	latch     kir.BlockID
	exit      kir.BlockID
	bodyEntry kir.BlockID
	inLoop    map[kir.BlockID]bool
	body      []kir.BlockID // loop blocks except the header, in block order

	phis  []kir.Instr // the header phis (copies)
	inits []kir.Value // incoming from the preheader, parallel to phis
	latns []kir.Value // incoming from the latch, parallel to phis

	trips int
}

func (p *Unroll) Run(f *kir.Func) bool {
	dt := kir.BuildDomTree(f)
	for _, h := range f.Blocks {
		loop, ok := p.analyze(f, dt, h)
		if !ok {
			continue
		}
		p.expand(f, loop)
		f.RecomputePreds()
		p.tracer.Emit(trace.LevelPass, "unroll: %s bb%d x%d", f.Name, h.ID, loop.trips)
		// One loop per run: the CFG and dominator tree are stale now.
		return true
	}
	return false
}

// analyze checks whether h heads a counted loop this pass can expand.
func (p *Unroll) analyze(f *kir.Func, dt *kir.DomTree, h *kir.Block) (*countedLoop, bool) {
	if len(h.Preds) != 2 || h.Term.Kind != kir.TermJumpIf {
		return nil, false
	}
	phis := h.Phis()
	if len(phis) == 0 || len(h.Instrs) != len(phis)+1 {
		return nil, false
	}
	cmp := &h.Instrs[len(phis)]
	if cmp.Op != kir.OpLt || h.Term.JumpIf.Cond != cmp.Result {
		return nil, false
	}

	// Identify which predecessor is the back edge.
	var latch, pre kir.BlockID
	switch {
	case dt.Dominates(h.ID, h.Preds[0]) && !dt.Dominates(h.ID, h.Preds[1]):
		latch, pre = h.Preds[0], h.Preds[1]
	case dt.Dominates(h.ID, h.Preds[1]) && !dt.Dominates(h.ID, h.Preds[0]):
		latch, pre = h.Preds[1], h.Preds[0]
	default:
		return nil, false
	}

	// Natural loop of the back edge.
	inLoop := map[kir.BlockID]bool{h.ID: true}
	work := []kir.BlockID{latch}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		if inLoop[id] {
			continue
		}
		inLoop[id] = true
		for _, pr := range f.Block(id).Preds {
			work = append(work, pr)
		}
	}

	exit := h.Term.JumpIf.Else
	bodyEntry := h.Term.JumpIf.Then
	if bodyEntry == h.ID || !inLoop[bodyEntry] || inLoop[exit] {
		return nil, false
	}
	xb := f.Block(exit)
	if xb == nil || len(xb.Preds) != 1 || len(xb.Phis()) > 0 {
		return nil, false
	}

	loop := &countedLoop{
		header:    h,
		preheader: pre,
		latch:     latch,
		exit:      exit,
		bodyEntry: bodyEntry,
		inLoop:    inLoop,
	}

	// The body must stay inside the loop: early exits would need their own
	// phi repair and are refused.
	bodyInstrs := 0
	for _, b := range f.Blocks {
		if !inLoop[b.ID] || b.ID == h.ID {
			continue
		}
		loop.body = append(loop.body, b.ID)
		bodyInstrs += len(b.Instrs)
		outside := false
		b.Term.Successors(func(s kir.BlockID) {
			if !inLoop[s] {
				outside = true
			}
		})
		if outside {
			return nil, false
		}
		// A body phi naming the header as an edge source would need
		// per-iteration entry rewiring.
		for i := range b.Instrs {
			if b.Instrs[i].Op != kir.OpPhi {
				break
			}
			for _, pr := range b.Instrs[i].Preds {
				if pr == h.ID {
					return nil, false
				}
			}
		}
	}

	// Split every header phi into its preheader and latch operands.
	for i := range phis {
		init, ok1 := phis[i].PhiIncoming(pre)
		next, ok2 := phis[i].PhiIncoming(latch)
		if !ok1 || !ok2 || len(phis[i].Preds) != 2 {
			return nil, false
		}
		loop.phis = append(loop.phis, phis[i])
		loop.inits = append(loop.inits, init)
		loop.latns = append(loop.latns, next)
	}

	// The comparison result feeds the branch and nothing else.
	if countUses(f)[cmp.Result.Reg] != 1 {
		return nil, false
	}

	trips, ok := p.tripCount(f, loop, cmp)
	if !ok {
		return nil, false
	}
	if trips*bodyInstrs > p.cap {
		p.tracer.Emit(trace.LevelPass, "unroll: %s bb%d refused, %d iterations over budget", f.Name, h.ID, trips)
		return nil, false
	}
	loop.trips = trips
	return loop, true
}

// tripCount simulates the induction variable with the IR's wraparound
// semantics. The induction phi must start at a constant, be compared
// against a constant bound, and advance by a constant positive step.
func (p *Unroll) tripCount(f *kir.Func, loop *countedLoop, cmp *kir.Instr) (int, bool) {
	indVar, bound := cmp.Args[0], cmp.Args[1]
	if indVar.Kind != kir.ValReg || !bound.IsConst() {
		return 0, false
	}
	t, ok := p.types.Lookup(indVar.Type)
	if !ok || !t.IsInteger() {
		return 0, false
	}

	idx := -1
	for i := range loop.phis {
		if loop.phis[i].Result == indVar {
			idx = i
			break
		}
	}
	if idx < 0 || !loop.inits[idx].IsConst() {
		return 0, false
	}
	step, ok := p.inductionStep(f, loop, indVar, loop.latns[idx])
	if !ok {
		return 0, false
	}

	lt := func(a, b int64) bool {
		if t.Kind == types.KindUint {
			return truncUint(a, t) < truncUint(b, t)
		}
		return wrap(a, t) < wrap(b, t)
	}
	i := loop.inits[idx].Int
	trips := 0
	for lt(i, bound.Int) {
		trips++
		if trips > p.cap {
			return 0, false
		}
		i = wrap(i+step, t)
	}
	return trips, true
}

// inductionStep finds the constant the loop adds to the induction variable
// each iteration. The latch operand must be an add of the phi and a
// positive constant, defined inside the loop.
func (p *Unroll) inductionStep(f *kir.Func, loop *countedLoop, indVar, next kir.Value) (int64, bool) {
	if next.Kind != kir.ValReg {
		return 0, false
	}
	for _, id := range loop.body {
		b := f.Block(id)
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Result != next {
				continue
			}
			if in.Op != kir.OpAdd {
				return 0, false
			}
			a, c := in.Args[0], in.Args[1]
			if a != indVar {
				a, c = c, a
			}
			if a != indVar || !c.IsConst() || c.Int <= 0 {
				return 0, false
			}
			return c.Int, true
		}
	}
	return 0, false
}

// expand replaces the loop with trips copies of its body. cur tracks what
// each header phi evaluates to at the top of the current iteration.
func (p *Unroll) expand(f *kir.Func, loop *countedLoop) {
	cur := make(map[kir.Value]kir.Value, len(loop.phis))
	for i := range loop.phis {
		cur[loop.phis[i].Result] = loop.inits[i]
	}

	// prevTails holds the previous iteration's cloned blocks whose
	// terminators still point at the old header; they are patched once the
	// next destination exists.
	var prevTails []kir.BlockID
	linkTo := func(entry kir.BlockID) {
		if prevTails == nil {
			pre := f.Block(loop.preheader)
			pre.Term.Retarget(func(t kir.BlockID) kir.BlockID {
				if t == loop.header.ID {
					return entry
				}
				return t
			})
			return
		}
		for _, id := range prevTails {
			f.Block(id).Term.Retarget(func(t kir.BlockID) kir.BlockID {
				if t == loop.header.ID {
					return entry
				}
				return t
			})
		}
	}

	for k := 0; k < loop.trips; k++ {
		regMap := make(map[kir.RegID]kir.Value)
		remap := func(v kir.Value) kir.Value {
			if v.Kind != kir.ValReg {
				return v
			}
			if cv, ok := cur[v]; ok {
				return cv
			}
			if nv, ok := regMap[v.Reg]; ok {
				return nv
			}
			nv := f.NewReg(v.Type)
			regMap[v.Reg] = nv
			return nv
		}

		blockMap := make(map[kir.BlockID]kir.BlockID, len(loop.body))
		for _, id := range loop.body {
			blockMap[id] = f.AddBlock().ID
		}
		for _, id := range loop.body {
			src := f.Block(id)
			nb := f.Block(blockMap[id])
			for i := range src.Instrs {
				orig := src.Instrs[i]
				cl := kir.Instr{Op: orig.Op, Type: orig.Type, Callee: orig.Callee, Span: orig.Span}
				if orig.HasResult() {
					cl.Result = remap(orig.Result)
				}
				cl.Args = make([]kir.Value, len(orig.Args))
				for ai, a := range orig.Args {
					cl.Args[ai] = remap(a)
				}
				if len(orig.Preds) > 0 {
					cl.Preds = make([]kir.BlockID, len(orig.Preds))
					for pi, pr := range orig.Preds {
						cl.Preds[pi] = blockMap[pr]
					}
				}
				nb.Append(cl)
			}
			t := src.Term
			switch t.Kind {
			case kir.TermJumpIf:
				t.JumpIf.Cond = remap(t.JumpIf.Cond)
			case kir.TermSwitch:
				t.Switch.Value = remap(t.Switch.Value)
			case kir.TermRet:
				if t.Ret.HasValue {
					t.Ret.Value = remap(t.Ret.Value)
				}
			}
			t.Retarget(func(old kir.BlockID) kir.BlockID {
				if nt, ok := blockMap[old]; ok {
					return nt
				}
				return old // the header; patched by the next linkTo
			})
			nb.Term = t
		}

		linkTo(blockMap[loop.bodyEntry])
		prevTails = make([]kir.BlockID, 0, len(loop.body))
		for _, id := range loop.body {
			prevTails = append(prevTails, blockMap[id])
		}

		next := make(map[kir.Value]kir.Value, len(loop.phis))
		for i := range loop.phis {
			next[loop.phis[i].Result] = remap(loop.latns[i])
		}
		cur = next
	}
	linkTo(loop.exit)

	// Uses of the header phis after the loop see the final values. The
	// original loop blocks are unreachable now; their rewritten operands
	// are swept with them.
	for i := range loop.phis {
		replaceAllUses(f, loop.phis[i].Result, cur[loop.phis[i].Result])
	}
}
