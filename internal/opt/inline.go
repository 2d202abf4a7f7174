package opt

import (
	"knull/internal/kir"
	"knull/internal/trace"
)

// Inline replaces call sites with a copy of the callee body when the
// callee is small enough or carries the front end's inline marker.
// Recursive cycles are refused: a callee from whose body the caller is
// reachable in the call graph would regrow the call under the inliner
// forever.
type Inline struct {
	m         *kir.Module
	threshold int
	tracer    trace.Tracer
}

func NewInline(m *kir.Module, threshold int, tracer trace.Tracer) *Inline {
	if threshold <= 0 {
		threshold = DefaultInlineThreshold
	}
	if tracer == nil {
		tracer = trace.Nop
	}
	return &Inline{m: m, threshold: threshold, tracer: tracer}
}

func (p *Inline) Name() string { return "inline" }

type callSite struct {
	block kir.BlockID
	idx   int
}

func (p *Inline) Run(f *kir.Func) bool {
	// Snapshot the call sites first: inlining appends blocks and splits the
	// site's block, and calls introduced by a cloned body wait for the next
	// round. Sites are processed back to front so a split never moves an
	// unprocessed site.
	var sites []callSite
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			if b.Instrs[i].Op == kir.OpCall {
				sites = append(sites, callSite{block: b.ID, idx: i})
			}
		}
	}

	changed := false
	for i := len(sites) - 1; i >= 0; i-- {
		s := sites[i]
		b := f.Block(s.block)
		in := &b.Instrs[s.idx]
		callee := p.m.FuncByName(in.Callee)
		if callee == nil || len(callee.Blocks) == 0 {
			continue
		}
		if !callee.Inline && callee.InstrCount() > p.threshold {
			continue
		}
		if callee == f || p.reaches(callee, f) {
			p.tracer.Emit(trace.LevelPass, "inline: refusing recursive call %s -> %s", f.Name, callee.Name)
			continue
		}
		p.inlineSite(f, b, s.idx, callee)
		changed = true
	}
	if changed {
		f.RecomputePreds()
	}
	return changed
}

// reaches reports whether target is reachable from the body of from in the
// static call graph.
func (p *Inline) reaches(from, target *kir.Func) bool {
	visited := map[string]bool{from.Name: true}
	stack := []*kir.Func{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		found := false
		cur.ForEachInstr(func(_ *kir.Block, _ int, in *kir.Instr) {
			if in.Op != kir.OpCall || visited[in.Callee] {
				return
			}
			visited[in.Callee] = true
			if in.Callee == target.Name {
				found = true
				return
			}
			if next := p.m.FuncByName(in.Callee); next != nil {
				stack = append(stack, next)
			}
		})
		if found {
			return true
		}
	}
	return false
}

// inlineSite splices a copy of callee in place of the call at b.Instrs[idx].
func (p *Inline) inlineSite(f *kir.Func, b *kir.Block, idx int, callee *kir.Func) {
	call := b.Instrs[idx]

	// Split the site's block: everything after the call, plus the
	// terminator, moves to a continuation block.
	cont := f.AddBlock()
	cont.Instrs = append(cont.Instrs, b.Instrs[idx+1:]...)
	cont.Term = b.Term
	b.Instrs = b.Instrs[:idx]
	b.Term = kir.Terminator{}

	// Phis in the continuation's successors still name b as the edge
	// source; the edge now leaves cont.
	cont.Term.Successors(func(s kir.BlockID) {
		sb := f.Block(s)
		if sb == nil {
			return
		}
		for i := range sb.Instrs {
			if sb.Instrs[i].Op != kir.OpPhi {
				break
			}
			for j, pr := range sb.Instrs[i].Preds {
				if pr == b.ID {
					sb.Instrs[i].Preds[j] = cont.ID
				}
			}
		}
	})

	// Clone the callee body with fresh registers; parameters map straight
	// to the call arguments.
	regMap := make(map[kir.RegID]kir.Value, callee.RegCount())
	for i, param := range callee.Params {
		regMap[param.Reg] = call.Args[i]
	}
	remap := func(v kir.Value) kir.Value {
		if v.Kind != kir.ValReg {
			return v
		}
		if mv, ok := regMap[v.Reg]; ok {
			return mv
		}
		nv := f.NewReg(v.Type)
		regMap[v.Reg] = nv
		return nv
	}

	blockMap := make([]kir.BlockID, len(callee.Blocks))
	for i := range callee.Blocks {
		blockMap[i] = f.AddBlock().ID
	}

	var retVals []kir.Value
	var retBlocks []kir.BlockID
	for ci, cb := range callee.Blocks {
		nb := f.Block(blockMap[ci])
		for k := range cb.Instrs {
			src := cb.Instrs[k]
			cl := kir.Instr{
				Op:     src.Op,
				Type:   src.Type,
				Callee: src.Callee,
				Span:   src.Span,
			}
			if src.HasResult() {
				cl.Result = remap(src.Result)
			}
			cl.Args = make([]kir.Value, len(src.Args))
			for ai, a := range src.Args {
				cl.Args[ai] = remap(a)
			}
			if len(src.Preds) > 0 {
				cl.Preds = make([]kir.BlockID, len(src.Preds))
				for pi, pr := range src.Preds {
					cl.Preds[pi] = blockMap[pr]
				}
			}
			nb.Append(cl)
		}

		t := cb.Term
		if t.Kind == kir.TermRet {
			if t.Ret.HasValue {
				retVals = append(retVals, remap(t.Ret.Value))
				retBlocks = append(retBlocks, nb.ID)
			}
			nb.Term = kir.Terminator{Kind: kir.TermJump, Jump: kir.JumpTerm{Target: cont.ID}}
			continue
		}
		switch t.Kind {
		case kir.TermJumpIf:
			t.JumpIf.Cond = remap(t.JumpIf.Cond)
		case kir.TermSwitch:
			t.Switch.Value = remap(t.Switch.Value)
		}
		t.Retarget(func(old kir.BlockID) kir.BlockID { return blockMap[old] })
		nb.Term = t
	}

	b.Term = kir.Terminator{Kind: kir.TermJump, Jump: kir.JumpTerm{Target: blockMap[0]}}

	// Wire the call result to the returned value; several returning paths
	// merge through a phi at the top of the continuation.
	if call.HasResult() {
		switch len(retVals) {
		case 0:
			replaceAllUses(f, call.Result, kir.Undef(call.Result.Type))
		case 1:
			replaceAllUses(f, call.Result, retVals[0])
		default:
			phi := f.NewReg(call.Result.Type)
			cont.Instrs = append([]kir.Instr{{
				Op:     kir.OpPhi,
				Result: phi,
				Type:   call.Result.Type,
				Args:   retVals,
				Preds:  retBlocks,
			}}, cont.Instrs...)
			replaceAllUses(f, call.Result, phi)
		}
	}
}
