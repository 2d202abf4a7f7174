package backend

import (
	"fmt"
	"strconv"
	"strings"

	"knull/internal/diag"
	"knull/internal/kir"
	"knull/internal/regalloc"
	"knull/internal/source"
	"knull/internal/target"
	"knull/internal/types"
)

// Direct prints reference assembly from the register-allocated module.
// Every virtual register has been pinned to a physical register or frame
// slot by the allocator; phis become moves at the end of each predecessor,
// sequenced so a cyclic shuffle goes through the class scratch register.
type Direct struct{}

func (*Direct) Name() string { return "direct" }

func (*Direct) NeedsAllocation() bool { return true }

func (*Direct) Emit(m *kir.Module, art *Artifacts) (string, error) {
	e := &directEmitter{m: m, types: art.Types, tgt: art.Target, allocs: art.Allocs}
	return e.emit()
}

type directEmitter struct {
	m      *kir.Module
	types  *types.Interner
	tgt    *target.Spec
	allocs map[string]*regalloc.Allocation
	buf    strings.Builder
}

func (e *directEmitter) emit() (string, error) {
	fmt.Fprintf(&e.buf, ".target %s\n", e.tgt.Name)
	for _, g := range e.m.Globals {
		fmt.Fprintf(&e.buf, ".global %s, %s\n", g.Name, constText(g.Init))
	}
	for _, f := range e.m.Funcs {
		alloc := e.allocs[f.Name]
		if alloc == nil {
			return "", diag.NewError(diag.BackendBadModule, f.Name, source.NoSpan,
				"direct backend needs a register allocation")
		}
		fe := &directFuncEmitter{e: e, f: f, alloc: alloc}
		if err := fe.emit(); err != nil {
			return "", err
		}
	}
	return e.buf.String(), nil
}

type directFuncEmitter struct {
	e     *directEmitter
	f     *kir.Func
	alloc *regalloc.Allocation
	stubs []edgeStub
}

func (fe *directFuncEmitter) emit() error {
	e := fe.e
	fmt.Fprintf(&e.buf, "\n.func %s, frame=%d\n%s:\n", fe.f.Name, fe.alloc.FrameSlots*8, fe.f.Name)
	if err := fe.emitPrologue(); err != nil {
		return err
	}
	for _, b := range fe.f.Blocks {
		fmt.Fprintf(&e.buf, ".L%s_%d:\n", fe.f.Name, b.ID)
		for i := range b.Instrs {
			if b.Instrs[i].Op == kir.OpPhi {
				continue // handled at the tail of each predecessor
			}
			if err := fe.emitInstr(&b.Instrs[i]); err != nil {
				return err
			}
		}
		if err := fe.emitTerm(b); err != nil {
			return err
		}
	}
	return nil
}

// emitPrologue moves incoming arguments from their ABI registers to their
// allocated homes.
func (fe *directFuncEmitter) emitPrologue() error {
	nextInt, nextFloat := 0, 0
	for _, p := range fe.f.Params {
		var abiReg string
		switch fe.e.types.Class(p.Type) {
		case types.ClassFloat:
			if nextFloat >= len(fe.e.tgt.ABI.FloatArgs) {
				return fe.unsupported("float argument beyond ABI registers")
			}
			abiReg = fe.e.tgt.ABI.FloatArgs[nextFloat]
			nextFloat++
		default:
			if nextInt >= len(fe.e.tgt.ABI.IntArgs) {
				return fe.unsupported("int argument beyond ABI registers")
			}
			abiReg = fe.e.tgt.ABI.IntArgs[nextInt]
			nextInt++
		}
		dst, err := fe.loc(p)
		if err != nil {
			return err
		}
		if dst != abiReg {
			fe.line("mov %s, %s", dst, abiReg)
		}
	}
	return nil
}

func (fe *directFuncEmitter) emitInstr(in *kir.Instr) error {
	switch in.Op {
	case kir.OpAlloca:
		return nil // the frame slot is reserved by the allocation
	case kir.OpLoad:
		addr, err := fe.addr(in.Args[0])
		if err != nil {
			return err
		}
		dst, err := fe.loc(in.Result)
		if err != nil {
			return err
		}
		fe.line("ldr %s, %s", dst, addr)
	case kir.OpStore:
		addr, err := fe.addr(in.Args[0])
		if err != nil {
			return err
		}
		src, err := fe.loc(in.Args[1])
		if err != nil {
			return err
		}
		fe.line("str %s, %s", src, addr)
	case kir.OpMemset, kir.OpMemcpy:
		ops, err := fe.locs(in.Args)
		if err != nil {
			return err
		}
		fe.line("%s %s", in.Op, strings.Join(ops, ", "))
	case kir.OpCall:
		return fe.emitCall(in)
	case kir.OpAtomicAdd, kir.OpAtomicXchg:
		addr, err := fe.addr(in.Args[0])
		if err != nil {
			return err
		}
		src, err := fe.loc(in.Args[1])
		if err != nil {
			return err
		}
		dst, err := fe.loc(in.Result)
		if err != nil {
			return err
		}
		mn := "amoadd"
		if in.Op == kir.OpAtomicXchg {
			mn = "amoswap"
		}
		fe.line("%s %s, %s, %s", mn, dst, addr, src)
	case kir.OpAdd, kir.OpSub, kir.OpMul, kir.OpDiv, kir.OpRem,
		kir.OpAnd, kir.OpOr, kir.OpXor, kir.OpShl, kir.OpShr,
		kir.OpEq, kir.OpNe, kir.OpLt, kir.OpLe, kir.OpGt, kir.OpGe:
		ops, err := fe.locs(in.Args)
		if err != nil {
			return err
		}
		dst, err := fe.loc(in.Result)
		if err != nil {
			return err
		}
		fe.line("%s%s %s, %s", in.Op, fe.suffix(in.Args[0].Type), dst, strings.Join(ops, ", "))
	case kir.OpNeg, kir.OpNot:
		src, err := fe.loc(in.Args[0])
		if err != nil {
			return err
		}
		dst, err := fe.loc(in.Result)
		if err != nil {
			return err
		}
		fe.line("%s%s %s, %s", in.Op, fe.suffix(in.Args[0].Type), dst, src)
	case kir.OpCast:
		src, err := fe.loc(in.Args[0])
		if err != nil {
			return err
		}
		dst, err := fe.loc(in.Result)
		if err != nil {
			return err
		}
		fe.line("cvt%s%s %s, %s", fe.suffix(in.Args[0].Type), fe.suffix(in.Result.Type), dst, src)
	default:
		return fe.unsupported(fmt.Sprintf("opcode %s", in.Op))
	}
	return nil
}

func (fe *directFuncEmitter) emitCall(in *kir.Instr) error {
	nextInt, nextFloat := 0, 0
	for _, a := range in.Args {
		src, err := fe.loc(a)
		if err != nil {
			return err
		}
		var abiReg string
		switch fe.e.types.Class(a.Type) {
		case types.ClassFloat:
			if nextFloat >= len(fe.e.tgt.ABI.FloatArgs) {
				return fe.unsupported("call argument beyond ABI registers")
			}
			abiReg = fe.e.tgt.ABI.FloatArgs[nextFloat]
			nextFloat++
		default:
			if nextInt >= len(fe.e.tgt.ABI.IntArgs) {
				return fe.unsupported("call argument beyond ABI registers")
			}
			abiReg = fe.e.tgt.ABI.IntArgs[nextInt]
			nextInt++
		}
		if src != abiReg {
			fe.line("mov %s, %s", abiReg, src)
		}
	}
	fe.line("call %s", in.Callee)
	if in.HasResult() {
		res := fe.e.tgt.ABI.IntResult
		if fe.e.types.Class(in.Result.Type) == types.ClassFloat {
			res = fe.e.tgt.ABI.FloatRet
		}
		dst, err := fe.loc(in.Result)
		if err != nil {
			return err
		}
		if dst != res {
			fe.line("mov %s, %s", dst, res)
		}
	}
	return nil
}

func (fe *directFuncEmitter) emitTerm(b *kir.Block) error {
	t := &b.Term
	switch t.Kind {
	case kir.TermRet:
		if t.Ret.HasValue {
			src, err := fe.loc(t.Ret.Value)
			if err != nil {
				return err
			}
			res := fe.e.tgt.ABI.IntResult
			if fe.e.types.Class(t.Ret.Value.Type) == types.ClassFloat {
				res = fe.e.tgt.ABI.FloatRet
			}
			if src != res {
				fe.line("mov %s, %s", res, src)
			}
		}
		fe.line("ret")
	case kir.TermJump:
		moves, err := fe.edgeMoves(b, t.Jump.Target)
		if err != nil {
			return err
		}
		fe.emitMoves(moves)
		fe.line("br %s", fe.label(t.Jump.Target))
	case kir.TermJumpIf:
		cond, err := fe.loc(t.JumpIf.Cond)
		if err != nil {
			return err
		}
		thenLbl, err := fe.edgeLabel(b, t.JumpIf.Then)
		if err != nil {
			return err
		}
		elseLbl, err := fe.edgeLabel(b, t.JumpIf.Else)
		if err != nil {
			return err
		}
		fe.line("brnz %s, %s", cond, thenLbl)
		fe.line("br %s", elseLbl)
		fe.flushStubs()
	case kir.TermSwitch:
		v, err := fe.loc(t.Switch.Value)
		if err != nil {
			return err
		}
		for _, c := range t.Switch.Cases {
			lbl, err := fe.edgeLabel(b, c.Target)
			if err != nil {
				return err
			}
			fe.line("breq %s, #%d, %s", v, c.Const, lbl)
		}
		lbl, err := fe.edgeLabel(b, t.Switch.Default)
		if err != nil {
			return err
		}
		fe.line("br %s", lbl)
		fe.flushStubs()
	case kir.TermUnreachable:
		fe.line("trap")
	default:
		return fe.unsupported("block without terminator")
	}
	return nil
}

type edgeMove struct {
	dst, src string
	class    types.RegClass
}

type edgeStub struct {
	label  string
	target string
	moves  []edgeMove
}

// edgeMoves collects the parallel copy the successor's phis demand on the
// edge b -> succ.
func (fe *directFuncEmitter) edgeMoves(b *kir.Block, succ kir.BlockID) ([]edgeMove, error) {
	sb := fe.f.Block(succ)
	if sb == nil {
		return nil, nil
	}
	var moves []edgeMove
	for i := range sb.Instrs {
		in := &sb.Instrs[i]
		if in.Op != kir.OpPhi {
			break
		}
		arg, ok := in.PhiIncoming(b.ID)
		if !ok {
			return nil, fe.unsupported(fmt.Sprintf("phi in bb%d missing edge from bb%d", succ, b.ID))
		}
		dst, err := fe.loc(in.Result)
		if err != nil {
			return nil, err
		}
		src, err := fe.loc(arg)
		if err != nil {
			return nil, err
		}
		if dst != src {
			moves = append(moves, edgeMove{dst: dst, src: src, class: fe.e.types.Class(in.Result.Type)})
		}
	}
	return moves, nil
}

// edgeLabel is the branch target for b -> succ: the block itself when the
// edge carries no phi moves, otherwise a stub that runs the moves first.
// The stub keeps each edge's copies off the other edges of a multi-way
// branch.
func (fe *directFuncEmitter) edgeLabel(b *kir.Block, succ kir.BlockID) (string, error) {
	moves, err := fe.edgeMoves(b, succ)
	if err != nil {
		return "", err
	}
	if len(moves) == 0 {
		return fe.label(succ), nil
	}
	lbl := fmt.Sprintf(".L%s_%d_%d", fe.f.Name, b.ID, succ)
	fe.stubs = append(fe.stubs, edgeStub{label: lbl, target: fe.label(succ), moves: moves})
	return lbl, nil
}

func (fe *directFuncEmitter) flushStubs() {
	for _, st := range fe.stubs {
		fmt.Fprintf(&fe.e.buf, "%s:\n", st.label)
		fe.emitMoves(st.moves)
		fe.line("br %s", st.target)
	}
	fe.stubs = fe.stubs[:0]
}

// emitMoves sequentializes a parallel copy: a move runs only once nothing
// else still reads its destination; a cyclic shuffle is broken by parking
// one source in the class scratch register.
func (fe *directFuncEmitter) emitMoves(pending []edgeMove) {
	pending = append([]edgeMove(nil), pending...)
	for len(pending) > 0 {
		progress := false
		for i := range pending {
			mv := pending[i]
			conflict := false
			for j, o := range pending {
				if j != i && o.src == mv.dst {
					conflict = true
					break
				}
			}
			if conflict {
				continue
			}
			fe.line("mov %s, %s", mv.dst, mv.src)
			pending = append(pending[:i], pending[i+1:]...)
			progress = true
			break
		}
		if progress {
			continue
		}
		mv := pending[0]
		scratch := fe.e.tgt.File(mv.class).Scratch
		fe.line("mov %s, %s", scratch, mv.src)
		for i := range pending {
			if pending[i].src == mv.src {
				pending[i].src = scratch
			}
		}
	}
}

// loc renders a value as an assembly operand.
func (fe *directFuncEmitter) loc(v kir.Value) (string, error) {
	switch v.Kind {
	case kir.ValConst:
		return constText(v), nil
	case kir.ValReg:
		l, ok := fe.alloc.Locs[v.Reg]
		if !ok {
			return "", diag.NewError(diag.BackendBadModule, fe.f.Name, source.NoSpan,
				fmt.Sprintf("virtual register %%%d has no location", v.Reg))
		}
		switch l.Kind {
		case regalloc.LocReg:
			return fe.e.tgt.RegName(l.Class, l.Index), nil
		case regalloc.LocFrame:
			return fmt.Sprintf("fp+%d", l.Index*8), nil
		}
		return "", diag.NewError(diag.BackendBadModule, fe.f.Name, source.NoSpan,
			fmt.Sprintf("virtual register %%%d has an empty location", v.Reg))
	case kir.ValGlobal:
		return "@" + v.Global, nil
	case kir.ValUndef:
		return "#0", nil
	}
	return "", diag.NewError(diag.BackendBadModule, fe.f.Name, source.NoSpan, "operand without a value")
}

func (fe *directFuncEmitter) locs(args []kir.Value) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		s, err := fe.loc(a)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// addr renders a pointer operand as a memory operand, folding frame slots
// into fp-relative addressing.
func (fe *directFuncEmitter) addr(p kir.Value) (string, error) {
	if p.Kind == kir.ValReg {
		if l, ok := fe.alloc.Locs[p.Reg]; ok && l.Kind == regalloc.LocFrame {
			return fmt.Sprintf("[fp, #%d]", l.Index*8), nil
		}
	}
	if p.Kind == kir.ValGlobal {
		return "[@" + p.Global + "]", nil
	}
	s, err := fe.loc(p)
	if err != nil {
		return "", err
	}
	return "[" + s + "]", nil
}

// suffix distinguishes float forms of shared mnemonics.
func (fe *directFuncEmitter) suffix(ty types.TypeID) string {
	if fe.e.types.Class(ty) == types.ClassFloat {
		return ".f"
	}
	return ""
}

func (fe *directFuncEmitter) label(id kir.BlockID) string {
	return fmt.Sprintf(".L%s_%d", fe.f.Name, id)
}

func (fe *directFuncEmitter) line(format string, args ...any) {
	fmt.Fprintf(&fe.e.buf, "    "+format+"\n", args...)
}

func (fe *directFuncEmitter) unsupported(what string) error {
	return diag.NewError(diag.BackendUnsupported, fe.f.Name, source.NoSpan,
		fmt.Sprintf("direct backend cannot emit %s for target %s", what, fe.e.tgt.Name))
}

func constText(v kir.Value) string {
	if v.Kind == kir.ValUndef || v.Kind == kir.ValNone {
		return "#0"
	}
	if v.Float != 0 {
		return "#" + strconv.FormatFloat(v.Float, 'g', -1, 64)
	}
	if v.Bool {
		return "#1"
	}
	return "#" + strconv.FormatInt(v.Int, 10)
}
