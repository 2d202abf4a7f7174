package backend

import (
	"fmt"
	"strconv"
	"strings"

	"knull/internal/diag"
	"knull/internal/kir"
	"knull/internal/source"
	"knull/internal/types"
)

// Extern bridges to an external toolchain: it walks the SSA module before
// register allocation and prints one external-IR instruction per KIR
// instruction, with the calling convention summarized per function so the
// downstream assembler can lower calls itself.
type Extern struct{}

func (*Extern) Name() string { return "extern" }

func (*Extern) NeedsAllocation() bool { return false }

func (*Extern) Emit(m *kir.Module, art *Artifacts) (string, error) {
	e := &externEmitter{m: m, types: art.Types, art: art}
	return e.emit()
}

type externEmitter struct {
	m     *kir.Module
	types *types.Interner
	art   *Artifacts
	buf   strings.Builder
}

func (e *externEmitter) emit() (string, error) {
	fmt.Fprintf(&e.buf, "; module %s, target %s\n", e.m.Name, e.art.Target.Name)
	for _, g := range e.m.Globals {
		ty, err := e.typeName(g.Type, "")
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&e.buf, "@%s = global %s %s\n", g.Name, ty, externConst(g.Init))
	}
	for _, f := range e.m.Funcs {
		fe := &externFuncEmitter{e: e, f: f}
		if err := fe.emit(); err != nil {
			return "", err
		}
	}
	return e.buf.String(), nil
}

type externFuncEmitter struct {
	e *externEmitter
	f *kir.Func
}

func (fe *externFuncEmitter) emit() error {
	e := fe.e
	if err := fe.emitABITable(); err != nil {
		return err
	}
	params := make([]string, len(fe.f.Params))
	for i, p := range fe.f.Params {
		ty, err := fe.typeOf(p.Type)
		if err != nil {
			return err
		}
		params[i] = fmt.Sprintf("%s %%%d", ty, p.Reg)
	}
	ret, err := fe.typeOf(fe.f.Result)
	if err != nil {
		return err
	}
	fmt.Fprintf(&e.buf, "define %s @%s(%s) {\n", ret, fe.f.Name, strings.Join(params, ", "))
	for _, b := range fe.f.Blocks {
		fmt.Fprintf(&e.buf, "bb%d:\n", b.ID)
		for i := range b.Instrs {
			if err := fe.emitInstr(&b.Instrs[i]); err != nil {
				return err
			}
		}
		if err := fe.emitTerm(&b.Term); err != nil {
			return err
		}
	}
	fmt.Fprint(&e.buf, "}\n\n")
	return nil
}

// emitABITable summarizes how a conforming caller passes this function's
// arguments on the chosen target.
func (fe *externFuncEmitter) emitABITable() error {
	abi := fe.e.art.Target.ABI
	nextInt, nextFloat := 0, 0
	var slots []string
	for i, p := range fe.f.Params {
		switch fe.e.types.Class(p.Type) {
		case types.ClassFloat:
			if nextFloat < len(abi.FloatArgs) {
				slots = append(slots, fmt.Sprintf("arg%d=%s", i, abi.FloatArgs[nextFloat]))
			} else {
				slots = append(slots, fmt.Sprintf("arg%d=stack", i))
			}
			nextFloat++
		default:
			if nextInt < len(abi.IntArgs) {
				slots = append(slots, fmt.Sprintf("arg%d=%s", i, abi.IntArgs[nextInt]))
			} else {
				slots = append(slots, fmt.Sprintf("arg%d=stack", i))
			}
			nextInt++
		}
	}
	res := abi.IntResult
	if fe.e.types.Class(fe.f.Result) == types.ClassFloat {
		res = abi.FloatRet
	}
	fmt.Fprintf(&fe.e.buf, "; abi %s: %s ret=%s align=%d\n",
		fe.f.Name, strings.Join(slots, " "), res, abi.StackAlign)
	return nil
}

func (fe *externFuncEmitter) emitInstr(in *kir.Instr) error {
	e := fe.e
	switch in.Op {
	case kir.OpAlloca:
		elem, err := fe.typeOf(in.Type)
		if err != nil {
			return err
		}
		fmt.Fprintf(&e.buf, "  %%%d = alloca %s\n", in.Result.Reg, elem)
	case kir.OpLoad:
		ty, err := fe.typeOf(in.Result.Type)
		if err != nil {
			return err
		}
		fmt.Fprintf(&e.buf, "  %%%d = load %s, ptr %s\n", in.Result.Reg, ty, fe.operand(in.Args[0]))
	case kir.OpStore:
		ty, err := fe.typeOf(in.Args[1].Type)
		if err != nil {
			return err
		}
		fmt.Fprintf(&e.buf, "  store %s %s, ptr %s\n", ty, fe.operand(in.Args[1]), fe.operand(in.Args[0]))
	case kir.OpMemset:
		fmt.Fprintf(&e.buf, "  call void @llvm.memset.p0.i64(ptr %s, i8 %s, i64 %s, i1 false)\n",
			fe.operand(in.Args[0]), fe.operand(in.Args[1]), fe.operand(in.Args[2]))
	case kir.OpMemcpy:
		fmt.Fprintf(&e.buf, "  call void @llvm.memcpy.p0.p0.i64(ptr %s, ptr %s, i64 %s, i1 false)\n",
			fe.operand(in.Args[0]), fe.operand(in.Args[1]), fe.operand(in.Args[2]))
	case kir.OpPhi:
		ty, err := fe.typeOf(in.Result.Type)
		if err != nil {
			return err
		}
		edges := make([]string, len(in.Args))
		for i, a := range in.Args {
			edges[i] = fmt.Sprintf("[ %s, %%bb%d ]", fe.operand(a), in.Preds[i])
		}
		fmt.Fprintf(&e.buf, "  %%%d = phi %s %s\n", in.Result.Reg, ty, strings.Join(edges, ", "))
	case kir.OpCall:
		args := make([]string, len(in.Args))
		for i, a := range in.Args {
			ty, err := fe.typeOf(a.Type)
			if err != nil {
				return err
			}
			args[i] = fmt.Sprintf("%s %s", ty, fe.operand(a))
		}
		if in.HasResult() {
			ty, err := fe.typeOf(in.Result.Type)
			if err != nil {
				return err
			}
			fmt.Fprintf(&e.buf, "  %%%d = call %s @%s(%s)\n", in.Result.Reg, ty, in.Callee, strings.Join(args, ", "))
		} else {
			fmt.Fprintf(&e.buf, "  call void @%s(%s)\n", in.Callee, strings.Join(args, ", "))
		}
	case kir.OpAtomicAdd:
		ty, err := fe.typeOf(in.Result.Type)
		if err != nil {
			return err
		}
		fmt.Fprintf(&e.buf, "  %%%d = atomicrmw add ptr %s, %s %s seq_cst\n",
			in.Result.Reg, fe.operand(in.Args[0]), ty, fe.operand(in.Args[1]))
	case kir.OpAtomicXchg:
		ty, err := fe.typeOf(in.Result.Type)
		if err != nil {
			return err
		}
		fmt.Fprintf(&e.buf, "  %%%d = atomicrmw xchg ptr %s, %s %s seq_cst\n",
			in.Result.Reg, fe.operand(in.Args[0]), ty, fe.operand(in.Args[1]))
	case kir.OpCast:
		return fe.emitCast(in)
	case kir.OpNeg:
		ty, err := fe.typeOf(in.Result.Type)
		if err != nil {
			return err
		}
		if fe.e.types.Class(in.Result.Type) == types.ClassFloat {
			fmt.Fprintf(&e.buf, "  %%%d = fneg %s %s\n", in.Result.Reg, ty, fe.operand(in.Args[0]))
		} else {
			fmt.Fprintf(&e.buf, "  %%%d = sub %s 0, %s\n", in.Result.Reg, ty, fe.operand(in.Args[0]))
		}
	case kir.OpNot:
		ty, err := fe.typeOf(in.Args[0].Type)
		if err != nil {
			return err
		}
		fmt.Fprintf(&e.buf, "  %%%d = xor %s %s, -1\n", in.Result.Reg, ty, fe.operand(in.Args[0]))
	default:
		return fe.emitBinary(in)
	}
	return nil
}

func (fe *externFuncEmitter) emitBinary(in *kir.Instr) error {
	if !in.Op.IsBinary() {
		return diag.NewError(diag.BackendUnsupported, fe.f.Name, source.NoSpan,
			fmt.Sprintf("extern bridge cannot emit opcode %s", in.Op))
	}
	t, ok := fe.e.types.Lookup(in.Args[0].Type)
	if !ok {
		return diag.NewError(diag.BackendBadModule, fe.f.Name, source.NoSpan, "operand with unknown type")
	}
	ty, err := fe.typeOf(in.Args[0].Type)
	if err != nil {
		return err
	}
	mn, err := fe.binaryMnemonic(in.Op, t)
	if err != nil {
		return err
	}
	fmt.Fprintf(&fe.e.buf, "  %%%d = %s %s %s, %s\n",
		in.Result.Reg, mn, ty, fe.operand(in.Args[0]), fe.operand(in.Args[1]))
	return nil
}

func (fe *externFuncEmitter) binaryMnemonic(op kir.Op, t types.Type) (string, error) {
	isFloat := t.Kind == types.KindFloat
	signed := t.Kind == types.KindInt
	switch op {
	case kir.OpAdd, kir.OpSub, kir.OpMul:
		if isFloat {
			return "f" + op.String(), nil
		}
		return op.String(), nil
	case kir.OpDiv:
		switch {
		case isFloat:
			return "fdiv", nil
		case signed:
			return "sdiv", nil
		default:
			return "udiv", nil
		}
	case kir.OpRem:
		if signed {
			return "srem", nil
		}
		return "urem", nil
	case kir.OpAnd, kir.OpOr, kir.OpXor, kir.OpShl:
		return op.String(), nil
	case kir.OpShr:
		if signed {
			return "ashr", nil
		}
		return "lshr", nil
	case kir.OpEq, kir.OpNe, kir.OpLt, kir.OpLe, kir.OpGt, kir.OpGe:
		return cmpMnemonic(op, t), nil
	}
	return "", diag.NewError(diag.BackendUnsupported, fe.f.Name, source.NoSpan,
		fmt.Sprintf("extern bridge cannot emit opcode %s", op))
}

func cmpMnemonic(op kir.Op, t types.Type) string {
	if t.Kind == types.KindFloat {
		m := map[kir.Op]string{
			kir.OpEq: "oeq", kir.OpNe: "une",
			kir.OpLt: "olt", kir.OpLe: "ole", kir.OpGt: "ogt", kir.OpGe: "oge",
		}
		return "fcmp " + m[op]
	}
	var cond string
	switch op {
	case kir.OpEq:
		cond = "eq"
	case kir.OpNe:
		cond = "ne"
	case kir.OpLt, kir.OpLe, kir.OpGt, kir.OpGe:
		prefix := "u"
		if t.Kind == types.KindInt {
			prefix = "s"
		}
		switch op {
		case kir.OpLt:
			cond = prefix + "lt"
		case kir.OpLe:
			cond = prefix + "le"
		case kir.OpGt:
			cond = prefix + "gt"
		default:
			cond = prefix + "ge"
		}
	}
	return "icmp " + cond
}

func (fe *externFuncEmitter) emitCast(in *kir.Instr) error {
	src, ok1 := fe.e.types.Lookup(in.Args[0].Type)
	dst, ok2 := fe.e.types.Lookup(in.Result.Type)
	if !ok1 || !ok2 {
		return diag.NewError(diag.BackendBadModule, fe.f.Name, source.NoSpan, "cast with unknown types")
	}
	from, err := fe.typeOf(in.Args[0].Type)
	if err != nil {
		return err
	}
	to, err := fe.typeOf(in.Result.Type)
	if err != nil {
		return err
	}
	var mn string
	switch {
	case src.IsInteger() && dst.IsInteger():
		switch {
		case dst.Width < src.Width:
			mn = "trunc"
		case src.Kind == types.KindInt:
			mn = "sext"
		default:
			mn = "zext"
		}
	case src.IsInteger() && dst.Kind == types.KindFloat:
		if src.Kind == types.KindInt {
			mn = "sitofp"
		} else {
			mn = "uitofp"
		}
	case src.Kind == types.KindFloat && dst.IsInteger():
		if dst.Kind == types.KindInt {
			mn = "fptosi"
		} else {
			mn = "fptoui"
		}
	case src.Kind == types.KindFloat && dst.Kind == types.KindFloat:
		if dst.Width < src.Width {
			mn = "fptrunc"
		} else {
			mn = "fpext"
		}
	case src.Kind == types.KindBool && dst.IsInteger():
		mn = "zext"
	default:
		return diag.NewError(diag.BackendUnsupported, fe.f.Name, source.NoSpan,
			fmt.Sprintf("extern bridge cannot cast %s to %s", src.Kind, dst.Kind))
	}
	fmt.Fprintf(&fe.e.buf, "  %%%d = %s %s %s to %s\n", in.Result.Reg, mn, from, fe.operand(in.Args[0]), to)
	return nil
}

func (fe *externFuncEmitter) emitTerm(t *kir.Terminator) error {
	e := fe.e
	switch t.Kind {
	case kir.TermRet:
		if t.Ret.HasValue {
			ty, err := fe.typeOf(t.Ret.Value.Type)
			if err != nil {
				return err
			}
			fmt.Fprintf(&e.buf, "  ret %s %s\n", ty, fe.operand(t.Ret.Value))
		} else {
			fmt.Fprint(&e.buf, "  ret void\n")
		}
	case kir.TermJump:
		fmt.Fprintf(&e.buf, "  br label %%bb%d\n", t.Jump.Target)
	case kir.TermJumpIf:
		fmt.Fprintf(&e.buf, "  br i1 %s, label %%bb%d, label %%bb%d\n",
			fe.operand(t.JumpIf.Cond), t.JumpIf.Then, t.JumpIf.Else)
	case kir.TermSwitch:
		ty, err := fe.typeOf(t.Switch.Value.Type)
		if err != nil {
			return err
		}
		fmt.Fprintf(&e.buf, "  switch %s %s, label %%bb%d [", ty, fe.operand(t.Switch.Value), t.Switch.Default)
		for _, c := range t.Switch.Cases {
			fmt.Fprintf(&e.buf, " %s %d, label %%bb%d", ty, c.Const, c.Target)
		}
		fmt.Fprint(&e.buf, " ]\n")
	case kir.TermUnreachable:
		fmt.Fprint(&e.buf, "  unreachable\n")
	default:
		return diag.NewError(diag.BackendBadModule, fe.f.Name, source.NoSpan, "block without terminator")
	}
	return nil
}

func (fe *externFuncEmitter) operand(v kir.Value) string {
	switch v.Kind {
	case kir.ValConst:
		return externConst(v)
	case kir.ValReg:
		return "%" + strconv.FormatUint(uint64(v.Reg), 10)
	case kir.ValGlobal:
		return "@" + v.Global
	case kir.ValUndef:
		return "undef"
	}
	return "poison"
}

func (fe *externFuncEmitter) typeOf(id types.TypeID) (string, error) {
	return fe.e.typeName(id, fe.f.Name)
}

func (e *externEmitter) typeName(id types.TypeID, fn string) (string, error) {
	t, ok := e.types.Lookup(id)
	if !ok {
		return "void", nil
	}
	switch t.Kind {
	case types.KindUnit:
		return "void", nil
	case types.KindBool:
		return "i1", nil
	case types.KindInt, types.KindUint:
		return fmt.Sprintf("i%d", t.Width), nil
	case types.KindFloat:
		if t.Width == types.Width32 {
			return "float", nil
		}
		return "double", nil
	case types.KindPtr, types.KindFn:
		return "ptr", nil
	}
	return "", diag.NewError(diag.BackendUnsupported, fn, source.NoSpan,
		fmt.Sprintf("extern bridge has no representation for %s", t.Kind))
}

func externConst(v kir.Value) string {
	if v.Kind == kir.ValUndef || v.Kind == kir.ValNone {
		return "undef"
	}
	if v.Float != 0 {
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	}
	if v.Bool {
		return "true"
	}
	return strconv.FormatInt(v.Int, 10)
}
