package kir

import (
	"fmt"
	"io"
	"strings"

	"knull/internal/types"
)

// DumpModule writes a human-readable representation of a KIR module.
func DumpModule(w io.Writer, m *Module, typesIn *types.Interner) error {
	if w == nil || m == nil {
		return nil
	}
	if len(m.Globals) > 0 {
		fmt.Fprintf(w, "globals=%d\n", len(m.Globals))
		for _, g := range m.Globals {
			fmt.Fprintf(w, "  @%s: %s = %s\n", g.Name, typeStr(typesIn, g.Type), g.Init)
		}
	}
	fmt.Fprintf(w, "funcs=%d\n", len(m.Funcs))
	for _, f := range m.Funcs {
		if err := DumpFunc(w, f, typesIn); err != nil {
			return err
		}
	}
	return nil
}

// DumpFunc writes one function.
func DumpFunc(w io.Writer, f *Func, typesIn *types.Interner) error {
	if w == nil || f == nil {
		return nil
	}
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = fmt.Sprintf("%s: %s", p, typeStr(typesIn, p.Type))
	}
	fmt.Fprintf(w, "\nfn %s(%s) -> %s:\n", f.Name, strings.Join(params, ", "), typeStr(typesIn, f.Result))

	for _, b := range f.Blocks {
		preds := ""
		if len(b.Preds) > 0 {
			ps := make([]string, len(b.Preds))
			for i, p := range b.Preds {
				ps[i] = fmt.Sprintf("bb%d", p)
			}
			preds = "  ; preds: " + strings.Join(ps, ", ")
		}
		fmt.Fprintf(w, "bb%d:%s\n", b.ID, preds)
		for i := range b.Instrs {
			fmt.Fprintf(w, "  %s\n", InstrString(&b.Instrs[i], typesIn))
		}
		fmt.Fprintf(w, "  %s\n", termString(&b.Term))
	}
	return nil
}

// InstrString renders one instruction.
func InstrString(in *Instr, typesIn *types.Interner) string {
	var sb strings.Builder
	if in.HasResult() {
		fmt.Fprintf(&sb, "%s = ", in.Result)
	}
	sb.WriteString(in.Op.String())

	switch in.Op {
	case OpAlloca:
		fmt.Fprintf(&sb, " %s", typeStr(typesIn, in.Type))
	case OpPhi:
		parts := make([]string, len(in.Args))
		for i, a := range in.Args {
			parts[i] = fmt.Sprintf("bb%d: %s", in.Preds[i], a)
		}
		fmt.Fprintf(&sb, " [%s]", strings.Join(parts, ", "))
	case OpCall:
		args := make([]string, len(in.Args))
		for i, a := range in.Args {
			args[i] = a.String()
		}
		fmt.Fprintf(&sb, " @%s(%s)", in.Callee, strings.Join(args, ", "))
	default:
		for i, a := range in.Args {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, " %s", a)
		}
	}
	if in.HasResult() {
		fmt.Fprintf(&sb, " : %s", typeStr(typesIn, in.Result.Type))
	}
	return sb.String()
}

func termString(t *Terminator) string {
	switch t.Kind {
	case TermRet:
		if t.Ret.HasValue {
			return fmt.Sprintf("ret %s", t.Ret.Value)
		}
		return "ret"
	case TermJump:
		return fmt.Sprintf("jump bb%d", t.Jump.Target)
	case TermJumpIf:
		return fmt.Sprintf("jump_if %s, bb%d, bb%d", t.JumpIf.Cond, t.JumpIf.Then, t.JumpIf.Else)
	case TermSwitch:
		parts := make([]string, len(t.Switch.Cases))
		for i, c := range t.Switch.Cases {
			parts[i] = fmt.Sprintf("%d: bb%d", c.Const, c.Target)
		}
		return fmt.Sprintf("switch %s [%s], default bb%d", t.Switch.Value, strings.Join(parts, ", "), t.Switch.Default)
	case TermUnreachable:
		return "unreachable"
	}
	return "<none>"
}

func typeStr(typesIn *types.Interner, id types.TypeID) string {
	if typesIn == nil {
		return fmt.Sprintf("t%d", id)
	}
	return typesIn.String(id)
}
