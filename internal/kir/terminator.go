package kir

// TermKind enumerates terminator kinds.
type TermKind uint8

const (
	TermNone TermKind = iota
	TermRet
	TermJump
	TermJumpIf
	TermSwitch
	TermUnreachable
)

// Terminator is the single control transfer ending a block.
type Terminator struct {
	Kind TermKind

	Ret         RetTerm
	Jump        JumpTerm
	JumpIf      JumpIfTerm
	Switch      SwitchTerm
	Unreachable struct{}
}

type RetTerm struct {
	HasValue bool
	Value    Value
}

type JumpTerm struct {
	Target BlockID
}

type JumpIfTerm struct {
	Cond Value
	Then BlockID
	Else BlockID
}

type SwitchCase struct {
	Const  int64
	Target BlockID
}

type SwitchTerm struct {
	Value   Value
	Cases   []SwitchCase
	Default BlockID
}

// Successors calls fn for each successor block in a fixed order.
func (t *Terminator) Successors(fn func(BlockID)) {
	switch t.Kind {
	case TermJump:
		fn(t.Jump.Target)
	case TermJumpIf:
		fn(t.JumpIf.Then)
		fn(t.JumpIf.Else)
	case TermSwitch:
		for _, c := range t.Switch.Cases {
			fn(c.Target)
		}
		fn(t.Switch.Default)
	}
}

// Uses calls fn for each value the terminator reads.
func (t *Terminator) Uses(fn func(Value)) {
	switch t.Kind {
	case TermRet:
		if t.Ret.HasValue {
			fn(t.Ret.Value)
		}
	case TermJumpIf:
		fn(t.JumpIf.Cond)
	case TermSwitch:
		fn(t.Switch.Value)
	}
}

// ReplaceUses rewrites terminator operands equal to old with new.
func (t *Terminator) ReplaceUses(old, new Value) bool {
	changed := false
	switch t.Kind {
	case TermRet:
		if t.Ret.HasValue && t.Ret.Value == old {
			t.Ret.Value = new
			changed = true
		}
	case TermJumpIf:
		if t.JumpIf.Cond == old {
			t.JumpIf.Cond = new
			changed = true
		}
	case TermSwitch:
		if t.Switch.Value == old {
			t.Switch.Value = new
			changed = true
		}
	}
	return changed
}

// Retarget rewrites every successor edge through the map function.
func (t *Terminator) Retarget(remap func(BlockID) BlockID) {
	switch t.Kind {
	case TermJump:
		t.Jump.Target = remap(t.Jump.Target)
	case TermJumpIf:
		t.JumpIf.Then = remap(t.JumpIf.Then)
		t.JumpIf.Else = remap(t.JumpIf.Else)
	case TermSwitch:
		for i := range t.Switch.Cases {
			t.Switch.Cases[i].Target = remap(t.Switch.Cases[i].Target)
		}
		t.Switch.Default = remap(t.Switch.Default)
	}
}
