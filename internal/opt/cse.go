package opt

import (
	"knull/internal/kir"
	"knull/internal/types"
)

// CSE eliminates repeated pure computations. Expressions are hashed by
// opcode, result type and operands (commutative operands are normalized),
// and the table is scoped along the dominator tree so a replacement is
// always dominated by the expression it reuses. Loads, calls and atomics
// are never candidates.
type CSE struct{}

func NewCSE() *CSE { return &CSE{} }

func (p *CSE) Name() string { return "cse" }

// exprKey identifies a pure expression. Idempotent opcodes take at most
// two operands, so two value slots suffice.
type exprKey struct {
	op kir.Op
	ty types.TypeID
	a  kir.Value
	b  kir.Value
}

func (p *CSE) Run(f *kir.Func) bool {
	dt := kir.BuildDomTree(f)
	c := &cseWalker{f: f, dt: dt}
	c.walk(0, map[exprKey]kir.Value{})
	if len(c.dead) > 0 {
		removeInstrs(f, c.dead)
		return true
	}
	return false
}

type cseWalker struct {
	f    *kir.Func
	dt   *kir.DomTree
	dead map[*kir.Block]map[int]bool
}

// walk visits one block with the expression table of its dominators.
// Entries added here are passed down to dominated blocks and dropped on
// the way back up by copy-on-write: each child sees its own extension.
func (c *cseWalker) walk(id kir.BlockID, avail map[exprKey]kir.Value) {
	b := c.f.Block(id)
	if b == nil {
		return
	}
	var local map[exprKey]kir.Value
	lookup := func(k exprKey) (kir.Value, bool) {
		if v, ok := local[k]; ok {
			return v, true
		}
		v, ok := avail[k]
		return v, ok
	}

	for i := range b.Instrs {
		in := &b.Instrs[i]
		if !in.Op.Idempotent() || !in.HasResult() || len(in.Args) > 2 {
			continue
		}
		k := keyOf(in)
		if prev, ok := lookup(k); ok {
			replaceAllUses(c.f, in.Result, prev)
			if c.dead == nil {
				c.dead = make(map[*kir.Block]map[int]bool)
			}
			if c.dead[b] == nil {
				c.dead[b] = make(map[int]bool)
			}
			c.dead[b][i] = true
			continue
		}
		if local == nil {
			local = make(map[exprKey]kir.Value)
		}
		local[k] = in.Result
	}

	if len(c.dt.Children[id]) == 0 {
		return
	}
	next := avail
	if len(local) > 0 {
		next = make(map[exprKey]kir.Value, len(avail)+len(local))
		for k, v := range avail {
			next[k] = v
		}
		for k, v := range local {
			next[k] = v
		}
	}
	for _, ch := range c.dt.Children[id] {
		c.walk(ch, next)
	}
}

func keyOf(in *kir.Instr) exprKey {
	k := exprKey{op: in.Op, ty: in.Result.Type}
	if len(in.Args) > 0 {
		k.a = in.Args[0]
	}
	if len(in.Args) > 1 {
		k.b = in.Args[1]
	}
	if in.Op.IsCommutative() && valueLess(k.b, k.a) {
		k.a, k.b = k.b, k.a
	}
	return k
}

// valueLess is an arbitrary but stable total order for normalizing
// commutative operands.
func valueLess(x, y kir.Value) bool {
	if x.Kind != y.Kind {
		return x.Kind < y.Kind
	}
	switch x.Kind {
	case kir.ValReg:
		return x.Reg < y.Reg
	case kir.ValConst:
		if x.Int != y.Int {
			return x.Int < y.Int
		}
		return x.Float < y.Float
	case kir.ValGlobal:
		return x.Global < y.Global
	}
	return x.Type < y.Type
}
