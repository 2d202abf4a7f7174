package kir

// BlockID is a block's label identity: its index in Func.Blocks.
type BlockID int32

// NoBlock marks an absent block reference.
const NoBlock BlockID = -1

// Block is a maximal straight-line instruction sequence ending in exactly
// one terminator. Preds is the recorded predecessor list, fixed in a
// deterministic order when CFG edges are created.
type Block struct {
	ID     BlockID
	Instrs []Instr
	Term   Terminator
	Preds  []BlockID
}

// Terminated reports whether the block already has its terminator.
func (b *Block) Terminated() bool {
	if b == nil {
		return true
	}
	return b.Term.Kind != TermNone
}

// Append adds a non-terminator instruction.
func (b *Block) Append(in Instr) {
	b.Instrs = append(b.Instrs, in)
}

// Phis returns the leading run of phi instructions.
func (b *Block) Phis() []Instr {
	n := 0
	for n < len(b.Instrs) && b.Instrs[n].Op == OpPhi {
		n++
	}
	return b.Instrs[:n]
}

// HasPred reports whether p is already recorded as a predecessor.
func (b *Block) HasPred(p BlockID) bool {
	for _, q := range b.Preds {
		if q == p {
			return true
		}
	}
	return false
}

func (b *Block) addPred(p BlockID) {
	if !b.HasPred(p) {
		b.Preds = append(b.Preds, p)
	}
}

func (b *Block) removePred(p BlockID) {
	for i, q := range b.Preds {
		if q == p {
			b.Preds = append(b.Preds[:i], b.Preds[i+1:]...)
			return
		}
	}
}
