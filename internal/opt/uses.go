package opt

import "knull/internal/kir"

// countUses tallies how many operand positions reference each register.
func countUses(f *kir.Func) map[kir.RegID]int {
	uses := make(map[kir.RegID]int)
	note := func(v kir.Value) {
		if v.Kind == kir.ValReg {
			uses[v.Reg]++
		}
	}
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			b.Instrs[i].Uses(note)
		}
		b.Term.Uses(note)
	}
	return uses
}

// replaceAllUses rewrites every operand equal to old with new across the
// whole function.
func replaceAllUses(f *kir.Func, old, new kir.Value) bool {
	changed := false
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			if b.Instrs[i].ReplaceUses(old, new) {
				changed = true
			}
		}
		if b.Term.ReplaceUses(old, new) {
			changed = true
		}
	}
	return changed
}

// removeInstrs filters out the instructions whose (block, index) pairs
// are marked, preserving order.
func removeInstrs(f *kir.Func, dead map[*kir.Block]map[int]bool) {
	for b, idxs := range dead {
		if len(idxs) == 0 {
			continue
		}
		kept := b.Instrs[:0]
		for i := range b.Instrs {
			if !idxs[i] {
				kept = append(kept, b.Instrs[i])
			}
		}
		b.Instrs = kept
	}
}
