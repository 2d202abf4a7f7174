package opt

import "knull/internal/kir"

// DCE removes instructions whose results are never used and which have no
// side effects, cascading until nothing else dies, then simplifies the CFG
// so blocks made unreachable by branch folding disappear too.
type DCE struct{}

func NewDCE() *DCE { return &DCE{} }

func (p *DCE) Name() string { return "dce" }

func (p *DCE) Run(f *kir.Func) bool {
	changed := false
	// Removing one dead instruction can zero out the use count of its
	// operands, so sweep to a local fixpoint.
	for {
		uses := countUses(f)
		dead := make(map[*kir.Block]map[int]bool)
		found := false
		for _, b := range f.Blocks {
			for i := range b.Instrs {
				in := &b.Instrs[i]
				if in.Op.HasSideEffects() {
					continue
				}
				if !in.HasResult() || uses[in.Result.Reg] > 0 {
					continue
				}
				if dead[b] == nil {
					dead[b] = make(map[int]bool)
				}
				dead[b][i] = true
				found = true
			}
		}
		if !found {
			break
		}
		removeInstrs(f, dead)
		changed = true
	}
	if kir.SimplifyCFG(f) {
		changed = true
	}
	return changed
}
