package opt

import (
	"knull/internal/kir"
	"knull/internal/trace"
)

// Manager applies a fixed, ordered pass list repeatedly until a full
// round over all passes changes nothing, or MaxRounds is reached.
type Manager struct {
	cfg Config
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.Tracer == nil {
		cfg.Tracer = trace.Nop
	}
	return &Manager{cfg: cfg}
}

// Run optimizes every function of the module. Returns the number of full
// rounds executed. Verification between passes is the pipeline's job; the
// manager only drives transforms.
func (mgr *Manager) Run(m *kir.Module) int {
	rounds := 0
	for ; rounds < mgr.cfg.MaxRounds; rounds++ {
		changed := false
		for _, pass := range mgr.cfg.Passes {
			for _, f := range m.Funcs {
				if f == nil {
					continue
				}
				if pass.Run(f) {
					changed = true
					mgr.cfg.Tracer.Emit(trace.LevelPass, "%s: %s changed", pass.Name(), f.Name)
				}
			}
		}
		if !changed {
			rounds++
			break
		}
	}
	return rounds
}
