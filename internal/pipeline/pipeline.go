// Package pipeline drives a KIR module through the mid end: verification,
// promotion to SSA, the optimization manager, register allocation and
// backend emission. All policy lives in Options so the CLI stays a thin
// shell.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"knull/internal/backend"
	"knull/internal/kir"
	"knull/internal/observ"
	"knull/internal/opt"
	"knull/internal/regalloc"
	"knull/internal/target"
	"knull/internal/trace"
	"knull/internal/types"
)

// Options configures one compilation.
type Options struct {
	// NoVerify skips IR verification between phases. Verification is on
	// by default; release builds of trusted front ends may turn it off.
	NoVerify bool

	// OptRounds overrides the pass manager's iteration budget; zero keeps
	// the default.
	OptRounds int

	// Backend selects the output renderer ("direct" or "extern"); empty
	// means direct.
	Backend string

	// Target describes the machine; nil means the built-in reference
	// target.
	Target *target.Spec

	// EmitKIR additionally renders the optimized module as readable KIR.
	EmitKIR bool

	// Jobs bounds per-function parallelism; zero means GOMAXPROCS.
	Jobs int

	Tracer trace.Tracer
	Timer  *observ.Timer
}

// Result is a finished compilation.
type Result struct {
	// Output is the backend's rendering of the module.
	Output string

	// KIR is the readable dump of the optimized module when requested.
	KIR string

	// Artifacts holds the allocation and target data the backend consumed.
	Artifacts *backend.Artifacts

	// OptRounds is the number of pass-manager rounds that ran.
	OptRounds int
}

// Run compiles m in place. The module must not be shared with another
// goroutine while Run executes.
func Run(ctx context.Context, m *kir.Module, typesIn *types.Interner, opts Options) (*Result, error) {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.Nop
	}
	timer := opts.Timer
	if timer == nil {
		timer = observ.NewTimer()
	}
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	tgt := opts.Target
	if tgt == nil {
		tgt = target.Reference()
	}

	verify := func(when string) error {
		if opts.NoVerify {
			return nil
		}
		idx := timer.Begin("verify " + when)
		err := kir.Verify(m, typesIn)
		timer.End(idx, "")
		if err != nil {
			return fmt.Errorf("verify %s: %w", when, err)
		}
		return nil
	}

	if err := verify("input"); err != nil {
		return nil, err
	}

	// SSA promotion is independent per function.
	idx := timer.Begin("mem2reg")
	err := forEachFunc(ctx, m, jobs, func(f *kir.Func) error {
		if kir.PromoteAllocas(f) {
			tracer.Emit(trace.LevelPhase, "mem2reg: %s promoted", f.Name)
		}
		kir.SimplifyCFG(f)
		return nil
	})
	timer.End(idx, "")
	if err != nil {
		return nil, err
	}
	if err := verify("after mem2reg"); err != nil {
		return nil, err
	}

	// The inliner reads callee bodies, so the pass manager owns the whole
	// module and runs on one goroutine.
	cfg := opt.DefaultConfig(m, typesIn, tracer)
	if opts.OptRounds > 0 {
		cfg.MaxRounds = opts.OptRounds
	}
	idx = timer.Begin("opt")
	rounds := opt.NewManager(cfg).Run(m)
	timer.End(idx, fmt.Sprintf("%d rounds", rounds))
	if err := verify("after opt"); err != nil {
		return nil, err
	}

	res := &Result{
		OptRounds: rounds,
		Artifacts: &backend.Artifacts{
			Types:  typesIn,
			Target: tgt,
			Allocs: make(map[string]*regalloc.Allocation, len(m.Funcs)),
		},
	}
	if opts.EmitKIR {
		var sb strings.Builder
		if err := kir.DumpModule(&sb, m, typesIn); err != nil {
			return nil, err
		}
		res.KIR = sb.String()
	}

	be, err := backend.New(opts.Backend)
	if err != nil {
		return nil, err
	}

	// Allocation mutates the functions (spill slots, reloads), so it only
	// runs for backends that consume it; the extern bridge gets the module
	// as the optimizer left it. Results land in per-function slots, so no
	// mutex is needed, but the map is filled after the join.
	if be.NeedsAllocation() {
		idx = timer.Begin("regalloc")
		allocs := make([]*regalloc.Allocation, len(m.Funcs))
		err = forEachFuncIndexed(ctx, m, jobs, func(i int, f *kir.Func) error {
			a, err := regalloc.Allocate(f, typesIn, tgt, tracer)
			if err != nil {
				return err
			}
			allocs[i] = a
			return nil
		})
		timer.End(idx, "")
		if err != nil {
			return nil, err
		}
		for i, f := range m.Funcs {
			res.Artifacts.Allocs[f.Name] = allocs[i]
		}
		if err := verify("after regalloc"); err != nil {
			return nil, err
		}
	}
	idx = timer.Begin("backend " + be.Name())
	out, err := be.Emit(m, res.Artifacts)
	timer.End(idx, "")
	if err != nil {
		return nil, err
	}
	res.Output = out
	return res, nil
}

func forEachFunc(ctx context.Context, m *kir.Module, jobs int, fn func(*kir.Func) error) error {
	return forEachFuncIndexed(ctx, m, jobs, func(_ int, f *kir.Func) error { return fn(f) })
}

func forEachFuncIndexed(ctx context.Context, m *kir.Module, jobs int, fn func(int, *kir.Func) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, max(len(m.Funcs), 1)))
	for i, f := range m.Funcs {
		i, f := i, f
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return fn(i, f)
		})
	}
	return g.Wait()
}
