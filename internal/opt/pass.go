// Package opt implements the mid-end optimization passes and the bounded
// fixpoint pass manager that drives them.
package opt

import (
	"knull/internal/kir"
	"knull/internal/trace"
	"knull/internal/types"
)

// Pass transforms one function and reports whether anything changed.
// Passes never communicate except through the module they jointly mutate.
type Pass interface {
	Name() string
	Run(f *kir.Func) bool
}

// Config is the explicit pass-manager configuration. Pass order and the
// iteration budget are threaded in here rather than living in process
// state.
type Config struct {
	Passes []Pass

	// MaxRounds bounds fixpoint iteration: compile time is capped even
	// when passes keep finding work.
	MaxRounds int

	Tracer trace.Tracer
}

// DefaultMaxRounds is the iteration budget when Config leaves it zero.
const DefaultMaxRounds = 10

// DefaultInlineThreshold is the callee instruction count below which a
// call site is an inlining candidate without an explicit inline marker.
const DefaultInlineThreshold = 24

// DefaultUnrollCap bounds the total instruction count an unrolled loop
// may expand to.
const DefaultUnrollCap = 256

// DefaultConfig returns the standard pass order.
func DefaultConfig(m *kir.Module, typesIn *types.Interner, tracer trace.Tracer) Config {
	if tracer == nil {
		tracer = trace.Nop
	}
	return Config{
		Passes: []Pass{
			NewFold(typesIn),
			NewCopyProp(typesIn),
			NewCSE(),
			NewInline(m, DefaultInlineThreshold, tracer),
			NewUnroll(typesIn, DefaultUnrollCap, tracer),
			NewDCE(),
		},
		MaxRounds: DefaultMaxRounds,
		Tracer:    tracer,
	}
}
