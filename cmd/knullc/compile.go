package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"knull/internal/ast"
	"knull/internal/diag"
	"knull/internal/kir"
	"knull/internal/observ"
	"knull/internal/pipeline"
	"knull/internal/target"
	"knull/internal/trace"
	"knull/internal/types"
)

var compileCmd = &cobra.Command{
	Use:   "compile [flags] <file.kast>",
	Short: "Compile a typed-AST module",
	Long:  "Compile a serialized typed-AST module (.kast) to target output.",
	Args:  cobra.ExactArgs(1),
	RunE:  compileExecution,
}

func init() {
	compileCmd.Flags().String("backend", "direct", "output backend (direct|extern)")
	compileCmd.Flags().String("target", "", "target description TOML file (default: built-in reference target)")
	compileCmd.Flags().Bool("emit-kir", false, "also write the optimized KIR next to the output")
	compileCmd.Flags().Bool("no-verify", false, "skip IR verification between phases")
	compileCmd.Flags().Int("opt-rounds", 0, "override the pass manager round budget")
	compileCmd.Flags().StringP("output", "o", "", "output path (default: stdout)")
}

func compileExecution(cmd *cobra.Command, args []string) error {
	backendValue, err := cmd.Flags().GetString("backend")
	if err != nil {
		return err
	}
	targetPath, err := cmd.Flags().GetString("target")
	if err != nil {
		return err
	}
	emitKIR, err := cmd.Flags().GetBool("emit-kir")
	if err != nil {
		return err
	}
	noVerify, err := cmd.Flags().GetBool("no-verify")
	if err != nil {
		return err
	}
	optRounds, err := cmd.Flags().GetInt("opt-rounds")
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	timings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return err
	}
	tracer, err := tracerFromFlags(cmd)
	if err != nil {
		return err
	}
	configureColor(cmd)

	m, typesIn, err := loadModule(args[0])
	if err != nil {
		return reportError(err)
	}

	var tgt *target.Spec
	if targetPath != "" {
		tgt, err = target.Load(targetPath)
		if err != nil {
			return reportError(err)
		}
	}

	timer := observ.NewTimer()
	res, err := pipeline.Run(cmd.Context(), m, typesIn, pipeline.Options{
		NoVerify:  noVerify,
		OptRounds: optRounds,
		Backend:   backendValue,
		Target:    tgt,
		EmitKIR:   emitKIR,
		Tracer:    tracer,
		Timer:     timer,
	})
	if err != nil {
		return reportError(err)
	}

	if err := writeOutput(outPath, res.Output); err != nil {
		return reportError(err)
	}
	if emitKIR {
		kirPath := outPath + ".kir"
		if outPath == "" {
			kirPath = ""
		}
		if err := writeOutput(kirPath, res.KIR); err != nil {
			return reportError(err)
		}
	}
	if timings {
		fmt.Fprint(os.Stderr, timer.Summary())
	}
	return nil
}

var dumpCmd = &cobra.Command{
	Use:   "dump <file.kast>",
	Short: "Lower a typed-AST module and print the unoptimized KIR",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configureColor(cmd)
		m, typesIn, err := loadModule(args[0])
		if err != nil {
			return reportError(err)
		}
		return kir.DumpModule(os.Stdout, m, typesIn)
	},
}

// loadModule decodes a serialized typed AST and lowers it to KIR.
func loadModule(path string) (*kir.Module, *types.Interner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	astMod, err := ast.DecodeModule(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return kir.LowerModule(astMod)
}

func writeOutput(path, content string) error {
	if path == "" {
		_, err := fmt.Print(content)
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func tracerFromFlags(cmd *cobra.Command) (trace.Tracer, error) {
	levelValue, err := cmd.Root().PersistentFlags().GetString("trace")
	if err != nil {
		return nil, err
	}
	level, err := trace.ParseLevel(levelValue)
	if err != nil {
		return nil, err
	}
	if level == trace.LevelOff {
		return trace.Nop, nil
	}
	return trace.NewWriter(os.Stderr, level), nil
}

func configureColor(cmd *cobra.Command) {
	mode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return
	}
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	}
}

var (
	errorColor = color.New(color.FgRed, color.Bold)
	codeColor  = color.New(color.FgCyan)
)

// reportError renders diagnostics with their code highlighted; other
// errors pass through for cobra to print.
func reportError(err error) error {
	var d diag.Diagnostic
	if errors.As(err, &d) {
		where := d.Fn
		if where != "" {
			where = " in " + where
		}
		fmt.Fprintf(os.Stderr, "%s %s%s: %s\n",
			errorColor.Sprint("error"), codeColor.Sprint(d.Code.String()), where, d.Message)
		for _, n := range d.Notes {
			fmt.Fprintf(os.Stderr, "  note: %s\n", n.Msg)
		}
	}
	return err
}
