// Package main implements the knullc CLI, a thin driver over the mid-end
// pipeline.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"knull/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "knullc",
	Short: "Knull mid-end compiler",
	Long:  "knullc compiles serialized typed-AST modules to target output through the KIR mid end.",
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(dumpCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("timings", false, "show phase timing information")
	rootCmd.PersistentFlags().String("trace", "off", "trace level (off|phase|pass|debug)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
