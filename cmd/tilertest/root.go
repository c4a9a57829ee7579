package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "tilertest",
	Short: "Exercise the tiler space manager",
	Long: `tilertest runs a numbered battery of allocation, mapping and stress
scenarios against an in-process tiler space manager. Every scenario fills the
memory it claims with a self-verifying sequence and checks it before release,
so overlapping or corrupted placements are caught immediately.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}
