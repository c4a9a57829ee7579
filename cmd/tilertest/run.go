package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"github.com/tilerspace/tilermgr/tiler"
)

var dumpMap bool

func init() {
	cmd := newRunCmd()
	cmd.Flags().BoolVar(&dumpMap, "dump-map", false, "Dump the container map as JSON after each scenario")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [start [end]]",
		Short: "Run all or a range of the test battery",
		Long: `The run command executes the numbered test battery, or an inclusive
1-based range of it. Each scenario gets a fresh manager; a scenario fails if any
operation misbehaves or if the manager still holds blocks when the scenario ends.

Example:
  tilertest run
  tilertest run 7
  tilertest run 7 12`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBattery(args)
		},
	}
}

func runBattery(args []string) error {
	tests := battery()

	start, end := 1, len(tests)
	var err error
	if len(args) >= 1 {
		start, err = strconv.Atoi(args[0])
		if err != nil || start < 1 || start > len(tests) {
			return fmt.Errorf("start must be between 1 and %d", len(tests))
		}
		end = start
	}
	if len(args) == 2 {
		end, err = strconv.Atoi(args[1])
		if err != nil || end < start || end > len(tests) {
			return fmt.Errorf("end must be between %d and %d", start, len(tests))
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr))
	failed := 0
	for i := start; i <= end; i++ {
		test := tests[i-1]
		printInfo("TEST #%3d: %s\n", i, test.name)

		err := runOne(logger, test)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "TEST #%3d: FAILED: %v\n", i, err)
			continue
		}
		printInfo("TEST #%3d: PASSED\n", i)
	}

	printInfo("%d of %d tests failed\n", failed, end-start+1)
	if failed > 0 {
		os.Exit(failed)
	}
	return nil
}

func runOne(logger *slog.Logger, test batteryTest) error {
	m, err := tiler.New(logger, tiler.CreateOptions{})
	if err != nil {
		return err
	}

	s := &session{m: m}
	runErr := test.run(s)

	if dumpMap {
		w := jwriter.NewWriter()
		m.PrintDetailedMap(&w)
		if w.Error() == nil {
			fmt.Fprintf(os.Stdout, "%s\n", w.Bytes())
		}
	}

	// Destroy flags anything the scenario leaked.
	destroyErr := m.Destroy()
	if runErr != nil {
		return runErr
	}
	return destroyErr
}
