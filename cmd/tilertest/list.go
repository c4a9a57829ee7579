package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newListCmd())
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the numbered test battery",
		Long: `The list command prints every scenario in the battery with its number,
so a subset can be selected with run.

Example:
  tilertest list
  tilertest run 7 12`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for i, test := range battery() {
				printInfo("%3d: %s\n", i+1, test.name)
			}
		},
	}
}
