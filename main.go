// Command phasic trains categorical policies with Phasic Policy
// Gradient, on one process, on several in-process ranks, or on a
// process group connected over websockets.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "phasic",
		Short:         "Phasic Policy Gradient trainer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTrainCmd(), newInspectCmd(), newEnvsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "phasic:", err)
		os.Exit(1)
	}
}
