package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/samuelfneumann/phasic/environment/envconfig"
	"github.com/samuelfneumann/phasic/experiment/checkpointer"
	"github.com/samuelfneumann/phasic/ppg"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <checkpoint>",
		Short: "Print the contents of a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := checkpointer.Load(args[0])
			if err != nil {
				return err
			}
			return printCheckpoint(cmd.OutOrStdout(), c)
		},
	}
}

// printCheckpoint writes a summary of c and the shape of every
// parameter tensor
func printCheckpoint(out io.Writer, c *ppg.Checkpoint) error {
	fmt.Fprintf(out, "interactions:\t%d\n", c.Interactions)
	fmt.Fprintf(out, "iteration:\t%d\n", c.Iteration)
	fmt.Fprintf(out, "arch:\t%v\n", c.Model.Arch)
	fmt.Fprintf(out, "observation size:\t%d\n", c.Model.ObsSize)
	fmt.Fprintf(out, "actions:\t%d\n", c.Model.NumActions)
	fmt.Fprintf(out, "hidden:\t%v (%v)\n", c.Model.Hidden, c.Model.Activation)
	fmt.Fprintf(out, "parameters:\t%d\n", c.Params.Len())

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, t := range c.Params.Tensors {
		fmt.Fprintf(w, "  %v\t%v\n", t.Name, t.Shape)
	}
	return w.Flush()
}

func newEnvsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "envs",
		Short: "List the available environments",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range envconfig.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
