package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voiceify/voiceify/pkg/types"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := ctx.client().Status(cmd.Context(), types.JobHandle(args[0]))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			ev := snap.Event()
			fmt.Fprintf(out, "%s  %s  %d%%  %s\n", args[0], ev.Status, ev.Progress, ev.Message)
			if snap.Truncated {
				fmt.Fprintln(out, "note: text was truncated; only the beginning is narrated")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status as JSON")
	return cmd
}
