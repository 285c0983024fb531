package main

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/shiftq/pkg/offline"
)

var clearConfirmed bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the queued operations and the active shift",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Replay the queue to the server now",
	Long:  "Replay queued operations in order. Operations that fail stay queued; that is not an error.",
	Args:  cobra.NoArgs,
	RunE:  runFlush,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued operation (audited)",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	clearCmd.Flags().BoolVar(&clearConfirmed, "yes", false, "Confirm discarding the queue")
}

type statusOutput struct {
	Length      int               `json:"length"`
	Kinds       map[string]int    `json:"kinds"`
	ActiveShift string            `json:"activeShift,omitempty"`
	Resolutions map[string]string `json:"resolutions"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *offline.Client) error {
		ops := c.Snapshot(ctx)
		st := statusOutput{
			Length:      len(ops),
			Kinds:       make(map[string]int),
			Resolutions: c.Resolutions(ctx),
		}
		for _, op := range ops {
			kind := string(op.Kind)
			if kind == "" {
				kind = "(unrecognised)"
			}
			st.Kinds[kind]++
		}
		if s, ok, err := c.ActiveShift(ctx); err == nil && ok {
			st.ActiveShift = s.LocalID
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, st)
		}

		fmt.Fprintf(out, "Queued:        %d\n", st.Length)
		for _, kind := range slices.Sorted(maps.Keys(st.Kinds)) {
			fmt.Fprintf(out, "  %-13s %d\n", kind, st.Kinds[kind])
		}
		if st.ActiveShift != "" {
			fmt.Fprintf(out, "Active shift:  %s\n", st.ActiveShift)
		} else {
			fmt.Fprintln(out, "Active shift:  none")
		}
		fmt.Fprintf(out, "Resolved ids:  %d\n", len(st.Resolutions))
		return nil
	})
}

func runFlush(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *offline.Client) error {
		res := c.Flush(ctx)
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		return nil
	})
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearConfirmed {
		return newExitError(ExitCommandError, "refusing to clear the offline queue without --yes")
	}
	return withClient(cmd, func(ctx context.Context, c *offline.Client) error {
		res := c.Clear(ctx)
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		}
		if res.Err != nil {
			return wrapExitError(ExitFailure, "clear offline queue", res.Err)
		}
		return nil
	})
}
