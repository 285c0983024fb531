package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/shiftq/internal/shift"
	"github.com/hyperengineering/shiftq/pkg/offline"
)

var shiftCmd = &cobra.Command{
	Use:   "shift",
	Short: "Start or end a shift",
}

var shiftStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a shift and queue its creation",
	Args:  cobra.NoArgs,
	RunE:  runShiftStart,
}

var shiftEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the active shift and queue the update",
	Args:  cobra.NoArgs,
	RunE:  runShiftEnd,
}

func init() {
	shiftCmd.AddCommand(shiftStartCmd)
	shiftCmd.AddCommand(shiftEndCmd)
}

type shiftOutput struct {
	LocalID   string     `json:"localId"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

func shiftError(err error) error {
	if errors.Is(err, shift.ErrShiftActive) || errors.Is(err, shift.ErrNoActiveShift) {
		return wrapExitError(ExitFailure, "shift", err)
	}
	return err
}

func runShiftStart(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *offline.Client) error {
		s, err := c.StartShift(ctx)
		if err != nil {
			return shiftError(err)
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, shiftOutput{LocalID: s.LocalID, StartedAt: s.StartedAt})
		}
		fmt.Fprintf(out, "Shift %s started at %s\n", s.LocalID, s.StartedAt.Local().Format(time.Kitchen))
		return nil
	})
}

func runShiftEnd(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *offline.Client) error {
		s, ended, err := c.EndShift(ctx)
		if err != nil {
			return shiftError(err)
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, shiftOutput{LocalID: s.LocalID, StartedAt: s.StartedAt, EndedAt: &ended})
		}
		fmt.Fprintf(out, "Shift %s ended after %s\n", s.LocalID, ended.Sub(s.StartedAt).Round(time.Minute))
		return nil
	})
}
