package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/shiftq/internal/queue"
	"github.com/hyperengineering/shiftq/internal/validation"
	"github.com/hyperengineering/shiftq/pkg/offline"
)

var (
	reportLat         float64
	reportLng         float64
	reportType        string
	reportDescription string
	eventEnd          string
)

var incidentCmd = &cobra.Command{
	Use:   "incident",
	Short: "Queue an incident report (attached to the active shift, if any)",
	Args:  cobra.NoArgs,
	RunE:  runIncident,
}

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Queue a scheduled blitz event",
	Args:  cobra.NoArgs,
	RunE:  runEvent,
}

func init() {
	for _, c := range []*cobra.Command{incidentCmd, eventCmd} {
		c.Flags().Float64Var(&reportLat, "lat", 0, "Latitude")
		c.Flags().Float64Var(&reportLng, "lng", 0, "Longitude")
		c.Flags().StringVar(&reportType, "type", "", "Incident or blitz type (required)")
		c.Flags().StringVar(&reportDescription, "description", "", "Free-text description")
		c.MarkFlagRequired("lat")
		c.MarkFlagRequired("lng")
		c.MarkFlagRequired("type")
	}
	eventCmd.Flags().StringVar(&eventEnd, "end", "", "Scheduled end (RFC 3339)")
}

func enqueueResult(ctx context.Context, cmd *cobra.Command, c *offline.Client, err error) error {
	var fields validation.Errors
	if errors.As(err, &fields) {
		return wrapExitError(ExitCommandError, "invalid report", err)
	}
	if err != nil {
		return err
	}
	n := c.Length(ctx)
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]int{"length": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued (%d pending)\n", n)
	return nil
}

func runIncident(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *offline.Client) error {
		err := c.ReportIncident(ctx, queue.Incident{
			Lat:          reportLat,
			Lng:          reportLng,
			IncidentType: reportType,
			Description:  reportDescription,
		})
		return enqueueResult(ctx, cmd, c, err)
	})
}

func runEvent(cmd *cobra.Command, args []string) error {
	var end int64
	if eventEnd != "" {
		t, err := time.Parse(time.RFC3339, eventEnd)
		if err != nil {
			return wrapExitError(ExitCommandError, "invalid --end", err)
		}
		end = t.UnixMilli()
	}
	return withClient(cmd, func(ctx context.Context, c *offline.Client) error {
		err := c.ScheduleEvent(ctx, queue.ScheduledEvent{
			Lat:          reportLat,
			Lng:          reportLng,
			BlitzType:    reportType,
			Description:  reportDescription,
			ScheduledEnd: end,
		})
		return enqueueResult(ctx, cmd, c, err)
	})
}
