package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/shiftq/internal/backend"
	"github.com/hyperengineering/shiftq/internal/queue"
)

type status int

const (
	statusSent status = iota
	statusDeferred
	statusRejected
	statusUnknown
)

type outcome struct {
	status    status
	attempted bool
}

// replay sends one operation. resolutions is updated in place when a
// creating operation succeeds, so later operations in the pass see it.
func (e *Engine) replay(ctx context.Context, op queue.Operation, resolutions map[string]string) outcome {
	action, err := op.Decode()
	if errors.Is(err, queue.ErrUnknownKind) {
		slog.Warn("unknown operation kind retained",
			"component", "replay",
			"action", "unknown_kind",
			"kind", op.Kind,
		)
		return outcome{status: statusUnknown}
	}
	if err != nil {
		slog.Warn("malformed operation retained",
			"component", "replay",
			"action", "malformed_payload",
			"kind", op.Kind,
			"error", err,
		)
		return outcome{status: statusRejected}
	}

	var serverRef string
	if dep, ok := action.(queue.Dependent); ok {
		if localID, ok := dep.DependsOnLocalID(); ok {
			id, resolved := resolutions[localID]
			if !resolved || id == "" {
				slog.Debug("operation deferred on unresolved identifier",
					"component", "replay",
					"action", "deferred",
					"kind", op.Kind,
					"local_id", localID,
				)
				return outcome{status: statusDeferred}
			}
			serverRef = id
		}
	}
	if ref, ok := action.(queue.Referrer); ok {
		if localID, ok := ref.RefersToLocalID(); ok {
			serverRef = resolutions[localID]
			if serverRef == "" {
				slog.Debug("reference unresolved, sending without it",
					"component", "replay",
					"action", "reference_dropped",
					"kind", op.Kind,
					"local_id", localID,
				)
			}
		}
	}

	created, err := e.send(ctx, action, serverRef)
	if err != nil {
		slog.Warn("operation rejected by backend",
			"component", "replay",
			"action", "remote_failed",
			"kind", op.Kind,
			"error", err,
		)
		return outcome{status: statusRejected, attempted: true}
	}

	if creator, ok := action.(queue.Creator); ok {
		if err := e.resolve(ctx, creator.CreatesLocalID(), created.String(), resolutions); err != nil {
			slog.Error("identifier mapping not persisted, operation retained",
				"component", "replay",
				"action", "resolve_failed",
				"kind", op.Kind,
				"local_id", creator.CreatesLocalID(),
				"error", err,
			)
			return outcome{status: statusRejected, attempted: true}
		}
	}
	return outcome{status: statusSent, attempted: true}
}

// send dispatches action to its remote call. serverRef is the resolved server
// identifier of the action's dependency or reference, if it has one.
func (e *Engine) send(ctx context.Context, action queue.Action, serverRef string) (backend.ID, error) {
	var created backend.Created
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		switch a := action.(type) {
		case queue.Incident:
			created, err = e.client.CreateIncident(ctx, backend.IncidentRequest{
				Latitude:     a.Lat,
				Longitude:    a.Lng,
				IncidentType: a.IncidentType,
				Description:  a.Description,
				ReportedAt:   fromMillis(a.ReportedAt),
				ShiftID:      serverRef,
			})
		case queue.ScheduledEvent:
			created, err = e.client.CreateScheduledEvent(ctx, backend.ScheduledEventRequest{
				Latitude:     a.Lat,
				Longitude:    a.Lng,
				Description:  a.Description,
				BlitzType:    a.BlitzType,
				ScheduledEnd: optionalMillis(a.ScheduledEnd),
			})
		case queue.ShiftStart:
			created, err = e.client.CreateShift(ctx, backend.ShiftRequest{
				StartedAt: fromMillis(a.StartedAt),
			})
		case queue.ShiftEnd:
			err = e.client.UpdateShift(ctx, serverRef, backend.ShiftRequest{
				StartedAt: fromMillis(a.StartedAt),
				EndedAt:   optionalMillis(a.EndedAt),
			})
		default:
			err = fmt.Errorf("%w: %s", queue.ErrUnknownKind, action.Kind())
		}
		return err
	})
	return created.ID, err
}

// resolve records localID -> serverID durably and in the pass's map.
func (e *Engine) resolve(ctx context.Context, localID, serverID string, resolutions map[string]string) error {
	if localID == "" || serverID == "" {
		slog.Warn("created entity has no identifier pair, nothing to resolve",
			"component", "replay",
			"action", "resolve_skipped",
			"local_id", localID,
			"server_id", serverID,
		)
		return nil
	}
	// The remote side already succeeded; finish recording it.
	if err := e.store.Resolve(context.WithoutCancel(ctx), localID, serverID); err != nil {
		return err
	}
	resolutions[localID] = serverID
	return nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func optionalMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := fromMillis(ms)
	return &t
}
