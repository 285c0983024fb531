package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/shiftq/internal/backend"
	"github.com/hyperengineering/shiftq/internal/validation"
)

// Audit record values for a user-initiated clear.
const (
	AuditActionClear     = "OFFLINE_QUEUE_CLEAR"
	AuditEntityTypeQueue = "OfflineQueue"
)

// ClearResult reports what Clear did. The clear and its audit are not
// transactional: Removed and AuditLogged are independent.
type ClearResult struct {
	Cleared     int   `json:"cleared"`
	Removed     bool  `json:"removed"`
	AuditLogged bool  `json:"auditLogged"`
	Archived    bool  `json:"archived"`
	Err         error `json:"-"`
}

// MarshalJSON adds Err as an "error" string when set.
func (r ClearResult) MarshalJSON() ([]byte, error) {
	type plain ClearResult
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

type clearMetadata struct {
	Cleared int `json:"cleared"`
}

// Clear discards every queued operation and the identifier map, then records
// an audit event carrying the discarded count. An audit failure does not undo
// the clear. When storage cannot be written nothing was removed and no audit
// is attempted.
func (e *Engine) Clear(ctx context.Context) ClearResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed, err := e.store.Clear(ctx)
	if err != nil {
		slog.Error("offline queue not cleared",
			"component", "replay",
			"action", "clear_failed",
			"error", err,
		)
		return ClearResult{Err: fmt.Errorf("clear offline queue: %w", err)}
	}

	res := ClearResult{Cleared: len(removed), Removed: true}

	if e.archiver != nil && len(removed) > 0 {
		if err := e.call(ctx, func(ctx context.Context) error {
			return e.archiver.Archive(ctx, removed)
		}); err != nil {
			slog.Warn("cleared operations not archived",
				"component", "replay",
				"action", "archive_failed",
				"count", len(removed),
				"error", err,
			)
		} else {
			res.Archived = true
		}
	}

	if err := e.audit(ctx, len(removed)); err != nil {
		slog.Warn("offline queue cleared but audit failed",
			"component", "replay",
			"action", "audit_failed",
			"cleared", res.Cleared,
			"error", err,
		)
		res.Err = fmt.Errorf("log clear audit event: %w", err)
		return res
	}
	res.AuditLogged = true

	slog.Info("offline queue cleared",
		"component", "replay",
		"action", "clear",
		"cleared", res.Cleared,
		"archived", res.Archived,
	)
	return res
}

func (e *Engine) audit(ctx context.Context, cleared int) error {
	meta, err := json.Marshal(clearMetadata{Cleared: cleared})
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	rec := backend.AuditRecord{
		Action:     AuditActionClear,
		EntityType: AuditEntityTypeQueue,
		Metadata:   string(meta),
	}
	if err := validation.ValidateAuditRecord(rec); err != nil {
		return err
	}
	return e.call(ctx, func(ctx context.Context) error {
		return e.client.LogAuditEvent(ctx, rec)
	})
}
