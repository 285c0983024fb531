package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Change reports that the value stored under Key was written or deleted by
// some connection, possibly in another process.
type Change struct {
	Key     string
	Deleted bool
}

type keyState struct {
	version   int64
	updatedAt string
}

// Watch reports changes to the given keys until ctx is cancelled.
//
// It pins one connection and polls PRAGMA data_version, which only moves when
// another connection commits. On movement the watched keys' version and
// updated_at are compared with the last observation. Writes made through this
// SQLiteKV also go through other pooled connections, so they are reported
// too. The returned channel is closed when watching stops.
func (s *SQLiteKV) Watch(ctx context.Context, interval time.Duration, keys ...string) (<-chan Change, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.path == memoryPath {
		return nil, ErrWatchUnsupported
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pin watch connection: %w", err)
	}

	dataVersion, err := readDataVersion(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	states := make(map[string]keyState, len(keys))
	for _, key := range keys {
		st, err := readKeyState(ctx, conn, key)
		if err != nil {
			conn.Close()
			return nil, err
		}
		states[key] = st
	}

	out := make(chan Change, len(keys))
	go func() {
		defer close(out)
		defer conn.Close()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			v, err := readDataVersion(ctx, conn)
			if err != nil {
				if ctx.Err() != nil || s.closed.Load() {
					return
				}
				slog.Warn("kv watch poll failed",
					"component", "kvstore",
					"action", "watch_poll_failed",
					"error", err,
				)
				continue
			}
			if v == dataVersion {
				continue
			}
			dataVersion = v

			for _, key := range keys {
				st, err := readKeyState(ctx, conn, key)
				if err != nil {
					slog.Warn("kv watch read failed",
						"component", "kvstore",
						"action", "watch_read_failed",
						"key", key,
						"error", err,
					)
					continue
				}
				if st == states[key] {
					continue
				}
				states[key] = st

				select {
				case out <- Change{Key: key, Deleted: st.version == 0}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func readDataVersion(ctx context.Context, conn *sql.Conn) (int64, error) {
	var v int64
	if err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read data_version: %w", err)
	}
	return v, nil
}

func readKeyState(ctx context.Context, conn *sql.Conn, key string) (keyState, error) {
	var st keyState
	err := conn.QueryRowContext(ctx, "SELECT version, updated_at FROM kv WHERE key = ?", key).
		Scan(&st.version, &st.updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return keyState{}, nil
	}
	if err != nil {
		return keyState{}, fmt.Errorf("read state of %q: %w", key, err)
	}
	return st, nil
}
