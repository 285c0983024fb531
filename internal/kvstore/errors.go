package kvstore

import "errors"

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("kv store closed")

	// ErrWatchUnsupported is returned by Watch for in-memory databases,
	// which cannot be observed from a second connection.
	ErrWatchUnsupported = errors.New("watch not supported for in-memory database")
)
