package queue

import "errors"

var (
	// ErrUnavailable means the underlying key-value store could not be read or written.
	ErrUnavailable = errors.New("queue storage unavailable")

	// ErrCorrupt means a stored value could not be decoded.
	ErrCorrupt = errors.New("queue storage corrupt")

	// ErrUnknownKind is returned by Decode for operation kinds this build does not know.
	ErrUnknownKind = errors.New("unknown operation kind")

	// ErrMalformedPayload is returned by Decode when a known kind carries an undecodable payload.
	ErrMalformedPayload = errors.New("malformed operation payload")
)
