package backend

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by every call when no backend URL is set.
var ErrNotConfigured = errors.New("backend URL not configured")

// Problem is an RFC 7807 problem document returned by the server.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Problem    *Problem
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	if e.Problem != nil && e.Problem.Detail != "" {
		msg += ": " + e.Problem.Detail
	}
	return msg
}
