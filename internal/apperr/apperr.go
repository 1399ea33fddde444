// Package apperr classifies errors from external calls into the small set
// of conditions the chat UI reports inline.
package apperr

import (
	"context"
	"errors"
	"net"
	"strings"
)

type Kind string

const (
	KindNetwork  Kind = "network"
	KindNotFound Kind = "not_found"
	KindAuth     Kind = "auth"
	KindSchema   Kind = "schema"
	KindUnknown  Kind = "unknown"
)

var (
	ErrNotFound = errors.New("not found")
	ErrAuth     = errors.New("auth failed")
	ErrSchema   = errors.New("unexpected response schema")
)

// Classify maps err onto a Kind. Sentinels in this package win over
// inspection of the error text.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrSchema):
		return KindSchema
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "timeout"):
		return KindNetwork
	case strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "api key"):
		return KindAuth
	}
	return KindUnknown
}

// Describe returns the short phrase shown to the user for k.
func Describe(k Kind) string {
	switch k {
	case KindNetwork:
		return "network error or timeout"
	case KindNotFound:
		return "not found"
	case KindAuth:
		return "credential or authorization error"
	case KindSchema:
		return "unexpected response from provider"
	default:
		return "unexpected error"
	}
}
