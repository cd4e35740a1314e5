// Package delivery turns channel send failures into broadcast decisions.
//
// The transport reports failures as *ChannelError values; the Classifier
// maps any error to exactly one Outcome, and RetryPolicy decides whether a
// failed attempt gets a second try.
package delivery

import (
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the transport-neutral category of a send failure.
type ErrorKind uint8

const (
	KindGeneric ErrorKind = iota
	KindRateLimited
	KindRecipientGone
	KindBadRequest
)

// ErrorKinds lists every kind, for exhaustiveness checks.
func ErrorKinds() []ErrorKind {
	return []ErrorKind{KindGeneric, KindRateLimited, KindRecipientGone, KindBadRequest}
}

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindRecipientGone:
		return "recipient_gone"
	case KindBadRequest:
		return "bad_request"
	default:
		return "generic"
	}
}

// ChannelError is what a channel returns when a send fails.
type ChannelError struct {
	Kind ErrorKind
	// RetryAfter is the server-provided wait for KindRateLimited.
	RetryAfter time.Duration
	Code       int
	Message    string
	Err        error
}

func (e *ChannelError) Error() string {
	var b strings.Builder
	b.WriteString("channel: ")
	b.WriteString(e.Kind.String())
	if e.Code != 0 {
		fmt.Fprintf(&b, " (%d)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		fmt.Fprintf(&b, ", retry after %s", e.RetryAfter)
	}
	return b.String()
}

func (e *ChannelError) Unwrap() error { return e.Err }
