package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies failures coming out of the gateway's components so the
// router can map them onto HTTP statuses.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindRateLimited
	KindMalformed
	KindUnavailable
	KindNotFound
	KindSourceUnavailable
	KindRangeNotSatisfiable
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "upstream_timeout"
	case KindRateLimited:
		return "upstream_rate_limited"
	case KindMalformed:
		return "upstream_malformed"
	case KindUnavailable:
		return "upstream_error"
	case KindNotFound:
		return "not_found"
	case KindSourceUnavailable:
		return "source_unavailable"
	case KindRangeNotSatisfiable:
		return "range_not_satisfiable"
	case KindBadRequest:
		return "bad_request"
	default:
		return "internal"
	}
}

// Error is a classified failure. Provider and Op are only used for messages.
type Error struct {
	Kind     Kind
	Provider string
	Op       string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	prefix := e.Provider
	if e.Op != "" {
		if prefix != "" {
			prefix += " "
		}
		prefix += e.Op
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if prefix == "" {
		return msg
	}
	return prefix + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same kind, so sentinels like ErrNotFound
// work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Provider == "" && other.Op == "" && other.Msg == "" && other.Err == nil && other.Kind == e.Kind
}

var (
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrRateLimited         = &Error{Kind: KindRateLimited}
	ErrMalformed           = &Error{Kind: KindMalformed}
	ErrUnavailable         = &Error{Kind: KindUnavailable}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrSourceUnavailable   = &Error{Kind: KindSourceUnavailable}
	ErrRangeNotSatisfiable = &Error{Kind: KindRangeNotSatisfiable}
	ErrBadRequest          = &Error{Kind: KindBadRequest}
)

// New builds a classified error.
func New(kind Kind, provider, op, msg string) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Msg: msg}
}

// Wrap classifies err with the given kind.
func Wrap(kind Kind, provider, op string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, provider, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// FromTransport classifies an error returned by http.Client.Do or a body read.
// Deadlines become timeouts, everything else is a generic upstream failure.
func FromTransport(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if IsTimeout(err) {
		return Wrap(KindTimeout, provider, op, err)
	}
	return Wrap(KindUnavailable, provider, op, err)
}

// IsTimeout reports whether err is a deadline expiry of any flavour.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// KindOf extracts the kind of err. Unclassified deadline errors are reported as
// timeouts so a route budget expiring outside a client still maps to 504.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if IsTimeout(err) {
		return KindTimeout
	}
	return KindUnknown
}
