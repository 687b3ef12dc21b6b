package news

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores for lookups with no result.
var ErrNotFound = errors.New("not found")

// Kind classifies a failure so callers can decide between retrying,
// counting and aborting.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers timeouts, refused connections, 429 and 5xx.
	KindTransient
	// KindPermanent covers malformed content, quality gates and contamination.
	KindPermanent
	// KindPersistence covers write failures other than a duplicate URL.
	KindPersistence
	// KindConfig is fatal at startup.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindPersistence:
		return "persistence"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transient(op string, err error) error   { return newError(KindTransient, op, err) }
func Permanent(op string, err error) error   { return newError(KindPermanent, op, err) }
func Persistence(op string, err error) error { return newError(KindPersistence, op, err) }
func ConfigError(op string, err error) error { return newError(KindConfig, op, err) }

// Rejectf builds a permanent item error from a message.
func Rejectf(op, format string, args ...any) error {
	return Permanent(op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the outermost classified error in the chain.
// Context cancellation is reported as KindUnknown so callers stop instead
// of retrying.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

func IsTransient(err error) bool { return KindOf(err) == KindTransient }
func IsPermanent(err error) bool { return KindOf(err) == KindPermanent }
