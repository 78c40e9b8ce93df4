package lapps

import (
	"errors"
	"fmt"
)

// Kind classifies manager errors for callers that map them to responses
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindNotEnabled       Kind = "not_enabled"
	KindNotLoaded        Kind = "not_loaded"
	KindAlreadyExists    Kind = "already_exists"
	KindAlreadyLoaded    Kind = "already_loaded"
	KindStillLoaded      Kind = "still_loaded"
	KindInvalidPackage   Kind = "invalid_package"
	KindInitFailed       Kind = "instance_init_failed"
	KindPermissionDenied Kind = "permission_denied"
	KindNotSubscribed    Kind = "not_subscribed"
	KindTransport        Kind = "transport"
	KindLockUnusable     Kind = "lock_unusable"
	KindInternal         Kind = "internal"
)

var (
	ErrNotFound         = errors.New("does not exist")
	ErrNotEnabled       = errors.New("is not enabled")
	ErrNotLoaded        = errors.New("is not loaded")
	ErrAlreadyExists    = errors.New("already exists")
	ErrAlreadyLoaded    = errors.New("is already loaded")
	ErrStillLoaded      = errors.New("is still loaded")
	ErrInvalidPackage   = errors.New("invalid lapp package")
	ErrInitFailed       = errors.New("instance init failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotSubscribed    = errors.New("is not subscribed to gossip")
	ErrTransport        = errors.New("gossip transport failure")
	ErrLockUnusable     = errors.New("lapps manager lock unusable: a mutation failed midway, recovery required")
	ErrInternal         = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindNotFound:         ErrNotFound,
	KindNotEnabled:       ErrNotEnabled,
	KindNotLoaded:        ErrNotLoaded,
	KindAlreadyExists:    ErrAlreadyExists,
	KindAlreadyLoaded:    ErrAlreadyLoaded,
	KindStillLoaded:      ErrStillLoaded,
	KindInvalidPackage:   ErrInvalidPackage,
	KindInitFailed:       ErrInitFailed,
	KindPermissionDenied: ErrPermissionDenied,
	KindNotSubscribed:    ErrNotSubscribed,
	KindTransport:        ErrTransport,
	KindLockUnusable:     ErrLockUnusable,
	KindInternal:         ErrInternal,
}

// Error is a manager failure tied to a lapp. It matches both the sentinel
// of its Kind and the wrapped cause with errors.Is.
type Error struct {
	Kind Kind
	Lapp string
	Err  error
}

func newError(kind Kind, lapp string, err error) *Error {
	return &Error{Kind: kind, Lapp: lapp, Err: err}
}

func (e *Error) Error() string {
	msg := sentinels[e.Kind].Error()
	if e.Lapp != "" {
		switch e.Kind {
		case KindNotFound, KindNotEnabled, KindNotLoaded, KindAlreadyExists,
			KindAlreadyLoaded, KindStillLoaded, KindNotSubscribed:
			msg = fmt.Sprintf("lapp '%s' %s", e.Lapp, msg)
		default:
			msg = fmt.Sprintf("lapp '%s': %s", e.Lapp, msg)
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{sentinels[e.Kind]}
	}
	return []error{sentinels[e.Kind], e.Err}
}

// KindOf returns the Kind of a manager error, or "" for foreign errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
