// Package tunerr defines the error kinds shared across the tunnel's
// components (spec §7). Each kind is a sentinel a caller can match with
// errors.Is; the human-readable detail travels alongside it via
// github.com/pkg/errors wrapping at the site that raised it.
package tunerr

import "github.com/pkg/errors"

// Kind is one of the error kinds named in the specification. It is not a
// type name in the Go sense, just a coarse category recipients can branch
// on (log-and-close vs. tear-down-the-session vs. exit nonzero).
type Kind string

const (
	KindIO              Kind = "IoError"
	KindTimeout         Kind = "TimeoutError"
	KindProtocol        Kind = "ProtocolError"
	KindAuth            Kind = "AuthError"
	KindPortUnavailable Kind = "PortNotAvailable"
	KindNotFound        Kind = "NotFound"
)

// kindError pairs a Kind with a message so errors.Is(err, tunerr.Protocol)
// style matching works after the error has been wrapped with pkg/errors.
type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

// Is reports whether target is the same Kind marker (e.g. tunerr.Protocol).
func (e *kindError) Is(target error) bool {
	k, ok := target.(*kindError)
	return ok && k.kind == e.kind
}

// Sentinels usable with errors.Is after wrapping: errors.Is(err, tunerr.Protocol).
var (
	IO              = &kindError{kind: KindIO, msg: string(KindIO)}
	Timeout         = &kindError{kind: KindTimeout, msg: string(KindTimeout)}
	Protocol        = &kindError{kind: KindProtocol, msg: string(KindProtocol)}
	Auth            = &kindError{kind: KindAuth, msg: string(KindAuth)}
	PortUnavailable = &kindError{kind: KindPortUnavailable, msg: string(KindPortUnavailable)}
	NotFound        = &kindError{kind: KindNotFound, msg: string(KindNotFound)}
)

// New builds a fresh error of kind, wrapped with a caller-supplied message
// via github.com/pkg/errors so the kind stays matchable through errors.Is
// while the message stays descriptive.
func New(kind *kindError, format string, args ...interface{}) error {
	return errors.Wrapf(kind, format, args...)
}

// Of reports the Kind of err if it (or something it wraps) is one of the
// sentinels above, and false otherwise.
func Of(err error) (Kind, bool) {
	for _, k := range []*kindError{IO, Timeout, Protocol, Auth, PortUnavailable, NotFound} {
		if errors.Is(err, k) {
			return k.kind, true
		}
	}
	return "", false
}
