package errors

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable category of a pipeline failure.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindItemNotFound       Kind = "item_not_found"
	KindRateLimited        Kind = "rate_limited"
	KindNetworkUnavailable Kind = "network_unavailable"
	KindDownloadFailed     Kind = "download_failed"
	KindCancelled          Kind = "cancelled"
	KindDecodeUnsupported  Kind = "decode_unsupported"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindInvalidState       Kind = "invalid_state"
	KindJobNotFound        Kind = "job_not_found"
	KindInternal           Kind = "internal"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrItemNotFound       = errors.New("item not found")
	ErrRateLimited        = errors.New("rate limited by provider")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrDownloadFailed     = errors.New("download failed")
	ErrCancelled          = errors.New("cancelled")
	ErrDecodeUnsupported  = errors.New("decode unsupported")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidState       = errors.New("invalid state")
	ErrJobNotFound        = errors.New("update job not found")
)

var sentinels = map[Kind]error{
	KindInvalidInput:       ErrInvalidInput,
	KindItemNotFound:       ErrItemNotFound,
	KindRateLimited:        ErrRateLimited,
	KindNetworkUnavailable: ErrNetworkUnavailable,
	KindDownloadFailed:     ErrDownloadFailed,
	KindCancelled:          ErrCancelled,
	KindDecodeUnsupported:  ErrDecodeUnsupported,
	KindStorageUnavailable: ErrStorageUnavailable,
	KindInvalidState:       ErrInvalidState,
	KindJobNotFound:        ErrJobNotFound,
}

// Error carries a Kind, the operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E builds an *Error. A nil cause is replaced with the kind's sentinel.
func E(kind Kind, op string, err error) error {
	if err == nil {
		err = sentinels[kind]
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef builds an *Error with a formatted cause.
func Ef(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf extracts the Kind of err. Plain sentinels are recognised too;
// anything else is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindInternal
}
