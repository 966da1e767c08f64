package source

import (
	"fmt"
	"time"
)

// FailureKind classifies why a live source could not be acquired.
type FailureKind int

const (
	FailUnknown FailureKind = iota
	FailAuthExpired
	FailCameraOffline
	FailRateLimited
	FailTimeout
)

func (k FailureKind) String() string {
	switch k {
	case FailAuthExpired:
		return "auth_expired"
	case FailCameraOffline:
		return "camera_offline"
	case FailRateLimited:
		return "rate_limited"
	case FailTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Failure is a typed resolver error. Every kind is retried; AuthExpired is
// logged distinctly because the credential refresh happens in the cloud
// client on the next call, not here.
type Failure struct {
	Kind       FailureKind
	RetryAfter time.Duration // throttling hint, only set for FailRateLimited
	Err        error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("resolve live stream: %s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("resolve live stream: %s", f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure wraps err with a classification.
func NewFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}
