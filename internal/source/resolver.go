package source

import (
	"context"
	"errors"
	"time"
)

// Lease is what the cloud camera API hands out for a live stream request.
type Lease struct {
	Locator   string
	ExpiresAt time.Time
}

// CloudClient is the external cloud camera API contract. Implementations
// must be safe to call repeatedly; credential refresh after an auth expiry
// is the client's own concern.
type CloudClient interface {
	GetLiveStream(ctx context.Context, cameraID string) (Lease, error)
}

const DefaultAcquireTimeout = 10 * time.Second

// Resolver turns cloud leases into live Sources, bounding each call with
// the acquisition timeout and classifying every error as a Failure.
type Resolver struct {
	client  CloudClient
	timeout time.Duration
	now     func() time.Time
}

func NewResolver(client CloudClient, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	return &Resolver{client: client, timeout: timeout, now: time.Now}
}

// ResolveLive acquires a fresh live source for cameraID. Errors are always
// *Failure; callers switch on the kind to decide backoff handling.
// A lease that is already expired when it arrives is reported as a failure
// so the caller re-invokes instead of handing a dead locator downstream.
func (r *Resolver) ResolveLive(ctx context.Context, cameraID string) (Source, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	lease, err := r.client.GetLiveStream(ctx, cameraID)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			return Source{}, f
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Source{}, NewFailure(FailTimeout, err)
		}
		return Source{}, NewFailure(FailUnknown, err)
	}
	if lease.Locator == "" {
		return Source{}, NewFailure(FailUnknown, errors.New("cloud returned empty stream locator"))
	}
	src := Live(lease.Locator, lease.ExpiresAt)
	if src.Expired(r.now()) {
		return Source{}, NewFailure(FailUnknown, errors.New("cloud returned already-expired lease"))
	}
	return src, nil
}
