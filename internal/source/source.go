package source

import "time"

// Kind identifies what a stream source is feeding the transcoder.
type Kind int

const (
	KindNone Kind = iota
	KindLive
	KindPlaceholder
)

func (k Kind) String() string {
	switch k {
	case KindLive:
		return "live"
	case KindPlaceholder:
		return "placeholder"
	case KindNone:
		return "none"
	default:
		return "unknown"
	}
}

// Source describes an input the transcoder can consume: either a
// time-bounded live stream locator obtained from the cloud API, or a
// local placeholder clip that is looped indefinitely.
type Source struct {
	Kind      Kind
	Locator   string
	ExpiresAt time.Time // zero for placeholder sources
}

// Live builds a live source. expiresAt may be zero when the cloud API
// does not bound the lease.
func Live(locator string, expiresAt time.Time) Source {
	return Source{Kind: KindLive, Locator: locator, ExpiresAt: expiresAt}
}

// Placeholder builds a source for the local clip looped while no live
// feed is available.
func Placeholder(path string) Source {
	return Source{Kind: KindPlaceholder, Locator: path}
}

// Expired reports whether a live lease has passed its expiry.
// Placeholder sources never expire.
func (s Source) Expired(now time.Time) bool {
	if s.Kind != KindLive || s.ExpiresAt.IsZero() {
		return false
	}
	return now.After(s.ExpiresAt)
}
