package session

// State is the orchestration state of one camera session.
type State int

const (
	StateInit State = iota
	StateResolving
	StateStreamingLive
	StateStreamingPlaceholder
	StateBackoff
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateResolving:
		return "resolving"
	case StateStreamingLive:
		return "streaming_live"
	case StateStreamingPlaceholder:
		return "streaming_placeholder"
	case StateBackoff:
		return "backoff"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Streaming reports whether a transcoder should be writing to the sink.
func (s State) Streaming() bool {
	return s == StateStreamingLive || s == StateStreamingPlaceholder
}
