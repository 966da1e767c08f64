package session

import (
	"strings"

	"github.com/camrelay/camrelay/internal/source"
	"github.com/camrelay/camrelay/internal/supervisor"
)

// All inputs to a session (resolver results, transcoder exits, watchdog
// staleness, timers, remote control) arrive as events consumed by the
// single Run goroutine. Transitions are therefore strictly sequential.

type eventKind int

const (
	evResolved eventKind = iota
	evResolveFailed
	evExit
	evStale
	evTimer
	evControl
)

type event struct {
	kind    eventKind
	gen     uint64 // resolve/timer generation; stale generations are dropped
	src     source.Source
	failure *source.Failure
	exit    supervisor.Exit
	cmd     Command
}

// Command is a remote control verb delivered over MQTT or HTTP.
type Command string

const (
	// CommandStart asks the session to attempt live acquisition now,
	// skipping any pending backoff wait. No-op while live.
	CommandStart Command = "start"
	// CommandRestart tears down the current transcoder and re-resolves.
	CommandRestart Command = "restart"
	// CommandStop shuts the session down permanently.
	CommandStop Command = "stop"
)

// ParseCommand maps a raw control payload to a Command.
// Matching is case-insensitive ("START" and "start" are the same verb).
func ParseCommand(raw string) (Command, bool) {
	cmd := Command(strings.ToLower(strings.TrimSpace(raw)))
	switch cmd {
	case CommandStart, CommandRestart, CommandStop:
		return cmd, true
	}
	return "", false
}
