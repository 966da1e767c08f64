package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/camrelay/camrelay/internal/backoff"
	"github.com/camrelay/camrelay/internal/history"
	"github.com/camrelay/camrelay/internal/metrics"
	"github.com/camrelay/camrelay/internal/source"
	"github.com/camrelay/camrelay/internal/supervisor"
)

// Resolver acquires a live source for a camera. Errors are *source.Failure.
type Resolver interface {
	ResolveLive(ctx context.Context, cameraID string) (source.Source, error)
}

// Runner drives the external transcoder process for this session.
// *supervisor.Supervisor is the production implementation.
type Runner interface {
	Start(src source.Source, onExit func(supervisor.Exit)) error
	Stop(grace time.Duration) error
	Running() bool
	PID() int
	Probe()
	LastOutput() time.Time
}

// FatalError marks an unrecoverable configuration problem; the session
// stops and does not retry.
type FatalError struct {
	Camera string
	Err    error
}

func (e *FatalError) Error() string { return fmt.Sprintf("session %s: fatal: %v", e.Camera, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Config holds the per-session orchestration knobs.
type Config struct {
	Camera      string
	Placeholder string // local clip looped while no live source is available

	StalenessThreshold   time.Duration
	WatchdogInterval     time.Duration
	GracePeriod          time.Duration
	MinDwell             time.Duration
	LiveFailureThreshold int
	LiveFailureWindow    time.Duration
	LaunchAttemptCeiling int

	Backoff backoff.Policy
}

// Normalize fills unset fields with daemon defaults.
func (c *Config) Normalize() {
	if c.StalenessThreshold <= 0 {
		c.StalenessThreshold = 10 * time.Second
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 2 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.MinDwell <= 0 {
		c.MinDwell = 3 * time.Second
	}
	if c.LiveFailureThreshold <= 0 {
		c.LiveFailureThreshold = 3
	}
	if c.LiveFailureWindow <= 0 {
		c.LiveFailureWindow = time.Minute
	}
	if c.LaunchAttemptCeiling <= 0 {
		c.LaunchAttemptCeiling = 5
	}
}

// Status is a read-only snapshot served over HTTP and MQTT.
type Status struct {
	Camera         string    `json:"camera"`
	State          string    `json:"state"`
	Source         string    `json:"source"`
	Attempts       int       `json:"attempts"`
	PID            int       `json:"pid,omitempty"`
	LastTransition time.Time `json:"last_transition"`
	LastError      string    `json:"last_error,omitempty"`
}

// Session orchestrates one camera: it owns the state machine, feeds the
// transcoder a live or placeholder source, and recovers from failures.
// All state below the snapshot lock is touched only by the Run goroutine.
type Session struct {
	cfg      Config
	resolver Resolver
	runner   Runner
	logger   *slog.Logger
	sinks    []history.Sink

	events   chan event
	loopDone chan struct{}

	state          State
	attempts       int // consecutive failed live acquisitions
	currentSource  source.Kind
	lastTransition time.Time
	liveFailures   []time.Time // recent live-stream deaths, for flap detection
	launchFailures int
	resolveGen     uint64
	timerGen       uint64
	retryTimer     *time.Timer
	fatal          error
	lastErr        string

	statusMu sync.Mutex
	status   Status
	notify   func(Status)
}

func New(cfg Config, resolver Resolver, runner Runner, logger *slog.Logger, sinks ...history.Sink) *Session {
	cfg.Normalize()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:      cfg,
		resolver: resolver,
		runner:   runner,
		logger:   logger.With("camera", cfg.Camera),
		sinks:    sinks,
		events:   make(chan event, 16),
		loopDone: make(chan struct{}),
		state:    StateInit,
	}
	s.snapshot()
	return s
}

// Camera returns the session's camera identifier.
func (s *Session) Camera() string { return s.cfg.Camera }

// OnStatus registers a callback invoked after every state transition.
// Must be set before Run.
func (s *Session) OnStatus(fn func(Status)) { s.notify = fn }

// Status returns the latest snapshot; safe from any goroutine.
func (s *Session) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// Control delivers a remote command into the event loop.
func (s *Session) Control(cmd Command) error {
	select {
	case s.events <- event{kind: evControl, cmd: cmd}:
		return nil
	case <-s.loopDone:
		return errors.New("session stopped")
	}
}

// Run executes the session until ctx is cancelled, a stop command
// arrives, or a fatal configuration error occurs. The returned error is
// non-nil only for the fatal case.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.loopDone)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wd := &watchdog{
		runner:    s.runner,
		interval:  s.cfg.WatchdogInterval,
		threshold: s.cfg.StalenessThreshold,
		post:      s.post,
	}
	go wd.run(wctx)

	s.transition(StateResolving, "session started")
	s.beginResolve(wctx)

	for {
		select {
		case <-ctx.Done():
			s.shutdown("shutdown requested")
			return s.fatal
		case ev := <-s.events:
			s.handle(wctx, ev)
			if s.state == StateStopped {
				return s.fatal
			}
		}
	}
}

// post delivers an event unless the loop has already exited.
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.loopDone:
	}
}

// beginResolve launches live acquisition in its own goroutine so shutdown
// never waits on an in-flight cloud call; a stale generation result is
// simply dropped.
func (s *Session) beginResolve(ctx context.Context) {
	s.resolveGen++
	gen := s.resolveGen
	go func() {
		src, err := s.resolver.ResolveLive(ctx, s.cfg.Camera)
		if err != nil {
			var f *source.Failure
			if !errors.As(err, &f) {
				f = source.NewFailure(source.FailUnknown, err)
			}
			s.post(event{kind: evResolveFailed, gen: gen, failure: f})
			return
		}
		s.post(event{kind: evResolved, gen: gen, src: src})
	}()
}

func (s *Session) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evResolved:
		if ev.gen != s.resolveGen || s.state != StateResolving {
			return
		}
		s.onResolved(ctx, ev.src)
	case evResolveFailed:
		if ev.gen != s.resolveGen || s.state != StateResolving {
			return
		}
		s.onResolveFailed(ctx, ev.failure)
	case evExit:
		s.onExit(ctx, ev.exit)
	case evStale:
		s.onStale(ctx)
	case evTimer:
		if ev.gen != s.timerGen {
			return
		}
		s.onRetryTimer(ctx)
	case evControl:
		s.onControl(ctx, ev.cmd)
	}
}

func (s *Session) onResolved(ctx context.Context, src source.Source) {
	if src.Expired(time.Now()) {
		// The lease aged out while queued; ask again.
		s.logger.Warn("live lease expired before use, re-resolving")
		s.beginResolve(ctx)
		return
	}
	if err := s.runner.Start(src, s.exitCallback()); err != nil {
		s.onLaunchFailure(err, "live")
		return
	}
	s.attempts = 0
	s.launchFailures = 0
	s.currentSource = source.KindLive
	metrics.IncProcessStart(s.cfg.Camera, "live")
	s.transition(StateStreamingLive, "live source acquired")
}

func (s *Session) onResolveFailed(ctx context.Context, f *source.Failure) {
	s.lastErr = f.Error()
	metrics.IncResolveFailure(s.cfg.Camera, f.Kind.String())
	switch f.Kind {
	case source.FailAuthExpired:
		// The cloud client refreshes credentials on its next call; for
		// retry purposes this is just another transient failure.
		s.logger.Warn("cloud credentials expired, refresh delegated to client", "err", f.Err)
	case source.FailUnknown:
		s.logger.Error("live acquisition failed", "kind", f.Kind.String(), "err", f.Err)
	default:
		s.logger.Warn("live acquisition failed", "kind", f.Kind.String(), "err", f.Err)
	}

	delay := s.cfg.Backoff.NextAfter(s.attempts, f.RetryAfter)
	s.attempts++
	metrics.ObserveBackoff(s.cfg.Camera, delay.Seconds())
	s.scheduleRetry(delay)

	if s.startPlaceholder(ctx) {
		s.transition(StateStreamingPlaceholder, "live unavailable: "+f.Kind.String())
	}
}

// startPlaceholder keeps the sink fed while live acquisition is failing.
// On a launch failure the session lands in BACKOFF with the retry timer
// still pending; repeated launch failures escalate to fatal.
func (s *Session) startPlaceholder(ctx context.Context) bool {
	src := source.Placeholder(s.cfg.Placeholder)
	if err := s.runner.Start(src, s.exitCallback()); err != nil {
		s.onLaunchFailure(err, "placeholder")
		return false
	}
	s.launchFailures = 0
	s.currentSource = source.KindPlaceholder
	metrics.IncProcessStart(s.cfg.Camera, "placeholder")
	return true
}

func (s *Session) onLaunchFailure(err error, kind string) {
	s.launchFailures++
	s.lastErr = err.Error()
	var le *supervisor.LaunchError
	if errors.As(err, &le) && s.launchFailures >= s.cfg.LaunchAttemptCeiling {
		s.fatalStop(fmt.Errorf("transcoder failed to launch %d times: %w", s.launchFailures, err))
		return
	}
	s.logger.Error("transcoder launch failed", "input", kind, "attempt", s.launchFailures, "err", err)

	// Transient until the ceiling: fall back to the retry timer.
	if s.state != StateBackoff {
		if !s.retryScheduled() {
			s.scheduleRetry(s.cfg.Backoff.Next(s.attempts))
			s.attempts++
		}
		s.transition(StateBackoff, "transcoder launch failed")
	}
}

func (s *Session) exitCallback() func(supervisor.Exit) {
	return func(e supervisor.Exit) { s.post(event{kind: evExit, exit: e}) }
}

func (s *Session) onExit(ctx context.Context, e supervisor.Exit) {
	if !s.state.Streaming() {
		return
	}
	metrics.IncProcessExit(s.cfg.Camera)
	s.lastErr = fmt.Sprintf("transcoder exited with code %d", e.Code)

	switch s.state {
	case StateStreamingLive:
		s.recordLiveFailure()
		if s.flapping() {
			delay := s.cfg.Backoff.Next(s.attempts)
			s.attempts++
			metrics.ObserveBackoff(s.cfg.Camera, delay.Seconds())
			s.scheduleRetry(delay)
			s.transition(StateBackoff, "live stream flapping")
			return
		}
		// A previously healthy stream died: transient glitch, retry now.
		s.transition(StateResolving, "live transcoder exited")
		s.beginResolve(ctx)
	case StateStreamingPlaceholder:
		// The sink must not stay silent; relaunch the loop immediately.
		s.logger.Warn("placeholder transcoder exited, restarting", "code", e.Code)
		if s.startPlaceholder(ctx) {
			s.transition(StateStreamingPlaceholder, "placeholder restarted")
		}
	}
}

func (s *Session) onStale(ctx context.Context) {
	if !s.state.Streaming() {
		return
	}
	if time.Since(s.lastTransition) < s.cfg.MinDwell {
		return
	}
	metrics.IncStaleness(s.cfg.Camera)
	s.logger.Warn("no fresh output from transcoder", "threshold", s.cfg.StalenessThreshold)
	s.lastErr = "output stalled"

	wasLive := s.state == StateStreamingLive
	if err := s.runner.Stop(s.cfg.GracePeriod); err != nil {
		s.logger.Error("stop stalled transcoder", "err", err)
	}
	if wasLive {
		s.recordLiveFailure()
		if s.flapping() {
			delay := s.cfg.Backoff.Next(s.attempts)
			s.attempts++
			s.scheduleRetry(delay)
			s.transition(StateBackoff, "live stream flapping")
			return
		}
		s.transition(StateResolving, "watchdog staleness")
		s.beginResolve(ctx)
		return
	}
	if s.startPlaceholder(ctx) {
		s.transition(StateStreamingPlaceholder, "placeholder restarted after stall")
	}
}

func (s *Session) onRetryTimer(ctx context.Context) {
	switch s.state {
	case StateStreamingPlaceholder:
		if err := s.runner.Stop(s.cfg.GracePeriod); err != nil {
			s.logger.Error("stop placeholder transcoder", "err", err)
		}
		s.transition(StateResolving, "retrying live acquisition")
		s.beginResolve(ctx)
	case StateBackoff:
		s.transition(StateResolving, "backoff elapsed")
		s.beginResolve(ctx)
	}
}

func (s *Session) onControl(ctx context.Context, cmd Command) {
	s.logger.Info("control command", "cmd", string(cmd))
	switch cmd {
	case CommandStop:
		s.shutdown("stop requested")
	case CommandRestart:
		if s.state.Streaming() {
			if err := s.runner.Stop(s.cfg.GracePeriod); err != nil {
				s.logger.Error("stop transcoder for restart", "err", err)
			}
		}
		s.stopTimer()
		s.transition(StateResolving, "restart requested")
		s.beginResolve(ctx)
	case CommandStart:
		switch s.state {
		case StateStreamingPlaceholder:
			if err := s.runner.Stop(s.cfg.GracePeriod); err != nil {
				s.logger.Error("stop placeholder transcoder", "err", err)
			}
			s.stopTimer()
			s.transition(StateResolving, "live acquisition requested")
			s.beginResolve(ctx)
		case StateBackoff:
			s.stopTimer()
			s.transition(StateResolving, "live acquisition requested")
			s.beginResolve(ctx)
		}
	}
}

func (s *Session) shutdown(reason string) {
	s.stopTimer()
	s.transition(StateShuttingDown, reason)
	if err := s.runner.Stop(s.cfg.GracePeriod); err != nil {
		s.logger.Error("stop transcoder during shutdown", "err", err)
	}
	s.transition(StateStopped, reason)
}

func (s *Session) fatalStop(err error) {
	s.fatal = &FatalError{Camera: s.cfg.Camera, Err: err}
	s.lastErr = err.Error()
	s.logger.Error("fatal configuration error, stopping session", "err", err)
	s.shutdown("fatal: " + err.Error())
}

func (s *Session) recordLiveFailure() {
	now := time.Now()
	cutoff := now.Add(-s.cfg.LiveFailureWindow)
	kept := s.liveFailures[:0]
	for _, t := range s.liveFailures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.liveFailures = append(kept, now)
}

func (s *Session) flapping() bool {
	return len(s.liveFailures) >= s.cfg.LiveFailureThreshold
}

func (s *Session) scheduleRetry(delay time.Duration) {
	s.stopTimer()
	s.timerGen++
	gen := s.timerGen
	s.logger.Info("retry scheduled", "delay", delay, "attempt", s.attempts)
	s.retryTimer = time.AfterFunc(delay, func() {
		s.post(event{kind: evTimer, gen: gen})
	})
}

func (s *Session) retryScheduled() bool { return s.retryTimer != nil }

func (s *Session) stopTimer() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// transition is the only place session state changes.
func (s *Session) transition(to State, reason string) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.lastTransition = time.Now()
	if !to.Streaming() {
		s.currentSource = source.KindNone
	}
	s.logger.Info("state transition", "from", from.String(), "to", to.String(), "reason", reason)
	metrics.RecordTransition(s.cfg.Camera, from.String(), to.String())
	s.snapshot()
	s.record(from, to, reason)
	if s.notify != nil {
		s.notify(s.Status())
	}
}

func (s *Session) snapshot() {
	st := Status{
		Camera:         s.cfg.Camera,
		State:          s.state.String(),
		Source:         s.currentSource.String(),
		Attempts:       s.attempts,
		PID:            s.runnerPID(),
		LastTransition: s.lastTransition,
		LastError:      s.lastErr,
	}
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

func (s *Session) runnerPID() int {
	if s.runner == nil {
		return 0
	}
	return s.runner.PID()
}

// record exports the transition to history sinks, best effort.
func (s *Session) record(from, to State, reason string) {
	if len(s.sinks) == 0 {
		return
	}
	e := history.Event{
		Camera:     s.cfg.Camera,
		From:       from.String(),
		To:         to.String(),
		Reason:     reason,
		PID:        s.runnerPID(),
		OccurredAt: time.Now().UTC(),
	}
	sinks := s.sinks
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		for _, sink := range sinks {
			_ = sink.Send(ctx, e)
		}
	}()
}
