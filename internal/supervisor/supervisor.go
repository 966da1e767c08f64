package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/camrelay/camrelay/internal/source"
)

// ErrAlreadyRunning is returned by Start while a previous transcoder for
// the same session has not been stopped and reaped. The output sink allows
// exactly one writer.
var ErrAlreadyRunning = errors.New("transcoder already running for this session")

// LaunchError wraps a failure to spawn the transcoder at all (binary
// missing, not executable). It is transient until the session's launch
// attempt ceiling says otherwise.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("launch transcoder: %v", e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

// Exit reports a transcoder process that terminated on its own.
// Stops requested through Stop are reaped silently and do not produce one.
type Exit struct {
	Camera    string
	PID       int
	Code      int
	Err       error
	StartedAt time.Time
}

// Options configures a Supervisor bound to one camera session.
type Options struct {
	Camera    string
	Binary    string   // transcoder executable, default "ffmpeg"
	ExtraArgs []string // appended before the output target
	Sink      string   // output target handed to the transcoder
	Stderr    io.WriteCloser
	Logger    *slog.Logger
}

// Supervisor runs at most one external transcoder process at a time,
// feeding it a live or placeholder source and pointing its output at the
// session's sink. A monitor goroutine owns cmd.Wait; Stop coordinates with
// it through the done channel so the child is always reaped exactly once.
type Supervisor struct {
	opts Options

	mu        sync.Mutex
	cmd       *exec.Cmd
	startedAt time.Time
	stopping  bool
	done      chan struct{}

	lastOutput atomic.Int64 // unix nanos of last observed activity
	sinkProbe  sinkProbe
	onExit     func(Exit)
}

func New(opts Options) *Supervisor {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Supervisor{opts: opts}
	s.sinkProbe.path = probePath(opts.Sink)
	return s
}

// Start launches the transcoder for src. onExit is invoked from the
// monitor goroutine when the process dies without Stop having been
// requested. Returns ErrAlreadyRunning if a prior process is still
// attached, or a *LaunchError when the spawn itself fails.
func (s *Supervisor) Start(src source.Source, onExit func(Exit)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return ErrAlreadyRunning
	}

	argv := BuildArgs(src, s.opts.Sink, s.opts.ExtraArgs)
	// ok: argv is assembled from validated config and resolver output
	// #nosec G204
	cmd := exec.Command(s.opts.Binary, argv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0); err == nil {
		cmd.Stdin = null
		cmd.Stdout = null
	}
	errDst := io.Writer(io.Discard)
	if s.opts.Stderr != nil {
		errDst = s.opts.Stderr
	}
	cmd.Stderr = &activityWriter{w: errDst, last: &s.lastOutput}

	if err := cmd.Start(); err != nil {
		return &LaunchError{Err: err}
	}

	now := time.Now()
	s.cmd = cmd
	s.startedAt = now
	s.stopping = false
	s.done = make(chan struct{})
	s.onExit = onExit
	s.lastOutput.Store(now.UnixNano())
	s.sinkProbe.reset()

	s.opts.Logger.Info("transcoder started",
		"camera", s.opts.Camera, "source", src.Kind.String(), "pid", cmd.Process.Pid)

	go s.monitor(cmd, now)
	return nil
}

// monitor owns cmd.Wait for the run it was attached to.
func (s *Supervisor) monitor(cmd *exec.Cmd, startedAt time.Time) {
	err := cmd.Wait()

	s.mu.Lock()
	requested := s.stopping
	onExit := s.onExit
	if s.cmd == cmd {
		s.cmd = nil
	}
	done := s.done
	s.mu.Unlock()

	close(done)

	if requested {
		return
	}
	code := exitCode(err)
	s.opts.Logger.Warn("transcoder exited unexpectedly",
		"camera", s.opts.Camera, "pid", cmd.Process.Pid, "code", code, "err", err)
	if onExit != nil {
		onExit(Exit{
			Camera:    s.opts.Camera,
			PID:       cmd.Process.Pid,
			Code:      code,
			Err:       err,
			StartedAt: startedAt,
		})
	}
}

// Stop terminates the current process group with SIGTERM, escalating to
// SIGKILL after grace. It returns only after the child has been reaped, so
// a subsequent Start never overlaps with a dying writer.
func (s *Supervisor) Stop(grace time.Duration) error {
	s.mu.Lock()
	cmd := s.cmd
	if cmd == nil || cmd.Process == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	done := s.done
	pid := cmd.Process.Pid
	s.mu.Unlock()

	if grace <= 0 {
		grace = 5 * time.Second
	}
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(grace):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			return fmt.Errorf("transcoder pid %d not reaped after SIGKILL", pid)
		}
	}

	s.opts.Logger.Info("transcoder stopped", "camera", s.opts.Camera, "pid", pid)
	return nil
}

// Running reports whether a transcoder process is currently attached.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// PID returns the attached process id, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Probe refreshes sink-derived activity. When the sink is a local file
// that has grown since the last probe, the activity timestamp advances.
func (s *Supervisor) Probe() {
	if s.sinkProbe.grew() {
		s.touch()
	}
}

// LastOutput returns the time fresh output was last observed, from either
// transcoder stderr chatter or sink file growth.
func (s *Supervisor) LastOutput() time.Time {
	n := s.lastOutput.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Close releases the stderr log writer. The Supervisor must be stopped.
func (s *Supervisor) Close() error {
	if s.opts.Stderr != nil {
		return s.opts.Stderr.Close()
	}
	return nil
}

func (s *Supervisor) touch() {
	s.lastOutput.Store(time.Now().UnixNano())
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// activityWriter forwards transcoder stderr to its log destination while
// stamping every write as output activity for the watchdog.
type activityWriter struct {
	w    io.Writer
	last *atomic.Int64
}

func (a *activityWriter) Write(p []byte) (int, error) {
	a.last.Store(time.Now().UnixNano())
	return a.w.Write(p)
}
