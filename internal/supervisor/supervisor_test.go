//go:build !windows

package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/camrelay/camrelay/internal/source"
)

// writeStub writes an executable shell script the supervisor can launch in
// place of a real transcoder. The scripts ignore their argv.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-transcoder")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartStop(t *testing.T) {
	bin := writeStub(t, `trap 'exit 0' TERM
while :; do echo tick 1>&2; sleep 0.05; done`)
	s := New(Options{Camera: "cam", Binary: bin, Sink: "rtmp://sink/x"})

	if err := s.Start(source.Placeholder("/idle.mp4"), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Running() {
		t.Fatal("not running after Start")
	}
	if s.PID() == 0 {
		t.Fatal("PID = 0 while running")
	}
	if err := s.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Running() {
		t.Fatal("still running after Stop")
	}
	if s.PID() != 0 {
		t.Fatal("PID nonzero after Stop")
	}
}

func TestStartRejectsSecondWriter(t *testing.T) {
	bin := writeStub(t, "sleep 30")
	s := New(Options{Camera: "cam", Binary: bin, Sink: "rtmp://sink/x"})
	if err := s.Start(source.Placeholder("/idle.mp4"), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Stop(time.Second) }()

	err := s.Start(source.Placeholder("/idle.mp4"), nil)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}
}

func TestLaunchFailure(t *testing.T) {
	s := New(Options{Camera: "cam", Binary: "/nonexistent/transcoder", Sink: "out.ts"})
	err := s.Start(source.Placeholder("/idle.mp4"), nil)
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LaunchError", err)
	}
	if s.Running() {
		t.Fatal("running after failed launch")
	}
}

func TestUnexpectedExitReported(t *testing.T) {
	bin := writeStub(t, "exit 3")
	s := New(Options{Camera: "cam", Binary: bin, Sink: "rtmp://sink/x"})

	var got atomic.Value
	if err := s.Start(source.Live("rtsp://feed", time.Time{}), func(e Exit) { got.Store(e) }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		_, ok := got.Load().(Exit)
		return ok
	})

	e := got.Load().(Exit)
	if e.Camera != "cam" {
		t.Errorf("exit camera = %q", e.Camera)
	}
	if e.Code != 3 {
		t.Errorf("exit code = %d, want 3", e.Code)
	}
	if e.PID == 0 {
		t.Error("exit PID = 0")
	}
	if s.Running() {
		t.Error("still marked running after exit")
	}
}

func TestStopSuppressesExitEvent(t *testing.T) {
	bin := writeStub(t, `trap 'exit 0' TERM
sleep 30`)
	s := New(Options{Camera: "cam", Binary: bin, Sink: "rtmp://sink/x"})

	var fired atomic.Bool
	if err := s.Start(source.Live("rtsp://feed", time.Time{}), func(Exit) { fired.Store(true) }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Fatal("exit callback fired for a requested stop")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	// Stub ignores SIGTERM; Stop must SIGKILL it within the grace window.
	bin := writeStub(t, `trap '' TERM
sleep 30`)
	s := New(Options{Camera: "cam", Binary: bin, Sink: "rtmp://sink/x"})
	if err := s.Start(source.Placeholder("/idle.mp4"), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	start := time.Now()
	if err := s.Stop(200 * time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop took %v", elapsed)
	}
	if s.Running() {
		t.Fatal("still running after forced stop")
	}
}

func TestStderrActivityUpdatesLastOutput(t *testing.T) {
	bin := writeStub(t, `while :; do echo frame 1>&2; sleep 0.02; done`)
	s := New(Options{Camera: "cam", Binary: bin, Sink: "rtmp://sink/x"})
	if err := s.Start(source.Placeholder("/idle.mp4"), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Stop(time.Second) }()

	first := s.LastOutput()
	waitFor(t, 2*time.Second, func() bool { return s.LastOutput().After(first) })
}

func TestProbeDetectsSinkGrowth(t *testing.T) {
	sink := filepath.Join(t.TempDir(), "out.ts")
	bin := writeStub(t, "sleep 30")
	s := New(Options{Camera: "cam", Binary: bin, Sink: sink})
	if err := s.Start(source.Placeholder("/idle.mp4"), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Stop(time.Second) }()

	before := s.LastOutput()
	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(sink, []byte("mpegts-bytes"), 0o644); err != nil {
		t.Fatalf("write sink: %v", err)
	}
	s.Probe()
	if !s.LastOutput().After(before) {
		t.Fatal("Probe did not register sink growth")
	}
	// No further growth: LastOutput must hold still.
	after := s.LastOutput()
	s.Probe()
	if !s.LastOutput().Equal(after) {
		t.Fatal("Probe advanced activity without growth")
	}
}

func TestBuildArgs(t *testing.T) {
	live := BuildArgs(source.Live("rtsps://edge/feed", time.Time{}), "rtmp://out", nil)
	wantLive := []string{
		"-hide_banner", "-nostdin",
		"-i", "rtsps://edge/feed", "-c:v", "copy", "-c:a", "aac",
		"-f", "mpegts", "rtmp://out",
	}
	if !reflect.DeepEqual(live, wantLive) {
		t.Errorf("live args = %v", live)
	}

	idle := BuildArgs(source.Placeholder("/idle.mp4"), "out.ts", []string{"-map", "0"})
	wantIdle := []string{
		"-hide_banner", "-nostdin", "-re", "-stream_loop", "-1",
		"-i", "/idle.mp4", "-c:v", "copy", "-c:a", "aac",
		"-map", "0",
		"-f", "mpegts", "out.ts",
	}
	if !reflect.DeepEqual(idle, wantIdle) {
		t.Errorf("placeholder args = %v", idle)
	}
}

func TestExitCode(t *testing.T) {
	if c := exitCode(nil); c != 0 {
		t.Errorf("exitCode(nil) = %d", c)
	}
	if c := exitCode(errors.New("boom")); c != -1 {
		t.Errorf("exitCode(non-exec) = %d", c)
	}
}
