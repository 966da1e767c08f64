package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestTranscoderWriterCreatesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}
	w, err := cfg.TranscoderWriter("front-door")
	if err != nil {
		t.Fatalf("TranscoderWriter: %v", err)
	}
	if w == nil {
		t.Fatal("expected writer when Dir is set")
	}
	if _, err := w.Write([]byte("frame= 42\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()

	path := filepath.Join(dir, "front-door.transcoder.log")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("log not created at %s: %v", path, err)
	}
}

func TestTranscoderWriterNilWithoutDir(t *testing.T) {
	w, err := Config{}.TranscoderWriter("cam")
	if err != nil {
		t.Fatalf("TranscoderWriter: %v", err)
	}
	if w != nil {
		t.Fatal("expected nil writer without Dir")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewRespectsNoColor(t *testing.T) {
	l := Config{NoColor: true, Level: "debug"}.New()
	if l == nil {
		t.Fatal("nil logger")
	}
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level not enabled")
	}
}
