package camrelay

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	clip := filepath.Join(dir, "idle.mp4")
	if err := os.WriteFile(clip, []byte("clip"), 0o644); err != nil {
		t.Fatal(err)
	}
	body := `
[cloud]
base_url = "https://api.example.com"
token = "secret"

[[cameras]]
id = "front"
sink = "udp://127.0.0.1:5000"
placeholder = "` + clip + `"

[[cameras]]
id = "back"
sink = "udp://127.0.0.1:5001"
placeholder = "` + clip + `"
`
	path := filepath.Join(dir, "camrelay.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewAppWiresSessions(t *testing.T) {
	cfg, err := LoadConfig(writeTestConfig(t))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	app, err := NewApp(cfg)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	sts := app.Manager().Statuses()
	if len(sts) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sts))
	}
	if sts[0].Camera != "back" || sts[1].Camera != "front" {
		t.Errorf("cameras = %q, %q", sts[0].Camera, sts[1].Camera)
	}
	for _, st := range sts {
		if st.State != "init" {
			t.Errorf("camera %s state = %q, want init before Run", st.Camera, st.State)
		}
	}
}

func TestLoadConfigRejectsMissingPlaceholder(t *testing.T) {
	dir := t.TempDir()
	body := `
[cloud]
base_url = "https://api.example.com"

[[cameras]]
id = "front"
sink = "udp://127.0.0.1:5000"
placeholder = "` + filepath.Join(dir, "missing.mp4") + `"
`
	path := filepath.Join(dir, "camrelay.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig succeeded with missing placeholder clip")
	}
}
