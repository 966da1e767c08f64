package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/camrelay/camrelay/internal/backoff"
	"github.com/camrelay/camrelay/internal/cloud"
	"github.com/camrelay/camrelay/internal/logger"
	"github.com/camrelay/camrelay/internal/session"
	"github.com/camrelay/camrelay/internal/statusmq"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Cloud    cloud.Config    `toml:"cloud" mapstructure:"cloud"`
	FFmpeg   FFmpegConfig    `toml:"ffmpeg" mapstructure:"ffmpeg"`
	Defaults Defaults        `toml:"defaults" mapstructure:"defaults"`
	Backoff  backoff.Policy  `toml:"backoff" mapstructure:"backoff"`
	Cameras  []CameraConfig  `toml:"cameras" mapstructure:"cameras"`
	Log      logger.Config   `toml:"log" mapstructure:"log"`
	HTTP     HTTPConfig      `toml:"http" mapstructure:"http"`
	MQTT     statusmq.Config `toml:"mqtt" mapstructure:"mqtt"`
	History  HistoryConfig   `toml:"history" mapstructure:"history"`
	Status   StatusConfig    `toml:"status" mapstructure:"status"`
}

type FFmpegConfig struct {
	Binary    string   `toml:"binary" mapstructure:"binary"`
	ExtraArgs []string `toml:"extra_args" mapstructure:"extra_args"`
}

// Defaults apply to every camera unless overridden per camera.
type Defaults struct {
	StalenessThreshold   time.Duration `toml:"staleness_threshold" mapstructure:"staleness_threshold"`
	WatchdogInterval     time.Duration `toml:"watchdog_interval" mapstructure:"watchdog_interval"`
	GracePeriod          time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	MinDwell             time.Duration `toml:"min_dwell" mapstructure:"min_dwell"`
	LiveFailureThreshold int           `toml:"live_failure_threshold" mapstructure:"live_failure_threshold"`
	LiveFailureWindow    time.Duration `toml:"live_failure_window" mapstructure:"live_failure_window"`
	LaunchAttemptCeiling int           `toml:"launch_attempt_ceiling" mapstructure:"launch_attempt_ceiling"`
}

type CameraConfig struct {
	ID          string `toml:"id" mapstructure:"id"`
	Sink        string `toml:"sink" mapstructure:"sink"`
	Placeholder string `toml:"placeholder" mapstructure:"placeholder"`

	// Optional per-camera overrides of the defaults.
	StalenessThreshold time.Duration `toml:"staleness_threshold" mapstructure:"staleness_threshold"`
	GracePeriod        time.Duration `toml:"grace_period" mapstructure:"grace_period"`
}

type HTTPConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type StatusConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

// Load parses and validates the TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks the invariants the daemon cannot start without.
// A missing placeholder clip is a hard error: the fallback path would
// fail exactly when it is needed.
func (fc *FileConfig) Validate() error {
	if fc.Cloud.BaseURL == "" {
		return fmt.Errorf("cloud.base_url is required")
	}
	if len(fc.Cameras) == 0 {
		return fmt.Errorf("at least one [[cameras]] entry is required")
	}
	seen := make(map[string]struct{}, len(fc.Cameras))
	for i, cam := range fc.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("cameras[%d]: id is required", i)
		}
		if _, dup := seen[cam.ID]; dup {
			return fmt.Errorf("duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = struct{}{}
		if cam.Sink == "" {
			return fmt.Errorf("camera %s: sink is required", cam.ID)
		}
		if cam.Placeholder == "" {
			return fmt.Errorf("camera %s: placeholder is required", cam.ID)
		}
		if _, err := os.Stat(filepath.Clean(cam.Placeholder)); err != nil {
			return fmt.Errorf("camera %s: placeholder clip: %w", cam.ID, err)
		}
	}
	return nil
}

// SessionConfig builds the session configuration for one camera,
// layering per-camera overrides on top of the defaults.
func (fc *FileConfig) SessionConfig(cam CameraConfig) session.Config {
	cfg := session.Config{
		Camera:               cam.ID,
		Placeholder:          cam.Placeholder,
		StalenessThreshold:   fc.Defaults.StalenessThreshold,
		WatchdogInterval:     fc.Defaults.WatchdogInterval,
		GracePeriod:          fc.Defaults.GracePeriod,
		MinDwell:             fc.Defaults.MinDwell,
		LiveFailureThreshold: fc.Defaults.LiveFailureThreshold,
		LiveFailureWindow:    fc.Defaults.LiveFailureWindow,
		LaunchAttemptCeiling: fc.Defaults.LaunchAttemptCeiling,
		Backoff:              fc.Backoff,
	}
	if cam.StalenessThreshold > 0 {
		cfg.StalenessThreshold = cam.StalenessThreshold
	}
	if cam.GracePeriod > 0 {
		cfg.GracePeriod = cam.GracePeriod
	}
	cfg.Normalize()
	return cfg
}
