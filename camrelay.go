package camrelay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/camrelay/camrelay/internal/cloud"
	"github.com/camrelay/camrelay/internal/config"
	"github.com/camrelay/camrelay/internal/history"
	"github.com/camrelay/camrelay/internal/history/factory"
	"github.com/camrelay/camrelay/internal/metrics"
	"github.com/camrelay/camrelay/internal/server"
	"github.com/camrelay/camrelay/internal/session"
	"github.com/camrelay/camrelay/internal/source"
	"github.com/camrelay/camrelay/internal/statusmq"
	"github.com/camrelay/camrelay/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Status = session.Status

type Command = session.Command

type Config = config.FileConfig

// LoadConfig parses and validates a TOML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// RegisterMetrics installs the daemon's collectors on r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// App is the assembled daemon: one session per configured camera plus the
// optional HTTP API, MQTT bridge, and history sink.
type App struct {
	cfg    *Config
	logger *slog.Logger
	mgr    *session.Manager
	bridge *statusmq.Bridge
	sink   history.Sink

	supers []*supervisor.Supervisor
}

// NewApp wires an App from a validated config.
func NewApp(cfg *Config) (*App, error) {
	logger := cfg.Log.New()
	slog.SetDefault(logger)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}

	app := &App{cfg: cfg, logger: logger, mgr: session.NewManager()}

	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, err
		}
		app.sink = sink
	}

	if cfg.MQTT.Broker != "" {
		app.bridge = statusmq.New(cfg.MQTT, app.mgr, cfg.Status.Interval, logger)
	}

	client := cloud.NewHTTPClient(cfg.Cloud, logger)
	resolver := source.NewResolver(client, cfg.Cloud.Timeout)

	for _, cam := range cfg.Cameras {
		stderr, err := cfg.Log.TranscoderWriter(cam.ID)
		if err != nil {
			return nil, err
		}
		sup := supervisor.New(supervisor.Options{
			Camera:    cam.ID,
			Binary:    cfg.FFmpeg.Binary,
			ExtraArgs: cfg.FFmpeg.ExtraArgs,
			Sink:      cam.Sink,
			Stderr:    stderr,
			Logger:    logger,
		})
		app.supers = append(app.supers, sup)

		var sinks []history.Sink
		if app.sink != nil {
			sinks = append(sinks, app.sink)
		}
		sess := session.New(cfg.SessionConfig(cam), resolver, sup, logger, sinks...)
		if app.bridge != nil {
			// Push a fresh snapshot on every transition, on top of the
			// periodic refresh.
			sess.OnStatus(app.bridge.PublishStatus)
		}
		if err := app.mgr.Add(sess); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Manager exposes the session manager for embedding.
func (a *App) Manager() *session.Manager { return a.mgr }

// Run executes every session until ctx is cancelled or a session fails
// fatally. The HTTP API and MQTT bridge live for the duration of the run.
func (a *App) Run(ctx context.Context) error {
	var httpSrv *http.Server
	if a.cfg.HTTP.Listen != "" {
		httpSrv = server.NewServer(a.cfg.HTTP.Listen, a.cfg.HTTP.BasePath, a.mgr)
		a.logger.Info("http api listening", "addr", a.cfg.HTTP.Listen)
	}

	bctx, bcancel := context.WithCancel(ctx)
	defer bcancel()
	if a.bridge != nil {
		if err := a.bridge.Connect(); err != nil {
			// The daemon keeps streaming without the bridge; paho keeps
			// retrying in the background.
			a.logger.Warn("mqtt bridge unavailable", "err", err)
		}
		go a.bridge.Run(bctx)
	}

	err := a.mgr.Run(ctx)

	bcancel()
	if a.bridge != nil {
		a.bridge.Close()
	}
	if httpSrv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(sctx)
		scancel()
	}
	for _, sup := range a.supers {
		_ = sup.Close()
	}
	if a.sink != nil {
		if cerr := a.sink.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}
