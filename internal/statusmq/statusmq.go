package statusmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/camrelay/camrelay/internal/session"
)

// Controller is the part of the session manager the bridge drives.
type Controller interface {
	Statuses() []session.Status
	Control(camera string, cmd session.Command) error
}

// Config holds MQTT bridge settings. An empty Broker disables the bridge.
type Config struct {
	Broker      string `toml:"broker" mapstructure:"broker"`
	ClientID    string `toml:"client_id" mapstructure:"client_id"`
	Username    string `toml:"username" mapstructure:"username"`
	Password    string `toml:"password" mapstructure:"password"`
	TopicPrefix string `toml:"topic_prefix" mapstructure:"topic_prefix"`
}

// Bridge publishes session status to <prefix>/status/<camera> (retained)
// and subscribes to <prefix>/control/<camera> for start/restart/stop
// verbs.
type Bridge struct {
	cfg      Config
	ctrl     Controller
	client   mqtt.Client
	logger   *slog.Logger
	interval time.Duration
}

func New(cfg Config, ctrl Controller, interval time.Duration, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "camrelay"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "camrelay"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Bridge{cfg: cfg, ctrl: ctrl, logger: logger, interval: interval}
}

// Connect establishes the broker connection and installs the control
// subscription. Paho reconnects on its own afterwards.
func (b *Bridge) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		b.logger.Info("mqtt connected", "broker", b.cfg.Broker, "client_id", b.cfg.ClientID)
		// Resubscribe on every (re)connect.
		topic := b.cfg.TopicPrefix + "/control/+"
		if token := c.Subscribe(topic, 1, b.onControl); token.WaitTimeout(5*time.Second) && token.Error() != nil {
			b.logger.Error("mqtt subscribe failed", "topic", topic, "err", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.logger.Warn("mqtt connection lost, reconnecting", "err", err)
	}

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timeout to %s", b.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Run publishes the status of every session at the configured interval
// until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range b.ctrl.Statuses() {
				b.PublishStatus(st)
			}
		}
	}
}

// PublishStatus sends one camera's status snapshot, retained so late
// subscribers see the current state immediately.
func (b *Bridge) PublishStatus(st session.Status) {
	if b.client == nil || !b.client.IsConnectionOpen() {
		return
	}
	payload, err := json.Marshal(st)
	if err != nil {
		b.logger.Error("marshal status", "camera", st.Camera, "err", err)
		return
	}
	topic := b.cfg.TopicPrefix + "/status/" + st.Camera
	token := b.client.Publish(topic, 0, true, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		b.logger.Warn("mqtt publish failed", "topic", topic, "err", token.Error())
	}
}

func (b *Bridge) onControl(_ mqtt.Client, msg mqtt.Message) {
	camera := cameraFromTopic(msg.Topic())
	if camera == "" {
		return
	}
	cmd, ok := session.ParseCommand(string(msg.Payload()))
	if !ok {
		b.logger.Warn("unknown control payload", "camera", camera, "payload", string(msg.Payload()))
		return
	}
	if err := b.ctrl.Control(camera, cmd); err != nil {
		b.logger.Warn("control dispatch failed", "camera", camera, "cmd", string(cmd), "err", err)
		return
	}
	b.logger.Info("control dispatched", "camera", camera, "cmd", string(cmd))
}

// cameraFromTopic extracts the camera ID from <prefix>/control/<camera>.
func cameraFromTopic(topic string) string {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 || i == len(topic)-1 {
		return ""
	}
	return topic[i+1:]
}

// Close disconnects from the broker with a short grace period.
func (b *Bridge) Close() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
		b.logger.Info("mqtt disconnected")
	}
}
