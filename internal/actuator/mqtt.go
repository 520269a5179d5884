package actuator

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the command publisher.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	// BaseTopic prefixes every command topic: <base>/<actuator id>/set.
	BaseTopic string
	QoS       byte

	Username string
	Password string
}

// MQTTCommander publishes actuator commands over MQTT. Failed publishes are
// logged and swallowed at call sites: the zone keeps its intended state and
// the next transition retries naturally.
type MQTTCommander struct {
	cfg    MQTTConfig
	log    *slog.Logger
	client mqtt.Client
}

func NewMQTTCommander(cfg MQTTConfig, log *slog.Logger) (*MQTTCommander, error) {
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "zoneheat-commander"
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "zoneheat/actuators"
	}
	if cfg.QoS > 1 {
		return nil, errors.New("actuator: QoS must be 0 or 1")
	}
	if log == nil {
		log = slog.Default()
	}
	return &MQTTCommander{cfg: cfg, log: log}, nil
}

func (c *MQTTCommander) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("actuator: connect: %w", err)
	}
	return nil
}

func (c *MQTTCommander) Close() {
	if c.client != nil {
		c.client.Disconnect(250)
	}
}

func (c *MQTTCommander) TurnOn(t Target) error  { return c.command(t, true) }
func (c *MQTTCommander) TurnOff(t Target) error { return c.command(t, false) }

func (c *MQTTCommander) command(t Target, on bool) error {
	if !t.Valid() {
		return fmt.Errorf("actuator: invalid target %+v", t)
	}
	verb := t.Kind.Command(on)
	topic := strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + t.ID + "/set"

	tok := c.client.Publish(topic, c.cfg.QoS, false, verb)
	tok.Wait()
	if err := tok.Error(); err != nil {
		c.log.Error("actuator command failed", "target", t.ID, "command", verb, "error", err)
		return fmt.Errorf("actuator: publish %s to %s: %w", verb, t.ID, err)
	}
	c.log.Debug("actuator command sent", "target", t.ID, "command", verb)
	return nil
}
