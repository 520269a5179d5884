package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/adaptiveheat/zoneheat/internal/ports"
	"github.com/adaptiveheat/zoneheat/internal/zone"
)

type Config struct {
	// MQTT connection
	BrokerURL string
	ClientID  string

	// Topics: commands arrive on <base>/<zone>/set/<field>, status goes to
	// <base>/<zone>/status.
	BaseTopic string

	// Behavior
	QoS             byte
	RetainStatus    bool
	PublishInterval time.Duration

	Username string
	Password string
}

type Controller struct {
	zones map[string]ports.ZoneService
	cfg   Config

	client mqtt.Client
}

func New(zones []ports.ZoneService, cfg Config) (*Controller, error) {
	// ---- defaults ----

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if len(zones) == 0 {
		return nil, errors.New("mqtt: at least one zone is required")
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "zoneheat"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "zoneheat-ctrl"
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 1 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}

	m := make(map[string]ports.ZoneService, len(zones))
	for _, z := range zones {
		m[z.ID()] = z
	}
	return &Controller{
		zones: m,
		cfg:   cfg,
	}, nil
}

func (c *Controller) Run(ctx context.Context) error {
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

	// Subscribe when connected/reconnected.
	opts.OnConnect = func(cl mqtt.Client) {
		// All set commands for all zones under BaseTopic.
		topic := c.topic("+", "set/+")
		token := cl.Subscribe(topic, c.cfg.QoS, c.onMessage)
		token.Wait()
		// If subscribe fails, paho exposes token.Error().
	}

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	// Publish loop: publish each zone's status on interval, only when it
	// changed.
	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	last := make(map[string]zone.Status, len(c.zones))

	// publish everything immediately once
	for id, svc := range c.zones {
		st := svc.Status()
		c.publishStatus(id, st)
		last[id] = st
	}

	for {
		select {
		case <-ctx.Done():
			c.client.Disconnect(250)
			return ctx.Err()

		case <-ticker.C:
			for id, svc := range c.zones {
				cur := svc.Status()
				if !reflect.DeepEqual(cur, last[id]) {
					c.publishStatus(id, cur)
					last[id] = cur
				}
			}
		}
	}
}

func (c *Controller) publishStatus(zoneID string, st zone.Status) {
	b, _ := json.Marshal(st)
	c.client.Publish(c.topic(zoneID, "status"), c.cfg.QoS, c.cfg.RetainStatus, b)
}

// Command payload format: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	// topic format: <base>/<zone>/set/<field>
	t := msg.Topic()
	prefix := strings.TrimRight(c.cfg.BaseTopic, "/") + "/"
	if !strings.HasPrefix(t, prefix) {
		return
	}
	rest := strings.TrimPrefix(t, prefix)
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[1] != "set" {
		return
	}
	svc, ok := c.zones[parts[0]]
	if !ok {
		return
	}
	field := parts[2]
	payload := msg.Payload()

	// Dispatch by field
	switch field {
	case "target":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return
		}
		_ = svc.SetTarget(v)

	case "mode":
		s, err := decodeValueStrict[string](payload)
		if err != nil {
			return
		}
		m, err := zone.ParseMode(s)
		if err != nil {
			return
		}
		_ = svc.SetMode(m)

	case "preset":
		s, err := decodeValueStrict[string](payload)
		if err != nil {
			return
		}
		_ = svc.SetPreset(s)

	case "calibrate":
		_ = svc.Calibrate()
	}
}

func (c *Controller) topic(zoneID, suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + zoneID + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
