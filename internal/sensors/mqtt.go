// Package sensors feeds zone inputs from MQTT topics. One Hub owns the
// broker connection; each zone gets a Source that caches the latest reading
// per topic.
package sensors

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// staleAfter invalidates a cached reading that stopped updating; the zone
// degrades to "sensor unavailable" instead of controlling on dead data.
const staleAfter = 15 * time.Minute

type Config struct {
	BrokerURL string
	ClientID  string
	QoS       byte

	Username string
	Password string
}

// Topics names the per-zone sensor topics. Empty topics are simply not
// subscribed.
type Topics struct {
	Temperature    string
	Humidity       string
	Outdoor        string
	OutdoorBackup  string
	DoorWindow     string
	Motion         string
}

// Hub owns one broker connection shared by every zone's Source.
type Hub struct {
	cfg    Config
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]func(payload []byte, at time.Time)
}

func NewHub(cfg Config) (*Hub, error) {
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "zoneheat-sensors"
	}
	if cfg.QoS > 1 {
		return nil, errors.New("sensors: QoS must be 0 or 1")
	}
	return &Hub{cfg: cfg, subs: make(map[string]func([]byte, time.Time))}, nil
}

// Connect dials the broker. Subscriptions registered before or after connect
// are (re)established on every (re)connection.
func (h *Hub) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(h.cfg.BrokerURL).
		SetClientID(h.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if h.cfg.Username != "" {
		opts.SetUsername(h.cfg.Username)
		opts.SetPassword(h.cfg.Password)
	}

	opts.OnConnect = func(cl mqtt.Client) {
		h.mu.Lock()
		topics := make([]string, 0, len(h.subs))
		for t := range h.subs {
			topics = append(topics, t)
		}
		h.mu.Unlock()
		for _, t := range topics {
			cl.Subscribe(t, h.cfg.QoS, h.onMessage).Wait()
		}
	}

	h.client = mqtt.NewClient(opts)
	tok := h.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("sensors: connect: %w", err)
	}
	return nil
}

func (h *Hub) Close() {
	if h.client != nil {
		h.client.Disconnect(250)
	}
}

func (h *Hub) onMessage(_ mqtt.Client, msg mqtt.Message) {
	h.mu.Lock()
	handler := h.subs[msg.Topic()]
	h.mu.Unlock()
	if handler != nil {
		handler(msg.Payload(), time.Now())
	}
}

func (h *Hub) subscribe(topic string, fn func(payload []byte, at time.Time)) {
	if topic == "" {
		return
	}
	h.mu.Lock()
	h.subs[topic] = fn
	h.mu.Unlock()
	if h.client != nil && h.client.IsConnected() {
		h.client.Subscribe(topic, h.cfg.QoS, h.onMessage).Wait()
	}
}

type reading struct {
	value float64
	at    time.Time
}

type binaryReading struct {
	value bool
	at    time.Time
}

// Source caches the latest readings for one zone. Implements the zone's
// SensorSource.
type Source struct {
	nowFn func() time.Time

	mu            sync.Mutex
	temp          *reading
	humidity      *reading
	outdoor       *reading
	outdoorBackup *reading
	doorWindow    *binaryReading
	motion        *binaryReading
}

// Zone registers the topics for one zone and returns its Source.
func (h *Hub) Zone(t Topics) *Source {
	s := &Source{nowFn: time.Now}
	h.subscribe(t.Temperature, s.onFloat(&s.temp))
	h.subscribe(t.Humidity, s.onFloat(&s.humidity))
	h.subscribe(t.Outdoor, s.onFloat(&s.outdoor))
	h.subscribe(t.OutdoorBackup, s.onFloat(&s.outdoorBackup))
	h.subscribe(t.DoorWindow, s.onBinary(&s.doorWindow))
	h.subscribe(t.Motion, s.onBinary(&s.motion))
	return s
}

func (s *Source) onFloat(slot **reading) func([]byte, time.Time) {
	return func(payload []byte, at time.Time) {
		v, err := parseFloat(payload)
		if err != nil {
			return
		}
		s.mu.Lock()
		*slot = &reading{value: v, at: at}
		s.mu.Unlock()
	}
}

func (s *Source) onBinary(slot **binaryReading) func([]byte, time.Time) {
	return func(payload []byte, at time.Time) {
		v, err := parseBinary(payload)
		if err != nil {
			return
		}
		s.mu.Lock()
		*slot = &binaryReading{value: v, at: at}
		s.mu.Unlock()
	}
}

func (s *Source) fresh(r *reading) bool {
	return r != nil && s.nowFn().Sub(r.at) < staleAfter
}

func (s *Source) Temperature() (float64, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh(s.temp) {
		return 0, time.Time{}, false
	}
	return s.temp.value, s.temp.at, true
}

func (s *Source) Humidity() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh(s.humidity) {
		return 0, false
	}
	return s.humidity.value, true
}

// Outdoor prefers the primary sensor and falls back to the backup when the
// primary is missing or stale.
func (s *Source) Outdoor() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fresh(s.outdoor) {
		return s.outdoor.value, true
	}
	if s.fresh(s.outdoorBackup) {
		return s.outdoorBackup.value, true
	}
	return 0, false
}

func (s *Source) DoorWindowOpen() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doorWindow == nil || s.nowFn().Sub(s.doorWindow.at) >= staleAfter {
		return false, false
	}
	return s.doorWindow.value, true
}

func (s *Source) Motion() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.motion == nil || s.nowFn().Sub(s.motion.at) >= staleAfter {
		return false, false
	}
	return s.motion.value, true
}

func parseFloat(payload []byte) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return 0, fmt.Errorf("sensors: bad float payload %q: %w", payload, err)
	}
	return v, nil
}

func parseBinary(payload []byte) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "on", "open", "true", "1":
		return true, nil
	case "off", "closed", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("sensors: bad binary payload %q", payload)
	}
}
