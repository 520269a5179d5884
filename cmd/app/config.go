// Package app loads and validates the daemon configuration. Defaults come
// from a struct, a yaml/json file layers on top, and ZONEHEAT_* environment
// variables override both ("__" nests, e.g. ZONEHEAT_CONTROLLERS__HTTP__ADDR).
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/adaptiveheat/zoneheat/internal/actuator"
	"github.com/adaptiveheat/zoneheat/internal/central"
	"github.com/adaptiveheat/zoneheat/internal/sensors"
	"github.com/adaptiveheat/zoneheat/internal/thermal"
	"github.com/adaptiveheat/zoneheat/internal/window"
	"github.com/adaptiveheat/zoneheat/internal/zone"
)

const envPrefix = "ZONEHEAT_"

type Config struct {
	LogLevel string `koanf:"log_level" yaml:"log_level"`
	StateDir string `koanf:"state_dir" yaml:"state_dir"`

	MQTT BrokerConfig `koanf:"mqtt" yaml:"mqtt"`

	Controllers ControllersConfig `koanf:"controllers" yaml:"controllers"`

	Zones []ZoneConfig `koanf:"zones" yaml:"zones"`
}

// BrokerConfig is the shared MQTT connection used for sensors and actuators.
type BrokerConfig struct {
	BrokerURL string `koanf:"broker_url" yaml:"broker_url"`
	Username  string `koanf:"username" yaml:"username"`
	Password  string `koanf:"password" yaml:"password"`
	QoS       int    `koanf:"qos" yaml:"qos"`
}

type ControllersConfig struct {
	HTTP   HTTPConfig       `koanf:"http" yaml:"http"`
	MQTT   MQTTCtrlConfig   `koanf:"mqtt" yaml:"mqtt"`
	Modbus ModbusCtrlConfig `koanf:"modbus" yaml:"modbus"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
}

type MQTTCtrlConfig struct {
	Enabled         bool          `koanf:"enabled" yaml:"enabled"`
	BaseTopic       string        `koanf:"base_topic" yaml:"base_topic"`
	QoS             int           `koanf:"qos" yaml:"qos"`
	RetainStatus    bool          `koanf:"retain_status" yaml:"retain_status"`
	PublishInterval time.Duration `koanf:"publish_interval" yaml:"publish_interval"`
}

type ModbusCtrlConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
	UnitID  int    `koanf:"unit_id" yaml:"unit_id"`
}

// ZoneConfig is the file-level description of one zone.
type ZoneConfig struct {
	ID   string `koanf:"id" yaml:"id"`
	Name string `koanf:"name" yaml:"name"`

	Sensors SensorTopics     `koanf:"sensors" yaml:"sensors"`
	Valves  []ActuatorConfig `koanf:"valves" yaml:"valves"`
	Heater  HeaterConfig     `koanf:"heater" yaml:"heater"`

	Target      float64       `koanf:"target" yaml:"target"`
	Deadband    float64       `koanf:"deadband" yaml:"deadband"`
	InitialMode string        `koanf:"initial_mode" yaml:"initial_mode"`
	Presets     PresetConfig  `koanf:"presets" yaml:"presets"`
	Auto        AutoConfig    `koanf:"auto" yaml:"auto"`
	Window      WindowConfig  `koanf:"window" yaml:"window"`
	Thermal     ThermalConfig `koanf:"thermal" yaml:"thermal"`
}

type SensorTopics struct {
	Temperature   string `koanf:"temperature" yaml:"temperature"`
	Humidity      string `koanf:"humidity" yaml:"humidity"`
	Outdoor       string `koanf:"outdoor" yaml:"outdoor"`
	OutdoorBackup string `koanf:"outdoor_backup" yaml:"outdoor_backup"`
	DoorWindow    string `koanf:"door_window" yaml:"door_window"`
	Motion        string `koanf:"motion" yaml:"motion"`
}

type ActuatorConfig struct {
	ID   string `koanf:"id" yaml:"id"`
	Kind string `koanf:"kind" yaml:"kind"`
}

// HeaterConfig names the shared heat source. An empty ID means the zone runs
// its valves standalone.
type HeaterConfig struct {
	ID       string        `koanf:"id" yaml:"id"`
	Kind     string        `koanf:"kind" yaml:"kind"`
	OnDelay  time.Duration `koanf:"on_delay" yaml:"on_delay"`
	OffDelay time.Duration `koanf:"off_delay" yaml:"off_delay"`
}

type PresetConfig struct {
	Sleep float64 `koanf:"sleep" yaml:"sleep"`
	Home  float64 `koanf:"home" yaml:"home"`
	Away  float64 `koanf:"away" yaml:"away"`
}

type AutoConfig struct {
	Enabled  bool    `koanf:"enabled" yaml:"enabled"`
	OnBelow  float64 `koanf:"on_below" yaml:"on_below"`
	OffAbove float64 `koanf:"off_above" yaml:"off_above"`
}

type WindowConfig struct {
	Detection      bool    `koanf:"detection" yaml:"detection"`
	SlopeThreshold float64 `koanf:"slope_threshold" yaml:"slope_threshold"`
}

// ThermalConfig seeds the grey-box model. All zeros mean the built-in
// cold-start parameters.
type ThermalConfig struct {
	TauR      float64 `koanf:"tau_r" yaml:"tau_r"`
	TauTh     float64 `koanf:"tau_th" yaml:"tau_th"`
	K         float64 `koanf:"k" yaml:"k"`
	P         float64 `koanf:"p" yaml:"p"`
	LearnRate float64 `koanf:"learn_rate" yaml:"learn_rate"`
}

var defaultConfig = Config{
	LogLevel: "info",
	StateDir: "./state",
	MQTT: BrokerConfig{
		BrokerURL: "tcp://localhost:1883",
	},
	Controllers: ControllersConfig{
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		MQTT: MQTTCtrlConfig{
			BaseTopic:       "zoneheat",
			PublishInterval: 1 * time.Second,
		},
		Modbus: ModbusCtrlConfig{
			Addr:   "127.0.0.1:1502",
			UnitID: 1,
		},
	},
}

// Load builds the effective config: defaults, then the file at path (when
// non-empty), then environment overrides.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return kyaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config extension %q (want .yaml/.yml/.json)", ext)
	}
}

func (c Config) Validate() error {
	if len(c.Zones) == 0 {
		return errors.New("config: at least one zone is required")
	}
	seen := make(map[string]bool, len(c.Zones))
	for i, z := range c.Zones {
		if z.ID == "" {
			return fmt.Errorf("config: zones[%d]: id is required", i)
		}
		if seen[z.ID] {
			return fmt.Errorf("config: duplicate zone id %q", z.ID)
		}
		seen[z.ID] = true
		if z.Sensors.Temperature == "" {
			return fmt.Errorf("config: zone %q: sensors.temperature topic is required", z.ID)
		}
		if len(z.Valves) == 0 && z.Heater.ID == "" {
			return fmt.Errorf("config: zone %q: needs at least one valve or a heater", z.ID)
		}
	}
	return nil
}

// SlogLevel maps the configured log level onto slog. Unknown strings error.
func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
}

// DumpYAML renders the effective config, for the -dump-config flag.
func (c Config) DumpYAML() ([]byte, error) {
	return yamlv3.Marshal(c)
}

// ZoneSetup converts one ZoneConfig into the domain config plus the sensor
// topics its Source subscribes to.
func (z ZoneConfig) ZoneSetup() (zone.Config, sensors.Topics, error) {
	valves := make([]actuator.Target, 0, len(z.Valves))
	for _, v := range z.Valves {
		t, err := actuatorTarget(v.ID, v.Kind, actuator.KindValve)
		if err != nil {
			return zone.Config{}, sensors.Topics{}, fmt.Errorf("zone %q: valve: %w", z.ID, err)
		}
		valves = append(valves, t)
	}

	var centralCfg central.Config
	if z.Heater.ID != "" {
		heater, err := actuatorTarget(z.Heater.ID, z.Heater.Kind, actuator.KindSwitch)
		if err != nil {
			return zone.Config{}, sensors.Topics{}, fmt.Errorf("zone %q: heater: %w", z.ID, err)
		}
		centralCfg = central.Config{
			Heater:       heater,
			TurnOnDelay:  z.Heater.OnDelay,
			TurnOffDelay: z.Heater.OffDelay,
		}
	}

	mode := zone.ModeHeat
	if z.InitialMode != "" {
		m, err := zone.ParseMode(z.InitialMode)
		if err != nil {
			return zone.Config{}, sensors.Topics{}, fmt.Errorf("zone %q: %w", z.ID, err)
		}
		mode = m
	}

	var params *thermal.Params
	if z.Thermal.TauR != 0 || z.Thermal.TauTh != 0 || z.Thermal.K != 0 || z.Thermal.P != 0 {
		params = &thermal.Params{
			TauR:  z.Thermal.TauR,
			TauTh: z.Thermal.TauTh,
			K:     z.Thermal.K,
			P:     z.Thermal.P,
		}
	}

	target := z.Target
	if target == 0 {
		target = 20.0
	}

	cfg := zone.Config{
		ID:      z.ID,
		Name:    z.Name,
		Valves:  valves,
		Central: centralCfg,
		Thermal: thermal.Config{
			Target:     target,
			Deadband:   z.Deadband,
			LearnRate:  z.Thermal.LearnRate,
			InitParams: params,
		},
		WindowDetection: z.Window.Detection,
		Window: window.Config{
			SlopeThreshold: z.Window.SlopeThreshold,
		},
		Presets: zone.Presets{
			Sleep: z.Presets.Sleep,
			Home:  z.Presets.Home,
			Away:  z.Presets.Away,
		},
		AutoOnOff:    z.Auto.Enabled,
		AutoOnBelow:  z.Auto.OnBelow,
		AutoOffAbove: z.Auto.OffAbove,
		InitialMode:  mode,
	}

	topics := sensors.Topics{
		Temperature:   z.Sensors.Temperature,
		Humidity:      z.Sensors.Humidity,
		Outdoor:       z.Sensors.Outdoor,
		OutdoorBackup: z.Sensors.OutdoorBackup,
		DoorWindow:    z.Sensors.DoorWindow,
		Motion:        z.Sensors.Motion,
	}
	return cfg, topics, nil
}

func actuatorTarget(id, kind string, fallback actuator.Kind) (actuator.Target, error) {
	k := fallback
	if kind != "" {
		parsed, err := actuator.ParseKind(kind)
		if err != nil {
			return actuator.Target{}, err
		}
		k = parsed
	}
	t := actuator.Target{ID: id, Kind: k}
	if !t.Valid() {
		return actuator.Target{}, fmt.Errorf("invalid actuator %q/%q", id, kind)
	}
	return t, nil
}
