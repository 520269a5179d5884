package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/adaptiveheat/zoneheat/cmd/app"
	"github.com/adaptiveheat/zoneheat/internal/actuator"
	httpctrl "github.com/adaptiveheat/zoneheat/internal/controllers/http"
	modbusctrl "github.com/adaptiveheat/zoneheat/internal/controllers/modbus"
	mqttctrl "github.com/adaptiveheat/zoneheat/internal/controllers/mqtt"
	"github.com/adaptiveheat/zoneheat/internal/observability"
	"github.com/adaptiveheat/zoneheat/internal/ports"
	"github.com/adaptiveheat/zoneheat/internal/scheduler"
	"github.com/adaptiveheat/zoneheat/internal/sensors"
	"github.com/adaptiveheat/zoneheat/internal/storage"
	"github.com/adaptiveheat/zoneheat/internal/zone"
)

func main() {
	var (
		configPath string
		dumpConfig bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json)")
	flag.BoolVar(&dumpConfig, "dump-config", false, "print the effective config as yaml and exit")
	flag.Parse()

	cfg, err := app.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if dumpConfig {
		out, err := cfg.DumpYAML()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg app.Config) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)

	store, err := storage.NewFileStore(cfg.StateDir)
	if err != nil {
		return err
	}

	hub, err := sensors.NewHub(sensors.Config{
		BrokerURL: cfg.MQTT.BrokerURL,
		ClientID:  "zoneheat-sensors",
		QoS:       byte(cfg.MQTT.QoS),
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
	})
	if err != nil {
		return err
	}

	commander, err := actuator.NewMQTTCommander(actuator.MQTTConfig{
		BrokerURL: cfg.MQTT.BrokerURL,
		QoS:       byte(cfg.MQTT.QoS),
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
	}, log)
	if err != nil {
		return err
	}

	sched := scheduler.New()
	registry := zone.NewRegistry()

	// Sources register their subscriptions before the first connect so the
	// OnConnect hook picks them all up at once.
	zones := make([]*zone.Controller, 0, len(cfg.Zones))
	services := make([]ports.ZoneService, 0, len(cfg.Zones))
	for _, zc := range cfg.Zones {
		zoneCfg, topics, err := zc.ZoneSetup()
		if err != nil {
			return err
		}
		ctrl, err := zone.New(zoneCfg, zone.Deps{
			Sensors:   hub.Zone(topics),
			Scheduler: sched,
			Commander: commander,
			Directory: registry,
			Store:     store,
			Metrics:   metrics,
			Logger:    log,
		})
		if err != nil {
			return fmt.Errorf("zone %s: %w", zc.ID, err)
		}
		registry.Add(ctrl)
		zones = append(zones, ctrl)
		services = append(services, ctrl)
	}

	if err := hub.Connect(); err != nil {
		return err
	}
	defer hub.Close()
	if err := commander.Connect(); err != nil {
		return err
	}
	defer commander.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Control loop: every zone ticks on the same cadence.
	tickToken := sched.SchedulePeriodic(zone.ControlTick, func() {
		now := time.Now()
		for _, z := range zones {
			z.Tick(now)
		}
	})
	defer tickToken.Cancel()

	errc := make(chan error, 3)

	if cfg.Controllers.HTTP.Enabled {
		srv := httpctrl.New(services, cfg.Controllers.HTTP.Addr, reg)
		log.Info("http controller listening", "addr", cfg.Controllers.HTTP.Addr)
		go func() { errc <- srv.Run(ctx) }()
	}

	if cfg.Controllers.MQTT.Enabled {
		ctrl, err := mqttctrl.New(services, mqttctrl.Config{
			BrokerURL:       cfg.MQTT.BrokerURL,
			BaseTopic:       cfg.Controllers.MQTT.BaseTopic,
			QoS:             byte(cfg.Controllers.MQTT.QoS),
			RetainStatus:    cfg.Controllers.MQTT.RetainStatus,
			PublishInterval: cfg.Controllers.MQTT.PublishInterval,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
		})
		if err != nil {
			return err
		}
		log.Info("mqtt controller starting", "base_topic", cfg.Controllers.MQTT.BaseTopic)
		go func() { errc <- ctrl.Run(ctx) }()
	}

	if cfg.Controllers.Modbus.Enabled {
		ctrl, err := modbusctrl.New(services, modbusctrl.Config{
			Addr:   cfg.Controllers.Modbus.Addr,
			UnitID: byte(cfg.Controllers.Modbus.UnitID),
		})
		if err != nil {
			return err
		}
		log.Info("modbus controller listening", "addr", cfg.Controllers.Modbus.Addr)
		go func() { errc <- ctrl.Run(ctx) }()
	}

	log.Info("zoneheat running", "zones", len(zones))

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errc:
		runErr = err
		cancel()
	}

	for _, z := range zones {
		z.Close()
		registry.Remove(z.ID())
	}
	log.Info("zoneheat stopped")
	return runErr
}
