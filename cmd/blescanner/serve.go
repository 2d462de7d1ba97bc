package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/ble-scanner/internal/api"
	"github.com/nerrad567/ble-scanner/internal/device"
	"github.com/nerrad567/ble-scanner/internal/discovery"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/config"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/influxdb"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/logging"
	"github.com/nerrad567/ble-scanner/internal/infrastructure/mqtt"
	"github.com/nerrad567/ble-scanner/internal/proxy"
)

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled and then shuts down in reverse order of
// startup.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting BLE scanner",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"proxies", len(cfg.Proxies),
		"storage", cfg.Storage.Backend,
		"level", cfg.Logging.Level,
	)
	go watchDebugSignal(ctx, log)

	// Storage and registry
	storage, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening %s storage: %w", cfg.Storage.Backend, err)
	}
	defer func() {
		log.Info("closing storage")
		if closeErr := storage.Close(); closeErr != nil {
			log.Error("error closing storage", "error", closeErr)
		}
	}()

	registry := device.NewRegistry(storage.Store)
	registry.SetLogger(log)
	registry.SetClassifier(device.NewServiceClassifier())
	if loadErr := registry.Load(ctx); loadErr != nil {
		// A corrupt or unreachable store must not keep the scanner down.
		log.Warn("starting with an empty device registry", "error", loadErr)
	}
	log.Info("device registry initialised", "devices", registry.Count())

	checks := []api.HealthCheck{{Name: "storage", Check: storage.HealthCheck}}

	// MQTT (optional)
	mqttClient, err := connectMQTT(ctx, cfg, log)
	if err != nil {
		log.Info("MQTT disabled", "reason", err)
	}
	var broker api.ConnectionChecker
	if mqttClient != nil {
		broker = mqttClient
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		checks = append(checks, api.HealthCheck{Name: "mqtt", Check: mqttClient.HealthCheck, Optional: true})

		publisher := discovery.NewPublisher(mqttClient, discovery.Options{
			Discovery:       cfg.MQTT.Discovery.Enabled,
			DeviceTopic:     cfg.MQTT.DeviceTopic,
			QoS:             byte(cfg.MQTT.QoS),
			PresenceTimeout: cfg.PresenceTimeout(),
			Version:         version,
		})
		publisher.SetLogger(log)
		publisher.Start(ctx)
		defer func() {
			log.Info("stopping discovery publisher", "dropped_events", publisher.Dropped())
			publisher.Stop()
		}()
		registry.AddListener(publisher.HandleEvent)
		log.Info("discovery publisher started",
			"discovery", cfg.MQTT.Discovery.Enabled,
			"device_topic", cfg.MQTT.DeviceTopic,
		)
	}

	// InfluxDB (optional)
	var telemetry *influxdb.Client
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		log.Warn("InfluxDB unavailable, RSSI telemetry disabled", "error", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		registry.AddListener(rssiRecorder(influxClient))
		checks = append(checks, api.HealthCheck{Name: "influxdb", Check: influxClient.HealthCheck, Optional: true})
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Persistence runs on its own context so the final flush happens after
	// the ingestion loops have stopped.
	persistCtx, stopPersist := context.WithCancel(context.Background())
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		registry.RunPersistence(persistCtx, cfg.FlushInterval(), cfg.PruneAfter())
	}()
	defer func() {
		stopPersist()
		<-persistDone
		log.Info("device registry flushed", "devices", registry.Count())
	}()

	// Proxy ingestion loops
	endpoints, err := proxy.EndpointsFromConfig(cfg, log)
	if err != nil {
		return fmt.Errorf("building proxy clients: %w", err)
	}
	manager := proxy.NewManager(endpoints, registry, proxy.Options{
		Backoff: proxy.Backoff{Interval: cfg.RetryInterval(), Jitter: cfg.RetryJitter()},
	})
	manager.SetLogger(log)
	defer func() {
		if stopErr := manager.Stop(); stopErr != nil && !errors.Is(stopErr, proxy.ErrNotRunning) {
			log.Error("error stopping proxy loops", "error", stopErr)
		}
	}()

	if telemetry != nil {
		interval := time.Duration(cfg.InfluxDB.FlushInterval) * time.Second
		go sampleProxies(ctx, manager, telemetry, interval)
	}

	if cfg.Scan.AutoStart {
		if startErr := manager.Start(ctx); startErr != nil {
			return fmt.Errorf("starting proxy loops: %w", startErr)
		}
		log.Info("scanning started", "proxies", manager.Endpoints())
	} else {
		log.Info("auto start disabled, waiting for POST /api/scan/start")
	}

	// HTTP API
	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		Logger:       log,
		Registry:     registry,
		Scanner:      manager,
		MQTT:         broker,
		ScanInterval: cfg.RetryInterval(),
		Checks:       checks,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API server, proxy loops, registry flush, InfluxDB, publisher, MQTT, storage.

	return nil
}

// connectMQTT resolves the broker and connects. It returns a nil client and
// the reason when MQTT is disabled or no broker can be found. A broker that
// is merely unreachable still yields a client, which keeps retrying.
func connectMQTT(ctx context.Context, cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	broker, err := config.ResolveBrokerConfig(ctx, cfg.MQTT)
	if err != nil {
		return nil, err
	}

	mqttCfg := cfg.MQTT
	mqttCfg.Broker.Host = broker.Host
	mqttCfg.Broker.Port = broker.Port
	mqttCfg.Broker.TLS = broker.TLS
	mqttCfg.Auth.Username = broker.Username
	mqttCfg.Auth.Password = broker.Password

	client, err := mqtt.Connect(mqttCfg, mqtt.DefaultConnectWait)
	if client == nil {
		return nil, err
	}
	client.SetLogger(log)
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err != nil {
		log.Warn("MQTT broker not reachable yet, retrying in background",
			"broker", fmt.Sprintf("%s:%d", broker.Host, broker.Port),
			"error", err,
		)
	} else {
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", broker.Host, broker.Port))
	}
	return client, nil
}

// rssiRecorder returns a registry listener writing every sighting to
// InfluxDB. Manual entries are not sightings and are skipped.
func rssiRecorder(client *influxdb.Client) device.Listener {
	return func(ev device.Event) {
		if ev.Device == nil || ev.Device.Source == device.SourceManual {
			return
		}
		if ev.Type != device.EventCreated && ev.Type != device.EventUpdated {
			return
		}
		client.WriteRSSI(influxdb.RSSISample{
			MAC:          ev.Device.MACAddress,
			Name:         ev.Device.Name,
			Manufacturer: ev.Device.Manufacturer,
			Source:       ev.Device.Source,
			RSSI:         ev.Device.RSSI,
			Time:         ev.Device.LastSeen,
		})
	}
}

// statusSource is the part of proxy.Manager the telemetry sampler reads.
type statusSource interface {
	Statuses() []proxy.EndpointStatus
}

// sampleProxies writes the endpoint counters every interval until ctx is
// cancelled.
func sampleProxies(ctx context.Context, src statusSource, client *influxdb.Client, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, st := range src.Statuses() {
				client.WriteProxy(influxdb.ProxySample{
					Name:           st.Name,
					Transport:      st.Transport,
					Connected:      st.Connected,
					Attempts:       st.Attempts,
					Advertisements: st.Advertisements,
					Time:           now,
				})
			}
		}
	}
}
