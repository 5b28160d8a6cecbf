package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"climatecloud/internal/config"
	"climatecloud/internal/db"
	"climatecloud/internal/httpapi"
	"climatecloud/internal/kafkaio"
	"climatecloud/internal/metrics"
	"climatecloud/internal/migrate"
	"climatecloud/internal/modules/climate"
	"climatecloud/internal/modules/climate/ingest"
	"climatecloud/internal/modules/climate/repository"
	"climatecloud/internal/modules/climate/service"
	"climatecloud/internal/mqtt"
)

const (
	mqttConnectTimeout = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
)

func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"historyCapacity", cfg.HistoryCapacity,
		"historyDefaultLimit", cfg.HistoryDefaultLimit,
		"thresholdTemperature", cfg.ChangeThresholdTemperature,
		"thresholdHumidity", cfg.ChangeThresholdHumidity,
		"persistenceBackend", cfg.PersistenceBackend,
		"sqlitePath", cfg.SQLitePath,
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
		"kafkaBrokers", cfg.KafkaBrokers,
	)

	m := metrics.New(prometheus.DefaultRegisterer)

	var (
		durable repository.Persistence
		pinger  httpapi.Pinger
	)
	if cfg.SQLiteEnabled() {
		dbConn, err := db.Open(ctx, cfg, slog.Default())
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := db.Close(dbConn); closeErr != nil {
				slog.Error("db close", "error", closeErr)
			}
		}()

		applied, err := migrate.Run(ctx, dbConn)
		if err != nil {
			return err
		}
		slog.Info("database ready", "path", cfg.SQLitePath, "migrationsApplied", applied)

		durable = repository.NewRepository(dbConn)
		pinger = dbConn
	}

	var sink service.ChangeSink
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := kafkaio.NewChangePublisher(cfg.KafkaBrokers, cfg.KafkaChangesTopic, slog.Default())
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := pub.Close(); closeErr != nil {
				slog.Error("kafka close", "error", closeErr)
			}
		}()
		sink = pub
	}

	var persister *service.Persister
	if durable != nil || sink != nil {
		persister = service.NewPersister(service.PersisterOptions{
			Backend:      durable,
			Sink:         sink,
			QueueSize:    cfg.PersistQueueSize,
			WriteTimeout: cfg.PersistWriteTimeout,
			MaxAttempts:  cfg.PersistMaxAttempts,
			Backoff:      100 * time.Millisecond,
			Metrics:      m,
			Logger:       slog.Default(),
		})
		// Deferred after the kafka and db closers so it drains first.
		defer func() {
			drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := persister.Close(drainCtx); err != nil {
				slog.Error("persister drain", "error", err)
			}
		}()
	}

	svc, err := climate.NewService(cfg, climate.Deps{
		Durable:   durable,
		Persister: persister,
		Metrics:   m,
		Logger:    slog.Default(),
	})
	if err != nil {
		return err
	}

	mux := httpapi.NewMux(httpapi.MuxOptions{
		DB:       pinger,
		Backend:  cfg.PersistenceBackend,
		Gatherer: prometheus.DefaultGatherer,
	})

	// Handlers are installed before Connect; the broker may deliver
	// retained messages right after CONNACK.
	var subscriber *mqtt.Subscriber
	if cfg.MQTTEnabled {
		subscriber = mqtt.NewSubscriber(mqtt.SubscriberOptions{
			Options: mqtt.Options{
				Broker:   cfg.MQTTBroker,
				Port:     cfg.MQTTPort,
				ClientID: cfg.MQTTClientID,
			},
			Topic:  cfg.MQTTTopic,
			QoS:    1,
			Decode: ingest.Decode,
		}, slog.Default())
		climate.RegisterFeature(mux, svc, subscriber)

		connectCtx, connectCancel := context.WithTimeout(ctx, mqttConnectTimeout)
		err = subscriber.Connect(connectCtx)
		connectCancel()
		if err != nil {
			// the client keeps retrying in the background
			slog.Warn("mqtt not connected yet, continuing with http only", "error", err)
		}
	} else {
		climate.RegisterFeature(mux, svc, nil)
	}

	srv := httpapi.NewServer(httpapi.ServerOptions{
		Addr:               cfg.HTTPAddr,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:            m,
	}, mux)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if subscriber != nil {
			subscriber.Disconnect()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if subscriber != nil {
		slog.Info("mqtt disconnecting")
		subscriber.Disconnect()
	}

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
