package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"iot-environment-server/internal/config"
	"iot-environment-server/internal/db"
	"iot-environment-server/internal/httpapi"
	"iot-environment-server/internal/migrate"
	"iot-environment-server/internal/modules/environment"
	"iot-environment-server/internal/modules/environment/publish"
	"iot-environment-server/internal/modules/environment/repository"
	"iot-environment-server/internal/mqtt"
	"iot-environment-server/internal/websocket"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"storeDriver", cfg.StoreDriver,
		"sqlitePath", cfg.SQLitePath,
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"ingestTopic", cfg.IngestTopic,
		"broadcastInterval", cfg.BroadcastInterval,
		"broadcastTopic", cfg.BroadcastTopic,
		"historyMaxBound", cfg.HistoryMaxBound,
		"historyDefaultLimit", cfg.HistoryDefaultLimit,
	)

	store, pinger, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := websocket.NewHub(cfg.BroadcastTopic, logger)
	defer hub.Close()
	channel := publish.NewFanout().Add("websocket", hub)

	var (
		mqttClient *mqtt.Client
		subscriber environment.Subscriber
		mqttState  httpapi.ConnectionState
	)
	if cfg.MQTTEnabled {
		mqttClient = mqtt.NewClient(cfg, logger)
		channel.Add("mqtt", mqttClient)
		subscriber = mqttClient
		mqttState = mqttClient
	}

	mux := httpapi.NewMux(httpapi.MuxOptions{
		DB:        pinger,
		MQTT:      mqttState,
		WebSocket: http.HandlerFunc(hub.ServeWS),
	})
	// Subscriptions are registered before Connect so the first CONNACK
	// already replays the ingest topic.
	feature, err := environment.RegisterFeature(mux, store, channel, subscriber, cfg, logger)
	if err != nil {
		return err
	}

	if mqttClient != nil {
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err = mqttClient.Connect(connectCtx)
		connectCancel()
		if err != nil {
			// paho keeps retrying in the background
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
		defer mqttClient.Disconnect()
	}

	logger.Info("broadcast channels ready", "count", channel.Len(), "topic", cfg.BroadcastTopic)
	if err := feature.Scheduler.Start(ctx); err != nil {
		return err
	}
	defer feature.Scheduler.Stop()

	srv := httpapi.NewServer(cfg, mux, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("broadcast scheduler stopping", "stats", feature.Scheduler.Stats())
	feature.Scheduler.Stop()

	logger.Info("http shutting down", "websocketClients", hub.ClientCount())
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

// openStore returns the reading store selected by cfg.StoreDriver. pinger is
// nil for the in-memory store.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.EnvironmentRepository, httpapi.Pinger, func(), error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory reading store; readings are lost on exit")
		return repository.NewMemoryRepository(), nil, func() {}, nil
	}

	dbConn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := db.Close(dbConn); err != nil {
			logger.Error("db close", "error", err)
		}
	}

	if err := migrate.Run(ctx, dbConn); err != nil {
		closeFn()
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready", "path", cfg.SQLitePath)

	return repository.NewRepository(dbConn), dbConn, closeFn, nil
}
