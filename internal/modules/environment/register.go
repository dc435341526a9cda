package environment

import (
	"log/slog"
	"net/http"

	"iot-environment-server/internal/config"
	"iot-environment-server/internal/modules/environment/controller"
	"iot-environment-server/internal/modules/environment/publish"
	"iot-environment-server/internal/modules/environment/repository"
	"iot-environment-server/internal/modules/environment/scheduler"
	"iot-environment-server/internal/modules/environment/service"
	"iot-environment-server/internal/mqtt"
)

// Subscriber attaches MQTT topic handlers.
type Subscriber interface {
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

// Feature is the wired environment module. The caller owns the scheduler
// lifecycle (Start/Stop).
type Feature struct {
	Service   *service.Service
	Scheduler *scheduler.Scheduler
	Ingestor  *Ingestor
}

// RegisterFeature wires the environment query API onto mux, builds the
// broadcast scheduler over channel, and, when subscriber is non-nil, feeds
// cfg.IngestTopic into store.
func RegisterFeature(
	mux *http.ServeMux,
	store repository.EnvironmentRepository,
	channel publish.Channel,
	subscriber Subscriber,
	cfg config.Config,
	logger *slog.Logger,
) (*Feature, error) {
	if logger == nil {
		logger = slog.Default()
	}

	svc := service.NewService(store, cfg.HistoryMaxBound)
	environmentController := controller.NewEnvironmentController(svc, cfg.HistoryDefaultLimit)
	environmentController.RegisterRoutes(mux)

	sched := scheduler.New(svc, channel, scheduler.Config{
		Interval:    cfg.BroadcastInterval,
		Topic:       cfg.BroadcastTopic,
		TickTimeout: cfg.BroadcastTickTimeout,
	}, logger)

	ingestor := NewIngestor(store, logger)
	if subscriber != nil && cfg.IngestTopic != "" {
		if err := subscriber.Subscribe(cfg.IngestTopic, ingestor.HandleMessage); err != nil {
			return nil, err
		}
	}

	return &Feature{Service: svc, Scheduler: sched, Ingestor: ingestor}, nil
}
