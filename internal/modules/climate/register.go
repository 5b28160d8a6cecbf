package climate

import (
	"log/slog"
	"net/http"

	"climatecloud/internal/config"
	"climatecloud/internal/metrics"
	"climatecloud/internal/modules/climate/controller"
	"climatecloud/internal/modules/climate/policy"
	"climatecloud/internal/modules/climate/repository"
	"climatecloud/internal/modules/climate/service"
	"climatecloud/internal/modules/climate/store"
	"climatecloud/internal/mqtt"
)

// Deps are the optional collaborators of the climate service. Zero values
// mean memory only, no metrics registry and the default logger.
type Deps struct {
	Durable   repository.Persistence
	Persister *service.Persister
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// NewService builds the change policy and the reading store from cfg.
func NewService(cfg config.Config, deps Deps) (*service.Service, error) {
	pol, err := policy.New(policy.Thresholds{
		Temperature: cfg.ChangeThresholdTemperature,
		Humidity:    cfg.ChangeThresholdHumidity,
	})
	if err != nil {
		return nil, err
	}
	st, err := store.New(store.Options{
		Capacity:        cfg.HistoryCapacity,
		DefaultLimit:    cfg.HistoryDefaultLimit,
		Policy:          &pol,
		DefaultSourceID: cfg.DefaultSourceID,
	})
	if err != nil {
		return nil, err
	}
	return service.NewService(service.Options{
		Store:     st,
		Persister: deps.Persister,
		Durable:   deps.Durable,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
	}), nil
}

// RegisterFeature mounts the HTTP routes and, when sub is non-nil, routes
// MQTT readings into the same service. Set the handlers before the
// subscriber connects so retained messages are not missed.
func RegisterFeature(mux *http.ServeMux, svc *service.Service, sub mqtt.MQTTSubscriber) {
	controller.NewClimateController(svc).RegisterRoutes(mux)
	if sub != nil {
		svc.RegisterMQTT(sub)
	}
}
