package controller

import (
	"net/http"

	"climatecloud/internal/modules/climate/service"
	"climatecloud/internal/utils"
)

type ClimateController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type climateControllerImpl struct {
	service *service.Service
}

func NewClimateController(svc *service.Service) ClimateController {
	return &climateControllerImpl{service: svc}
}

func (c *climateControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sensor", c.handleSensor)
	mux.HandleFunc("GET /api/latest", c.handleLatest)
	mux.HandleFunc("GET /api/history", c.handleHistory)
	mux.HandleFunc("GET /api/readings", c.handleReadings)
	mux.HandleFunc("GET /api/changes", c.handleChanges)

	// Method-less patterns catch every other method so the 405 is JSON too.
	mux.HandleFunc("/api/sensor", methodNotAllowed(http.MethodPost))
	mux.HandleFunc("/api/latest", methodNotAllowed(http.MethodGet, http.MethodHead))
	mux.HandleFunc("/api/history", methodNotAllowed(http.MethodGet, http.MethodHead))
	mux.HandleFunc("/api/readings", methodNotAllowed(http.MethodGet, http.MethodHead))
	mux.HandleFunc("/api/changes", methodNotAllowed(http.MethodGet, http.MethodHead))
}

func methodNotAllowed(allowed ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.WriteMethodNotAllowed(w, r, allowed...)
	}
}
