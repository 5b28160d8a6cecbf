package controller

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"climatecloud/internal/modules/climate/ingest"
	"climatecloud/internal/modules/climate/repository"
	"climatecloud/internal/modules/climate/service"
	"climatecloud/internal/modules/climate/store"
	"climatecloud/internal/modules/climate/types"
	"climatecloud/internal/utils"
)

// Firmware bodies are a few hundred bytes.
const maxSensorBody = 64 << 10

type sensorResponse struct {
	OK      bool             `json:"ok"`
	Changed bool             `json:"changed"`
	Kind    types.ChangeKind `json:"kind"`
	Latest  types.Reading    `json:"latest"`
}

type latestResponse struct {
	OK      bool           `json:"ok"`
	HasData bool           `json:"hasData"`
	Latest  *types.Reading `json:"latest"`
}

type historyResponse struct {
	OK       bool            `json:"ok"`
	Count    int             `json:"count"`
	Capacity int             `json:"capacity"`
	Order    string          `json:"order"`
	History  []types.Reading `json:"history"`
}

type readingsResponse struct {
	OK       bool            `json:"ok"`
	Count    int             `json:"count"`
	Readings []types.Reading `json:"readings"`
}

type changesResponse struct {
	OK      bool           `json:"ok"`
	Count   int            `json:"count"`
	Changes []types.Change `json:"changes"`
}

func (c *climateControllerImpl) handleSensor(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSensorBody))
	if err != nil {
		c.service.RecordInvalid(service.TransportHTTP)
		utils.WriteError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}

	reading, err := ingest.Decode(body)
	if err != nil {
		c.service.RecordInvalid(service.TransportHTTP)
		slog.Warn("rejected sensor payload", "error", err, "remote", r.RemoteAddr)
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := c.service.Record(r.Context(), service.TransportHTTP, reading)
	if err != nil {
		if errors.Is(err, store.ErrInvalidReading) {
			utils.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("record reading failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to record reading")
		return
	}

	utils.WriteJSON(w, http.StatusOK, sensorResponse{
		OK:      true,
		Changed: res.Changed,
		Kind:    res.Kind,
		Latest:  res.Latest,
	})
}

func (c *climateControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	resp := latestResponse{OK: true}
	if latest, ok := c.service.Latest(); ok {
		resp.HasData = true
		resp.Latest = &latest
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (c *climateControllerImpl) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, order := parseHistoryQuery(r, c.service.DefaultLimit(), c.service.Capacity())

	history := c.service.History(limit)
	if order == orderDesc {
		slices.Reverse(history)
	}

	utils.WriteJSON(w, http.StatusOK, historyResponse{
		OK:       true,
		Count:    len(history),
		Capacity: c.service.Capacity(),
		Order:    order,
		History:  history,
	})
}

func (c *climateControllerImpl) handleReadings(w http.ResponseWriter, r *http.Request) {
	if !c.service.HasDurable() {
		utils.WriteError(w, http.StatusServiceUnavailable, "no durable backend configured")
		return
	}

	limit, err := parseReadingsQuery(r, c.service.DefaultLimit())
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := c.service.Query(r.Context(), limit)
	if err != nil {
		slog.Error("durable query failed", "limit", limit, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrPersistenceUnavailable) {
			status = http.StatusServiceUnavailable
		}
		utils.WriteError(w, status, "failed to load readings")
		return
	}

	utils.WriteJSON(w, http.StatusOK, readingsResponse{
		OK:       true,
		Count:    len(readings),
		Readings: readings,
	})
}

func (c *climateControllerImpl) handleChanges(w http.ResponseWriter, r *http.Request) {
	if !c.service.HasDurable() {
		utils.WriteError(w, http.StatusServiceUnavailable, "no durable backend configured")
		return
	}
	limit, err := parseReadingsQuery(r, c.service.DefaultLimit())
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	changes, err := c.service.QueryChanges(r.Context(), limit)
	if err != nil {
		slog.Error("change log query failed", "limit", limit, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrPersistenceUnavailable) {
			status = http.StatusServiceUnavailable
		}
		utils.WriteError(w, status, "failed to load changes")
		return
	}
	utils.WriteJSON(w, http.StatusOK, changesResponse{
		OK:      true,
		Count:   len(changes),
		Changes: changes,
	})
}
