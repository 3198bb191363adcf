package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/meter"
)

type api struct {
	handler *meter.Handler
}

type statusResponse struct {
	Enabled         bool   `json:"enabled"`
	State           string `json:"state"`
	MeterType       string `json:"meter_type"`
	Description     string `json:"description"`
	Message         string `json:"message"`
	PulseCount      uint64 `json:"pulse_count"`
	BitsTransmitted uint64 `json:"bits_transmitted"`
	MessagesSent    uint64 `json:"messages_sent"`
	Transmitting    bool   `json:"transmitting"`
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("POST /enable", func(w http.ResponseWriter, r *http.Request) {
		a.handler.Enable()
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
	})
	mux.HandleFunc("POST /disable", func(w http.ResponseWriter, r *http.Request) {
		a.handler.Disable()
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
	})
	mux.HandleFunc("POST /type", a.handleType)
	mux.HandleFunc("POST /message", a.handleMessage)
	mux.HandleFunc("POST /reset", func(w http.ResponseWriter, r *http.Request) {
		a.handler.ResetStats()
		writeJSON(w, http.StatusOK, map[string]string{"status": "statistics reset"})
	})
	return mux
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := a.handler.GetConfig()
	stats := a.handler.GetStats()
	writeJSON(w, http.StatusOK, statusResponse{
		Enabled:         cfg.Enabled,
		State:           a.handler.State().String(),
		MeterType:       cfg.Type.String(),
		Description:     cfg.Type.Description(),
		Message:         cfg.Message,
		PulseCount:      stats.PulseCount,
		BitsTransmitted: stats.BitsTransmitted,
		MessagesSent:    stats.MessagesSent,
		Transmitting:    stats.Transmitting,
	})
}

func (a *api) handleType(w http.ResponseWriter, r *http.Request) {
	t, err := meter.ParseMeterType(r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.handler.SetType(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"meter_type":  t.String(),
		"description": t.Description(),
	})
}

// handleMessage takes the raw reply as the request body. The carriage return
// terminator is not added.
func (a *api) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, framing.MaxMessageLen+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}
	if err := a.handler.SetMessage(string(body)); err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, meter.ErrConfig) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"length": len(body)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
