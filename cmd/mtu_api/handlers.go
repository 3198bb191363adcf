package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtu"
	"github.com/NotCoffee418/water_meter_mtu/pkg/readfeed"
	"github.com/NotCoffee418/water_meter_mtu/pkg/uarttap"
)

type api struct {
	session         *mtu.Session
	hub             *readfeed.Hub
	tap             *uarttap.Tap // nil unless the tap is enabled
	defaultDuration uint64
}

type statusResponse struct {
	Running         bool    `json:"running"`
	State           string  `json:"state"`
	BaudRate        uint32  `json:"baud_rate"`
	Framing         string  `json:"framing"`
	SuccessfulReads uint32  `json:"successful_reads"`
	CorruptedReads  uint32  `json:"corrupted_reads"`
	SuccessRate     float64 `json:"success_rate"`
	ClockCycles     uint64  `json:"clock_cycles"`
	FrameErrors     uint64  `json:"frame_errors"`
	ExpectedMessage string  `json:"expected_message"`
	LastMessage     *string `json:"last_message"`
	TapMessage      *string `json:"tap_message,omitempty"`
	FeedClients     int     `json:"feed_clients"`
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Water Meter MTU API",
			"status":  "running",
		})
	})

	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("POST /start", a.handleStart)
	mux.HandleFunc("POST /stop", a.handleStop)
	mux.HandleFunc("POST /baud", a.handleBaud)
	mux.HandleFunc("POST /framing", a.handleFraming)
	mux.HandleFunc("POST /expected", a.handleExpected)
	mux.HandleFunc("POST /reset", func(w http.ResponseWriter, r *http.Request) {
		a.session.ResetStats()
		writeJSON(w, http.StatusOK, map[string]string{"status": "statistics reset"})
	})

	mux.HandleFunc("GET /latest", func(w http.ResponseWriter, r *http.Request) {
		ev := a.hub.Latest()
		if ev == nil {
			writeError(w, http.StatusNotFound, "No reads available yet")
			return
		}
		writeJSON(w, http.StatusOK, ev)
	})

	mux.HandleFunc("GET /ws", a.hub.ServeWS)
	return mux
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := a.session.Config()
	stats := a.session.GetStats()

	resp := statusResponse{
		Running:         a.session.IsRunning(),
		State:           a.session.State().String(),
		BaudRate:        cfg.BaudRate,
		Framing:         cfg.Framing.String(),
		SuccessfulReads: stats.SuccessfulReads,
		CorruptedReads:  stats.CorruptedReads,
		SuccessRate:     stats.SuccessRate(),
		ClockCycles:     stats.ClockCycles,
		FrameErrors:     a.session.FrameErrors(),
		ExpectedMessage: cfg.ExpectedMessage,
		FeedClients:     a.hub.ClientCount(),
	}
	if msg, ok := a.session.GetLastMessage(); ok {
		resp.LastMessage = &msg
	}
	if a.tap != nil {
		if c := a.tap.GetLatestCapture(); c != nil {
			resp.TapMessage = &c.Message
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStart refuses a second read while one is running, like handleBaud.
func (a *api) handleStart(w http.ResponseWriter, r *http.Request) {
	if a.session.IsRunning() {
		writeError(w, http.StatusConflict, "MTU is already running, stop it first")
		return
	}
	duration := a.defaultDuration
	if raw := r.URL.Query().Get("duration"); raw != "" {
		secs, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || secs > mtu.MaxDurationSecs {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("duration must be a whole number of seconds up to %d", mtu.MaxDurationSecs))
			return
		}
		duration = secs
	}

	if err := a.session.Send(mtu.Start{DurationSecs: duration}); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":        "started",
		"duration_secs": duration,
	})
}

func (a *api) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := a.session.Send(mtu.Stop{}); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// handleBaud only changes the rate while no read is running.
func (a *api) handleBaud(w http.ResponseWriter, r *http.Request) {
	if a.session.IsRunning() {
		writeError(w, http.StatusConflict, "MTU is running, stop it before changing the baud rate")
		return
	}
	rate, err := strconv.ParseUint(r.URL.Query().Get("rate"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "rate must be a positive integer")
		return
	}
	if err := a.session.SetBaudRate(uint32(rate)); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"baud_rate": a.session.GetBaudRate()})
}

func (a *api) handleFraming(w http.ResponseWriter, r *http.Request) {
	if a.session.IsRunning() {
		writeError(w, http.StatusConflict, "MTU is running, stop it before changing the framing")
		return
	}
	v, err := framing.ParseVariant(r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.session.SetFraming(v)
	writeJSON(w, http.StatusOK, map[string]string{"framing": v.String()})
}

// handleExpected takes the expected reply as the request body. An empty body
// accepts any completed message.
func (a *api) handleExpected(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, framing.MaxMessageLen+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.session.SetExpectedMessage(string(body)); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"expected_message": string(body)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps session errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mtu.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, mtu.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, mtu.ErrChannel):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
