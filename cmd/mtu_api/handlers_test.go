package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/gpio"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtu"
	"github.com/NotCoffee418/water_meter_mtu/pkg/readfeed"
	"github.com/NotCoffee418/water_meter_mtu/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*api, *gpio.FakePin) {
	t.Helper()
	cfg := mtu.DefaultConfig()
	cfg.PowerUpDelay = time.Millisecond
	clock := gpio.NewFakePin(gpio.High)
	s, err := mtu.New(clock, gpio.NewFakePin(gpio.Low), mtu.NewTickerTimer(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Serve(ctx)

	return &api{session: s, hub: readfeed.NewHub(), defaultDuration: 1}, clock
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	return doBody(t, h, method, target, "")
}

func doBody(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestStatus(t *testing.T) {
	a, _ := newTestAPI(t)
	rec := do(t, a.routes(), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Running)
	assert.Equal(t, "Idle", resp.State)
	assert.Equal(t, uint32(mtu.DefaultBaudRate), resp.BaudRate)
	assert.Equal(t, "7E1", resp.Framing)
	assert.Nil(t, resp.LastMessage)
	assert.Zero(t, resp.FeedClients)
}

func TestExpected(t *testing.T) {
	a, _ := newTestAPI(t)
	mux := a.routes()

	assert.Equal(t, http.StatusOK, doBody(t, mux, http.MethodPost, "/expected", "OK\r").Code)
	assert.Equal(t, "OK\r", a.session.Config().ExpectedMessage)

	assert.Equal(t, http.StatusBadRequest, doBody(t, mux, http.MethodPost, "/expected", strings.Repeat("x", 300)).Code)
	assert.Equal(t, "OK\r", a.session.Config().ExpectedMessage)

	assert.Equal(t, http.StatusOK, doBody(t, mux, http.MethodPost, "/expected", "").Code)
	assert.Empty(t, a.session.Config().ExpectedMessage)
}

func TestBaudAndFraming(t *testing.T) {
	a, _ := newTestAPI(t)
	mux := a.routes()

	rec := do(t, mux, http.MethodPost, "/baud?rate=2400")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint32(2400), a.session.GetBaudRate())

	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/baud?rate=0").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/baud?rate=fast").Code)

	assert.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/framing?name=7e2").Code)
	assert.Equal(t, "7E2", a.session.Config().Framing.String())
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/framing?name=8N1").Code)
}

func TestStartStop(t *testing.T) {
	a, clock := newTestAPI(t)
	mux := a.routes()

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, mux, http.MethodGet, "/start").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/start?duration=soon").Code)

	rec := do(t, mux, http.MethodPost, "/start?duration=5")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, a.session.IsRunning, time.Second, time.Millisecond)

	// Baud changes are refused while running.
	assert.Equal(t, http.StatusConflict, do(t, mux, http.MethodPost, "/baud?rate=2400").Code)

	assert.Equal(t, http.StatusAccepted, do(t, mux, http.MethodPost, "/stop").Code)
	assert.Eventually(t, func() bool { return !a.session.IsRunning() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, gpio.Low, clock.Current())
}

func TestStartWhileRunning(t *testing.T) {
	a, clock := newTestAPI(t)
	mux := a.routes()

	require.Equal(t, http.StatusAccepted, do(t, mux, http.MethodPost, "/start?duration=5").Code)
	require.Eventually(t, a.session.IsRunning, time.Second, time.Millisecond)

	assert.Equal(t, http.StatusConflict, do(t, mux, http.MethodPost, "/start?duration=5").Code)

	require.Equal(t, http.StatusAccepted, do(t, mux, http.MethodPost, "/stop").Code)
	require.Eventually(t, func() bool { return !a.session.IsRunning() }, 2*time.Second, 5*time.Millisecond)

	// Nothing queued behind the stop may power the meter up again.
	assert.Never(t, a.session.IsRunning, 500*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, gpio.Low, clock.Current())
	assert.Equal(t, "Idle", a.session.State().String())
}

func TestStartDurationBounds(t *testing.T) {
	a, _ := newTestAPI(t)
	mux := a.routes()

	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/start?duration=18446744073709551615").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/start?duration=86401").Code)
	assert.False(t, a.session.IsRunning())
	assert.Equal(t, mtu.Stats{}, a.session.GetStats())
}

func TestLatest(t *testing.T) {
	a, _ := newTestAPI(t)
	mux := a.routes()

	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/latest").Code)

	a.hub.Broadcast(&types.ReadEvent{Timestamp: "2026-03-01T12:00:00Z", Source: types.SourceMtu, Message: "OK\r"})
	rec := do(t, mux, http.MethodGet, "/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	ev := types.ReadEventFromJsonBytes(rec.Body.Bytes())
	require.NotNil(t, ev)
	assert.Equal(t, "OK\r", ev.Message)
}

func TestReset(t *testing.T) {
	a, _ := newTestAPI(t)
	mux := a.routes()
	assert.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/reset").Code)
	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/nope").Code)
	assert.Equal(t, http.StatusOK, do(t, mux, http.MethodGet, "/").Code)
}
