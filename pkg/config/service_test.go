package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/meter"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMtuAPIConfig_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mtu_api.toml")

	cfg, err := LoadMtuAPIConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultMtuAPIConfig(), cfg)
	assert.FileExists(t, path)

	// Second load reads the file back, including the escaped terminator.
	again, err := LoadMtuAPIConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
	assert.Equal(t, mtu.DefaultExpectedMessage, again.ExpectedMessage)

	rt, err := again.MtuConfig()
	require.NoError(t, err)
	assert.Equal(t, mtu.DefaultConfig(), rt)
}

func TestLoadMtuAPIConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mtu_api.toml")
	require.NoError(t, os.WriteFile(path, []byte("baud_rate = 2400\nframing = \"7E2\"\n\n[mirror]\nenabled = true\n"), 0644))

	cfg, err := LoadMtuAPIConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(2400), cfg.BaudRate)
	assert.True(t, cfg.Mirror.Enabled)
	assert.Equal(t, 502, cfg.Mirror.ModbusPort)

	rt, err := cfg.MtuConfig()
	require.NoError(t, err)
	assert.Equal(t, framing.SevenE2, rt.Framing)
	assert.Equal(t, 10*time.Millisecond, rt.PowerUpDelay)
}

func TestLoadMtuAPIConfig_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("baud_rate = 0\n"), 0644))
	_, err := LoadMtuAPIConfigFrom(bad)
	assert.ErrorIs(t, err, ErrConfig)
	assert.ErrorIs(t, err, mtu.ErrConfig)

	framingErr := filepath.Join(dir, "framing.toml")
	require.NoError(t, os.WriteFile(framingErr, []byte("framing = \"8N1\"\n"), 0644))
	_, err = LoadMtuAPIConfigFrom(framingErr)
	assert.ErrorIs(t, err, framing.ErrUnknownVariant)

	syntax := filepath.Join(dir, "syntax.toml")
	require.NoError(t, os.WriteFile(syntax, []byte("baud_rate = \n"), 0644))
	_, err = LoadMtuAPIConfigFrom(syntax)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadMeterSimConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meter_sim.toml")
	require.NoError(t, os.WriteFile(path, []byte("meter_type = \"Neptune\"\nresponse_message = \"OK\\r\"\n"), 0644))

	cfg, err := LoadMeterSimConfigFrom(path)
	require.NoError(t, err)

	mc, err := cfg.MeterConfig()
	require.NoError(t, err)
	assert.Equal(t, meter.Neptune, mc.Type)
	assert.Equal(t, "OK\r", mc.Message)
	assert.True(t, mc.Enabled)
}

func TestLoadReadCollectorConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "read_collector.toml")
	cfg, err := LoadReadCollectorConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9040", cfg.MtuAPIHost)

	require.NoError(t, os.WriteFile(path, []byte("mtu_api_host = \"\"\n"), 0644))
	_, err = LoadReadCollectorConfigFrom(path)
	assert.ErrorIs(t, err, ErrConfig)
}
