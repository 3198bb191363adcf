package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/water_meter_mtu/pkg/framing"
	"github.com/NotCoffee418/water_meter_mtu/pkg/meter"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtu"
	"github.com/NotCoffee418/water_meter_mtu/pkg/mtuutils"
	"github.com/NotCoffee418/water_meter_mtu/pkg/pathing"
)

var ErrConfig = errors.New("invalid config")

var (
	ActiveMtuAPIConfig        *MtuAPIConfig
	ActiveMeterSimConfig      *MeterSimConfig
	ActiveReadCollectorConfig *ReadCollectorConfig
)

func DefaultMtuAPIConfig() *MtuAPIConfig {
	return &MtuAPIConfig{
		ClockPin:            17,
		DataPin:             27,
		BaudRate:            mtu.DefaultBaudRate,
		Framing:             framing.SevenE1.String(),
		PowerUpDelayMs:      uint(mtuutils.DurationToMs(mtu.DefaultPowerUpDelay)),
		FrameBitTimeoutMs:   uint(mtuutils.DurationToMs(mtu.DefaultFrameBitTimeout)),
		DefaultDurationSecs: mtu.DefaultDurationSecs,
		ExpectedMessage:     mtu.DefaultExpectedMessage,
		ListenAddress:       "0.0.0.0",
		ListenPort:          9040,
		TapEnabled:          false,
		TapDevice:           "/dev/ttyUSB0",
		LogLevel:            "info",
		Mirror: MirrorConfig{
			Enabled:         false,
			ModbusHost:      "192.168.200.1",
			ModbusPort:      502,
			SlaveID:         1,
			RegisterAddress: 100,
		},
	}
}

func DefaultMeterSimConfig() *MeterSimConfig {
	return &MeterSimConfig{
		ClockPin:        22,
		DataPin:         23,
		MeterType:       "sensus",
		ResponseMessage: meter.DefaultMessage,
		Enabled:         true,
		ListenAddress:   "0.0.0.0",
		ListenPort:      9041,
		LogLevel:        "info",
	}
}

func DefaultReadCollectorConfig() *ReadCollectorConfig {
	return &ReadCollectorConfig{
		MtuAPIHost: "localhost:9040",
		TLSEnabled: false,
		LogLevel:   "info",
	}
}

func LoadMtuAPIConfig() error {
	cfg, err := LoadMtuAPIConfigFrom(filepath.Join(pathing.GetConfigDir(), "mtu_api.toml"))
	if err != nil {
		return err
	}
	ActiveMtuAPIConfig = cfg
	return nil
}

func LoadMeterSimConfig() error {
	cfg, err := LoadMeterSimConfigFrom(filepath.Join(pathing.GetConfigDir(), "meter_sim.toml"))
	if err != nil {
		return err
	}
	ActiveMeterSimConfig = cfg
	return nil
}

func LoadReadCollectorConfig() error {
	cfg, err := LoadReadCollectorConfigFrom(filepath.Join(pathing.GetConfigDir(), "read_collector.toml"))
	if err != nil {
		return err
	}
	ActiveReadCollectorConfig = cfg
	return nil
}

func LoadMtuAPIConfigFrom(path string) (*MtuAPIConfig, error) {
	cfg := DefaultMtuAPIConfig()
	if err := loadOrCreate(path, cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.MtuConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadMeterSimConfigFrom(path string) (*MeterSimConfig, error) {
	cfg := DefaultMeterSimConfig()
	if err := loadOrCreate(path, cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.MeterConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadReadCollectorConfigFrom(path string) (*ReadCollectorConfig, error) {
	cfg := DefaultReadCollectorConfig()
	if err := loadOrCreate(path, cfg); err != nil {
		return nil, err
	}
	if cfg.MtuAPIHost == "" {
		return nil, fmt.Errorf("%w: mtu_api_host is required", ErrConfig)
	}
	return cfg, nil
}

// loadOrCreate writes cfg as the default file when path does not exist,
// otherwise decodes the file over cfg. Keys missing from the file keep their
// default values.
func loadOrCreate(path string, cfg any) error {
	// Create default if not exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfgFile, err := os.Create(path)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		return toml.NewEncoder(cfgFile).Encode(cfg)
	}

	// Load existing config
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfig, path, err)
	}
	return nil
}

// MtuConfig converts the file settings into the runtime MTU configuration.
func (c *MtuAPIConfig) MtuConfig() (mtu.Config, error) {
	v, err := framing.ParseVariant(c.Framing)
	if err != nil {
		return mtu.Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	cfg := mtu.Config{
		BaudRate:        c.BaudRate,
		PowerUpDelay:    mtuutils.MsToDuration(int64(c.PowerUpDelayMs)),
		FrameBitTimeout: mtuutils.MsToDuration(int64(c.FrameBitTimeoutMs)),
		Framing:         v,
		ExpectedMessage: c.ExpectedMessage,
	}
	if err := cfg.Validate(); err != nil {
		return mtu.Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if c.ClockPin == c.DataPin {
		return mtu.Config{}, fmt.Errorf("%w: clock and data pin are both %d", ErrConfig, c.ClockPin)
	}
	return cfg, nil
}

func (c *MeterSimConfig) MeterConfig() (meter.Config, error) {
	t, err := meter.ParseMeterType(c.MeterType)
	if err != nil {
		return meter.Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := framing.ValidateMessage(c.ResponseMessage, t.Variant()); err != nil {
		return meter.Config{}, fmt.Errorf("%w: response_message: %w", ErrConfig, err)
	}
	if c.ClockPin == c.DataPin {
		return meter.Config{}, fmt.Errorf("%w: clock and data pin are both %d", ErrConfig, c.ClockPin)
	}
	return meter.Config{
		Type:    t,
		Message: c.ResponseMessage,
		Enabled: c.Enabled,
	}, nil
}
