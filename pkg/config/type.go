package config

type MtuAPIConfig struct {
	ClockPin            int    `toml:"clock_pin"`
	DataPin             int    `toml:"data_pin"`
	BaudRate            uint32 `toml:"baud_rate"`
	Framing             string `toml:"framing"` // "7E1" or "7E2"
	PowerUpDelayMs      uint   `toml:"power_up_delay_ms"`
	FrameBitTimeoutMs   uint   `toml:"frame_bit_timeout_ms"`
	DefaultDurationSecs uint64 `toml:"default_duration_secs"`
	// Completed reads that differ are counted as corrupted. Empty accepts any.
	ExpectedMessage string `toml:"expected_message"`
	ListenAddress   string `toml:"listen_address"`
	ListenPort      int    `toml:"listen_port"`
	// USB-UART attached to the data line for comparing against the bit-banged decoder
	TapEnabled bool         `toml:"tap_enabled"`
	TapDevice  string       `toml:"tap_device"`
	LogLevel   string       `toml:"log_level"`
	Mirror     MirrorConfig `toml:"mirror"`
}

// MirrorConfig points at the Modbus TCP device receiving MTU counters.
type MirrorConfig struct {
	Enabled         bool   `toml:"enabled"`
	ModbusHost      string `toml:"modbus_host"`
	ModbusPort      int    `toml:"modbus_port"`
	SlaveID         uint8  `toml:"slave_id"`
	RegisterAddress uint16 `toml:"register_address"`
}

type MeterSimConfig struct {
	ClockPin        int    `toml:"clock_pin"`
	DataPin         int    `toml:"data_pin"`
	MeterType       string `toml:"meter_type"` // "sensus" or "neptune"
	ResponseMessage string `toml:"response_message"`
	Enabled         bool   `toml:"enabled"`
	ListenAddress   string `toml:"listen_address"`
	ListenPort      int    `toml:"listen_port"`
	LogLevel        string `toml:"log_level"`
}

type ReadCollectorConfig struct {
	MtuAPIHost   string `toml:"mtu_api_host"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	DatabasePath string `toml:"database_path"` // empty uses the data dir
	LogLevel     string `toml:"log_level"`
}
