package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional file (any format viper
// supports: JSON, YAML, TOML), overridable by MODBUS_-prefixed
// environment variables, on top of DefaultConfig(). An empty configPath
// is not an error; the defaults and environment alone apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MODBUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("connection.address", def.Connection.Address)
	v.SetDefault("connection.port", def.Connection.Port)
	v.SetDefault("connection.transport_type", def.Connection.TransportType)
	v.SetDefault("connection.source_address", def.Connection.SourceAddress)
	v.SetDefault("connection.timeout_ms", def.Connection.TimeoutMs)
	v.SetDefault("connection.connect_timeout_ms", def.Connection.ConnectTimeoutMs)
	v.SetDefault("connection.retry_count", def.Connection.RetryCount)
	v.SetDefault("connection.retry_delay_ms", def.Connection.RetryDelayMs)
	v.SetDefault("connection.reconnect_delay_ms", def.Connection.ReconnectDelayMs)
	v.SetDefault("connection.reconnect_delay_max_ms", def.Connection.ReconnectDelayMaxMs)
	v.SetDefault("serial.port", def.Serial.Port)
	v.SetDefault("serial.baud_rate", def.Serial.BaudRate)
	v.SetDefault("serial.data_bits", def.Serial.DataBits)
	v.SetDefault("serial.stop_bits", def.Serial.StopBits)
	v.SetDefault("serial.parity", def.Serial.Parity)
	v.SetDefault("modbus.unit_id", def.Modbus.UnitID)
	v.SetDefault("modbus.protocol_id", def.Modbus.ProtocolID)
	v.SetDefault("server.listen_address", def.Server.ListenAddress)
	v.SetDefault("server.broadcast_enable", def.Server.BroadcastEnable)
	v.SetDefault("server.ignore_missing_devices", def.Server.IgnoreMissingDevices)
	v.SetDefault("server.max_connections", def.Server.MaxConnections)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.verbose", def.Logging.Verbose)
}
