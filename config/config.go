// Package config loads client and server settings from files and
// environment variables, exposing them as the typed configuration the
// rest of the module consumes.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fieldkit/modbus/modbus"
)

// ConnectionConfig holds the client-side connection settings: framing,
// timeouts, reconnect backoff, retries, and the local bind address.
type ConnectionConfig struct {
	Address             string `mapstructure:"address"`
	Port                int    `mapstructure:"port"`
	TransportType       string `mapstructure:"transport_type"` // tcp, tls, udp, rtu, ascii
	SourceAddress       string `mapstructure:"source_address"`
	TimeoutMs           int    `mapstructure:"timeout_ms"`
	ConnectTimeoutMs    int    `mapstructure:"connect_timeout_ms"`
	RetryCount          int    `mapstructure:"retry_count"`
	RetryDelayMs        int    `mapstructure:"retry_delay_ms"`
	ReconnectDelayMs    int    `mapstructure:"reconnect_delay_ms"`
	ReconnectDelayMaxMs int    `mapstructure:"reconnect_delay_max_ms"`
}

// GetFullAddress returns the full address string (host:port).
func (c *ConnectionConfig) GetFullAddress() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// GetTimeout returns the request timeout as a time.Duration.
func (c *ConnectionConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// GetConnectTimeout returns the connection timeout as a time.Duration.
func (c *ConnectionConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// GetTransportType maps the configured framing name onto the transport
// enum; unknown names fall back to TCP.
func (c *ConnectionConfig) GetTransportType() modbus.TransportType {
	switch strings.ToLower(c.TransportType) {
	case "rtu":
		return modbus.TransportRTU
	case "ascii":
		return modbus.TransportASCII
	case "udp":
		return modbus.TransportUDP
	default:
		// tcp and tls both ride the TCP transport; TLS is selected by
		// supplying a tls.Config, not by transport type.
		return modbus.TransportTCP
	}
}

// SerialConfig holds the serial line parameters for RTU and ASCII
// framings, consumed by transport.NewSerialConfig.
type SerialConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
}

// ModbusConfig holds protocol-level settings.
type ModbusConfig struct {
	UnitID     int `mapstructure:"unit_id"`
	ProtocolID int `mapstructure:"protocol_id"`
}

// GetUnitID returns the unit id as a modbus.SlaveID.
func (m *ModbusConfig) GetUnitID() modbus.SlaveID {
	return modbus.SlaveID(m.UnitID)
}

// ServerConfig holds the server-side policy flags.
type ServerConfig struct {
	ListenAddress        string `mapstructure:"listen_address"`
	BroadcastEnable      bool   `mapstructure:"broadcast_enable"`
	IgnoreMissingDevices bool   `mapstructure:"ignore_missing_devices"`
	MaxConnections       uint   `mapstructure:"max_connections"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Verbose bool   `mapstructure:"verbose"`
}

// Config is the complete loadable configuration.
type Config struct {
	Connection ConnectionConfig `mapstructure:"connection"`
	Serial     SerialConfig     `mapstructure:"serial"`
	Modbus     ModbusConfig     `mapstructure:"modbus"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ClientConfig projects the loaded settings onto the client configuration
// record the root package consumes.
func (c *Config) ClientConfig() *modbus.ClientConfig {
	return &modbus.ClientConfig{
		SlaveID:           c.Modbus.GetUnitID(),
		Timeout:           c.Connection.GetTimeout(),
		RetryCount:        c.Connection.RetryCount,
		RetryDelay:        time.Duration(c.Connection.RetryDelayMs) * time.Millisecond,
		ConnectTimeout:    c.Connection.GetConnectTimeout(),
		ReconnectDelay:    time.Duration(c.Connection.ReconnectDelayMs) * time.Millisecond,
		ReconnectDelayMax: time.Duration(c.Connection.ReconnectDelayMaxMs) * time.Millisecond,
		TransportType:     c.Connection.GetTransportType(),
	}
}

// DefaultConfig returns the configuration used when no file and no
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Address:             "localhost",
			Port:                modbus.TCPDefaultPort,
			TransportType:       "tcp",
			TimeoutMs:           modbus.DefaultResponseTimeout,
			ConnectTimeoutMs:    modbus.DefaultConnectTimeout,
			RetryCount:          3,
			RetryDelayMs:        100,
			ReconnectDelayMs:    100,
			ReconnectDelayMaxMs: 30000,
		},
		Serial: SerialConfig{
			BaudRate: 19200,
			DataBits: 8,
			StopBits: 1,
			Parity:   "E",
		},
		Modbus: ModbusConfig{
			UnitID:     1,
			ProtocolID: 0,
		},
		Server: ServerConfig{
			ListenAddress:   ":502",
			BroadcastEnable: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
