package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldkit/modbus/modbus"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Connection.Address)
	assert.Equal(t, modbus.TCPDefaultPort, cfg.Connection.Port)
	assert.Equal(t, 3, cfg.Connection.RetryCount)
	assert.Equal(t, modbus.TransportTCP, cfg.Connection.GetTransportType())
	assert.True(t, cfg.Server.BroadcastEnable)
}

func TestLoadFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modbus.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"connection": {
			"address": "10.0.0.5",
			"port": 1502,
			"transport_type": "rtu",
			"timeout_ms": 250,
			"retry_count": 1
		},
		"serial": {
			"port": "/dev/ttyUSB0",
			"baud_rate": 9600,
			"parity": "N"
		},
		"modbus": {"unit_id": 7}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5:1502", cfg.Connection.GetFullAddress())
	assert.Equal(t, modbus.TransportRTU, cfg.Connection.GetTransportType())
	assert.Equal(t, 250*time.Millisecond, cfg.Connection.GetTimeout())
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, modbus.SlaveID(7), cfg.Modbus.GetUnitID())
	// Untouched sections keep their defaults.
	assert.Equal(t, 8, cfg.Serial.DataBits)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestClientConfigProjection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Connection.RetryDelayMs = 50
	cfg.Connection.ReconnectDelayMs = 200
	cfg.Connection.ReconnectDelayMaxMs = 4000
	cfg.Modbus.UnitID = 9

	cc := cfg.ClientConfig()
	assert.Equal(t, modbus.SlaveID(9), cc.SlaveID)
	assert.Equal(t, 50*time.Millisecond, cc.RetryDelay)
	assert.Equal(t, 200*time.Millisecond, cc.ReconnectDelay)
	assert.Equal(t, 4*time.Second, cc.ReconnectDelayMax)
	assert.Equal(t, modbus.TransportTCP, cc.TransportType)
}

func TestTransportTypeNames(t *testing.T) {
	for name, want := range map[string]modbus.TransportType{
		"tcp":   modbus.TransportTCP,
		"tls":   modbus.TransportTCP,
		"udp":   modbus.TransportUDP,
		"rtu":   modbus.TransportRTU,
		"ascii": modbus.TransportASCII,
		"":      modbus.TransportTCP,
	} {
		c := ConnectionConfig{TransportType: name}
		assert.Equal(t, want, c.GetTransportType(), "transport_type=%q", name)
	}
}
