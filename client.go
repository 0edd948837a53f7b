package modbus

import (
	"fmt"
	"time"

	"github.com/fieldkit/modbus/config"
	"github.com/fieldkit/modbus/logging"
	"github.com/fieldkit/modbus/modbus"
	"github.com/fieldkit/modbus/pdu"
	"github.com/fieldkit/modbus/transaction"
	"github.com/fieldkit/modbus/transport"
)

// Client represents a MODBUS client
type Client struct {
	transport         transport.Transport
	txn               *transaction.Manager
	slaveID           modbus.SlaveID
	timeout           time.Duration
	retryCount        int
	retryDelay        time.Duration
	connectTimeout    time.Duration
	autoReconnect     bool
	reconnectDelay    time.Duration
	reconnectDelayMax time.Duration
	reconnectBackoff  time.Duration
	broadcastInterval time.Duration
	encoding          *EncodingConfig
	log               logging.Sink
}

// NewClient creates a new MODBUS client with the given transport
func NewClient(t transport.Transport) *Client {
	return NewClientFromConfig(modbus.DefaultClientConfig(), t)
}

// SetLogSink attaches a structured logging sink the client's transaction
// manager reports retries and failures to.
func (c *Client) SetLogSink(sink logging.Sink) {
	if sink == nil {
		sink = logging.NewNoop()
	}
	c.log = sink
	c.rebuildTransactionManager()
}

func (c *Client) rebuildTransactionManager() {
	c.txn = transaction.NewManager(c.transport, transaction.Config{
		RetryCount:              c.retryCount,
		RetryDelay:              c.retryDelay,
		BroadcastSilentInterval: c.broadcastInterval,
		Log:                     c.log,
	})
}

// SetBroadcastSilentInterval sets how long broadcast calls hold the
// medium before reporting success.
func (c *Client) SetBroadcastSilentInterval(interval time.Duration) {
	c.broadcastInterval = interval
	c.rebuildTransactionManager()
}

// NewTCPClient creates a new MODBUS TCP client
func NewTCPClient(address string) *Client {
	return NewClient(transport.NewTCPTransport(address))
}

// NewClientFromConfig creates a new MODBUS client from a configuration
func NewClientFromConfig(cfg *modbus.ClientConfig, t transport.Transport) *Client {
	c := &Client{
		transport:         t,
		slaveID:           cfg.SlaveID,
		timeout:           cfg.Timeout,
		retryCount:        cfg.RetryCount,
		retryDelay:        cfg.RetryDelay,
		connectTimeout:    cfg.ConnectTimeout,
		reconnectDelay:    cfg.ReconnectDelay,
		reconnectDelayMax: cfg.ReconnectDelayMax,
		autoReconnect:     cfg.ReconnectDelay > 0,
		log:               logging.NewNoop(),
	}
	c.rebuildTransactionManager()
	return c
}

// NewTCPClientFromConfig creates a new MODBUS TCP client from configuration
func NewTCPClientFromConfig(cfg *modbus.ClientConfig, address string) *Client {
	return NewClientFromConfig(cfg, transport.NewTCPTransport(address))
}

// NewClientFromFile creates a client from a configuration file (JSON,
// YAML, or TOML), with MODBUS_-prefixed environment overrides applied.
// The configured transport type selects the framing: tcp/tls, udp, rtu,
// or ascii.
func NewClientFromFile(configPath string) (*Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var t transport.Transport
	switch cfg.Connection.GetTransportType() {
	case modbus.TransportRTU, modbus.TransportASCII:
		sc, scErr := transport.NewSerialConfig(cfg.Serial.Port, cfg.Serial.BaudRate,
			cfg.Serial.DataBits, cfg.Serial.StopBits, cfg.Serial.Parity)
		if scErr != nil {
			return nil, scErr
		}
		if cfg.Connection.GetTransportType() == modbus.TransportRTU {
			t = transport.NewRTUTransport(sc)
		} else {
			t = transport.NewASCIITransport(sc)
		}
	case modbus.TransportUDP:
		t = transport.NewUDPTransport(cfg.Connection.GetFullAddress())
	default:
		t = transport.NewTCPTransportWithConfig(transport.TCPTransportConfig{
			Address:        cfg.Connection.GetFullAddress(),
			SourceAddress:  cfg.Connection.SourceAddress,
			Timeout:        cfg.Connection.GetTimeout(),
			ConnectTimeout: cfg.Connection.GetConnectTimeout(),
		})
	}

	return NewClientFromConfig(cfg.ClientConfig(), t), nil
}

// Connect establishes the connection
func (c *Client) Connect() error {
	c.transport.SetTimeout(c.timeout)
	return c.transport.Connect()
}

// Close closes the connection
func (c *Client) Close() error {
	return c.transport.Close()
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	return c.transport.IsConnected()
}

// SetSlaveID sets the slave/unit ID
func (c *Client) SetSlaveID(slaveID modbus.SlaveID) {
	c.slaveID = slaveID
}

// GetSlaveID returns the current slave/unit ID
func (c *Client) GetSlaveID() modbus.SlaveID {
	return c.slaveID
}

// SetTimeout sets the response timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
	c.transport.SetTimeout(timeout)
}

// GetTimeout returns the current timeout
func (c *Client) GetTimeout() time.Duration {
	return c.timeout
}

// SetRetryCount sets the number of retries on failure
func (c *Client) SetRetryCount(count int) {
	c.retryCount = count
	c.rebuildTransactionManager()
}

// GetRetryCount returns the current retry count
func (c *Client) GetRetryCount() int {
	return c.retryCount
}

// SetRetryDelay sets the delay between retry attempts
func (c *Client) SetRetryDelay(delay time.Duration) {
	c.retryDelay = delay
	c.rebuildTransactionManager()
}

// GetRetryDelay returns the current retry delay
func (c *Client) GetRetryDelay() time.Duration {
	return c.retryDelay
}

// SetConnectTimeout sets the connection timeout
func (c *Client) SetConnectTimeout(timeout time.Duration) {
	c.connectTimeout = timeout
}

// GetConnectTimeout returns the current connection timeout
func (c *Client) GetConnectTimeout() time.Duration {
	return c.connectTimeout
}

// SetAutoReconnect enables or disables automatic reconnection on connection failure
func (c *Client) SetAutoReconnect(enabled bool) {
	c.autoReconnect = enabled
}

// GetAutoReconnect returns whether automatic reconnection is enabled
func (c *Client) GetAutoReconnect() bool {
	return c.autoReconnect
}

// SetReconnectDelay configures the reconnect backoff window: delay is the
// first wait after a failed reconnect, doubling up to max on each
// subsequent failure. A zero delay disables reconnection entirely.
func (c *Client) SetReconnectDelay(delay, max time.Duration) {
	c.reconnectDelay = delay
	c.reconnectDelayMax = max
	c.autoReconnect = delay > 0
}

// GetConfig returns the current client configuration
func (c *Client) GetConfig() *modbus.ClientConfig {
	return &modbus.ClientConfig{
		SlaveID:           c.slaveID,
		Timeout:           c.timeout,
		RetryCount:        c.retryCount,
		RetryDelay:        c.retryDelay,
		ConnectTimeout:    c.connectTimeout,
		ReconnectDelay:    c.reconnectDelay,
		ReconnectDelayMax: c.reconnectDelayMax,
		TransportType:     c.transport.GetTransportType(),
	}
}

// ApplyConfig applies a configuration to the client
func (c *Client) ApplyConfig(cfg *modbus.ClientConfig) {
	c.slaveID = cfg.SlaveID
	c.timeout = cfg.Timeout
	c.retryCount = cfg.RetryCount
	c.retryDelay = cfg.RetryDelay
	c.connectTimeout = cfg.ConnectTimeout
	c.reconnectDelay = cfg.ReconnectDelay
	c.reconnectDelayMax = cfg.ReconnectDelayMax
	c.autoReconnect = cfg.ReconnectDelay > 0
	// Update transport timeout as well
	c.transport.SetTimeout(c.timeout)
	c.rebuildTransactionManager()
}

// connectIfAutoReconnect is the transaction manager's reconnect hook. It
// refuses when reconnection is disabled; otherwise each failed attempt
// sleeps the current backoff and doubles it, bounded by
// reconnectDelayMax, resetting once a connection succeeds.
func (c *Client) connectIfAutoReconnect() error {
	if !c.autoReconnect {
		return fmt.Errorf("transport not connected")
	}
	if err := c.Connect(); err != nil {
		delay := c.reconnectBackoff
		if delay == 0 {
			delay = c.reconnectDelay
		}
		if delay > 0 {
			time.Sleep(delay)
			delay *= 2
			if c.reconnectDelayMax > 0 && delay > c.reconnectDelayMax {
				delay = c.reconnectDelayMax
			}
			c.reconnectBackoff = delay
		}
		return err
	}
	c.reconnectBackoff = 0
	return nil
}

// sendRequest sends a request through the client's transaction manager,
// which applies retry, backoff, and the transport's concurrency policy.
func (c *Client) sendRequest(req *pdu.Request) (*pdu.Response, error) {
	return c.txn.Send(c.slaveID, req, c.connectIfAutoReconnect)
}

// ReadCoils reads coils (function code 0x01)
func (c *Client) ReadCoils(address modbus.Address, quantity modbus.Quantity) ([]bool, error) {
	req, err := pdu.ReadCoilsRequest(address, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to create read coils request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}

	return pdu.ParseReadCoilsResponse(resp, quantity)
}

// ReadDiscreteInputs reads discrete inputs (function code 0x02)
func (c *Client) ReadDiscreteInputs(address modbus.Address, quantity modbus.Quantity) ([]bool, error) {
	req, err := pdu.ReadDiscreteInputsRequest(address, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to create read discrete inputs request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}

	return pdu.ParseReadDiscreteInputsResponse(resp, quantity)
}

// ReadHoldingRegisters reads holding registers (function code 0x03)
func (c *Client) ReadHoldingRegisters(address modbus.Address, quantity modbus.Quantity) ([]uint16, error) {
	req, err := pdu.ReadHoldingRegistersRequest(address, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to create read holding registers request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}

	return pdu.ParseReadHoldingRegistersResponse(resp, quantity)
}

// ReadInputRegisters reads input registers (function code 0x04)
func (c *Client) ReadInputRegisters(address modbus.Address, quantity modbus.Quantity) ([]uint16, error) {
	req, err := pdu.ReadInputRegistersRequest(address, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to create read input registers request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}

	return pdu.ParseReadInputRegistersResponse(resp, quantity)
}

// WriteSingleCoil writes a single coil (function code 0x05)
func (c *Client) WriteSingleCoil(address modbus.Address, value bool) error {
	req, err := pdu.WriteSingleCoilRequest(address, value)
	if err != nil {
		return fmt.Errorf("failed to create write single coil request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return err
	}

	return pdu.ParseWriteSingleCoilResponse(resp, address, value)
}

// WriteSingleRegister writes a single register (function code 0x06)
func (c *Client) WriteSingleRegister(address modbus.Address, value uint16) error {
	req, err := pdu.WriteSingleRegisterRequest(address, value)
	if err != nil {
		return fmt.Errorf("failed to create write single register request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return err
	}

	return pdu.ParseWriteSingleRegisterResponse(resp, address, value)
}

// WriteMultipleCoils writes multiple coils (function code 0x0F)
func (c *Client) WriteMultipleCoils(address modbus.Address, values []bool) error {
	req, err := pdu.WriteMultipleCoilsRequest(address, values)
	if err != nil {
		return fmt.Errorf("failed to create write multiple coils request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return err
	}

	return pdu.ParseWriteMultipleCoilsResponse(resp, address, modbus.Quantity(len(values)))
}

// WriteMultipleRegisters writes multiple registers (function code 0x10)
func (c *Client) WriteMultipleRegisters(address modbus.Address, values []uint16) error {
	req, err := pdu.WriteMultipleRegistersRequest(address, values)
	if err != nil {
		return fmt.Errorf("failed to create write multiple registers request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return err
	}

	return pdu.ParseWriteMultipleRegistersResponse(resp, address, modbus.Quantity(len(values)))
}

// MaskWriteRegister performs a mask write on a register (function code 0x16)
func (c *Client) MaskWriteRegister(address modbus.Address, andMask, orMask uint16) error {
	req, err := pdu.MaskWriteRegisterRequest(address, andMask, orMask)
	if err != nil {
		return fmt.Errorf("failed to create mask write register request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return err
	}

	return pdu.ParseMaskWriteRegisterResponse(resp, address, andMask, orMask)
}

// ReadWriteMultipleRegisters reads and writes registers in one transaction (function code 0x17)
func (c *Client) ReadWriteMultipleRegisters(readAddress modbus.Address, readQuantity modbus.Quantity,
	writeAddress modbus.Address, writeValues []uint16) ([]uint16, error) {
	req, err := pdu.ReadWriteMultipleRegistersRequest(readAddress, readQuantity, writeAddress, writeValues)
	if err != nil {
		return nil, fmt.Errorf("failed to create read/write multiple registers request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}

	return pdu.ParseReadWriteMultipleRegistersResponse(resp, readQuantity)
}

// ReadFIFOQueue reads a FIFO queue (function code 0x18)
func (c *Client) ReadFIFOQueue(address modbus.Address) ([]uint16, error) {
	req, err := pdu.ReadFIFOQueueRequest(address)
	if err != nil {
		return nil, fmt.Errorf("failed to create read FIFO queue request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}

	return pdu.ParseReadFIFOQueueResponse(resp)
}

// ReadExceptionStatus reads exception status (function code 0x07, Serial line only)
func (c *Client) ReadExceptionStatus() (uint8, error) {
	req, err := pdu.ReadExceptionStatusRequest()
	if err != nil {
		return 0, fmt.Errorf("failed to create read exception status request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return 0, err
	}

	return pdu.ParseReadExceptionStatusResponse(resp)
}

// Diagnostic performs a diagnostic function (function code 0x08, Serial line only)
func (c *Client) Diagnostic(subFunction uint16, data []byte) (uint16, []byte, error) {
	req, err := pdu.DiagnosticRequest(subFunction, data)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create diagnostic request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return 0, nil, err
	}

	return pdu.ParseDiagnosticResponse(resp)
}

// GetCommEventCounter gets the communication event counter (function code 0x0B, Serial line only)
func (c *Client) GetCommEventCounter() (status uint16, eventCount uint16, err error) {
	req, err := pdu.GetCommEventCounterRequest()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create get comm event counter request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return 0, 0, err
	}

	return pdu.ParseGetCommEventCounterResponse(resp)
}

// GetCommEventLog gets the communication event log (function code 0x0C, Serial line only)
func (c *Client) GetCommEventLog() (status uint16, eventCount uint16, messageCount uint16, events []byte, err error) {
	req, err := pdu.GetCommEventLogRequest()
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("failed to create get comm event log request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return 0, 0, 0, nil, err
	}

	return pdu.ParseGetCommEventLogResponse(resp)
}

// ReportServerID gets the server ID (function code 0x11, Serial line only)
func (c *Client) ReportServerID() ([]byte, error) {
	req, err := pdu.ReportServerIDRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to create report server ID request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}

	return pdu.ParseReportServerIDResponse(resp)
}

// ReadFileRecord reads file records (function code 0x14)
func (c *Client) ReadFileRecord(records []modbus.FileRecord) ([]modbus.FileRecord, error) {
	req, err := pdu.ReadFileRecordRequest(records)
	if err != nil {
		return nil, fmt.Errorf("failed to create read file record request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}

	return pdu.ParseReadFileRecordResponse(resp, records)
}

// WriteFileRecord writes file records (function code 0x15)
func (c *Client) WriteFileRecord(records []modbus.FileRecord) error {
	req, err := pdu.WriteFileRecordRequest(records)
	if err != nil {
		return fmt.Errorf("failed to create write file record request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return err
	}

	return pdu.ParseWriteFileRecordResponse(resp)
}

// ReadDeviceIdentification reads device identification (function code 0x2B/0x0E)
func (c *Client) ReadDeviceIdentification(readCode uint8, objectID uint8) (*modbus.DeviceIdentification, bool, uint8, error) {
	req, err := pdu.ReadDeviceIdentificationRequest(readCode, objectID)
	if err != nil {
		return nil, false, 0, fmt.Errorf("failed to create read device identification request: %w", err)
	}

	resp, err := c.sendRequest(req)
	if err != nil {
		return nil, false, 0, err
	}

	return pdu.ParseReadDeviceIdentificationResponse(resp)
}

// String returns a string representation of the client
func (c *Client) String() string {
	return fmt.Sprintf("ModbusClient(slave=%d, transport=%s)", c.slaveID, c.transport.String())
}

// Broadcast methods - send to all devices (slave ID 0), no response expected

// BroadcastWriteSingleCoil broadcasts a write single coil command to all devices
func (c *Client) BroadcastWriteSingleCoil(address modbus.Address, value bool) error {
	req, err := pdu.WriteSingleCoilRequest(address, value)
	if err != nil {
		return fmt.Errorf("failed to create write single coil request: %w", err)
	}

	return c.sendBroadcast(req)
}

// BroadcastWriteSingleRegister broadcasts a write single register command to all devices
func (c *Client) BroadcastWriteSingleRegister(address modbus.Address, value uint16) error {
	req, err := pdu.WriteSingleRegisterRequest(address, value)
	if err != nil {
		return fmt.Errorf("failed to create write single register request: %w", err)
	}

	return c.sendBroadcast(req)
}

// BroadcastWriteMultipleCoils broadcasts a write multiple coils command to all devices
func (c *Client) BroadcastWriteMultipleCoils(address modbus.Address, values []bool) error {
	req, err := pdu.WriteMultipleCoilsRequest(address, values)
	if err != nil {
		return fmt.Errorf("failed to create write multiple coils request: %w", err)
	}

	return c.sendBroadcast(req)
}

// BroadcastWriteMultipleRegisters broadcasts a write multiple registers command to all devices
func (c *Client) BroadcastWriteMultipleRegisters(address modbus.Address, values []uint16) error {
	req, err := pdu.WriteMultipleRegistersRequest(address, values)
	if err != nil {
		return fmt.Errorf("failed to create write multiple registers request: %w", err)
	}

	return c.sendBroadcast(req)
}

// sendBroadcast sends a broadcast request (no response expected)
func (c *Client) sendBroadcast(req *pdu.Request) error {
	return c.txn.SendBroadcast(req, c.connectIfAutoReconnect)
}
