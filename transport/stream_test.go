package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldkit/modbus/framer"
	"github.com/fieldkit/modbus/modbus"
	"github.com/fieldkit/modbus/pdu"
)

// recordingHandler answers reads with a fixed register and records every
// dispatch it sees; broadcasts get the nil (silent) response.
type recordingHandler struct {
	mu       sync.Mutex
	requests []*pdu.Request
	units    []modbus.SlaveID
}

func (h *recordingHandler) HandleRequest(slaveID modbus.SlaveID, req *pdu.Request) *pdu.Response {
	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.units = append(h.units, slaveID)
	h.mu.Unlock()
	if slaveID == modbus.BroadcastAddress {
		return nil
	}
	return pdu.NewResponse(req.FunctionCode, []byte{0x02, 0x00, 0x11})
}

func (h *recordingHandler) seen() ([]*pdu.Request, []modbus.SlaveID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*pdu.Request(nil), h.requests...), append([]modbus.SlaveID(nil), h.units...)
}

func startRTUStreamServer(t *testing.T, handler RequestHandler) net.Conn {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	srv := NewStreamServer(serverSide, framer.NewRTU(framer.DecodeRequests), handler)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		_ = srv.Stop()
		_ = clientSide.Close()
	})
	return clientSide
}

func readFrame(t *testing.T, conn net.Conn, fr framer.Framer) framer.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, modbus.MaxSerialADUSize)
	for {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		if frames := fr.Feed(buf[:n]); len(frames) > 0 {
			require.Len(t, frames, 1)
			return frames[0]
		}
	}
}

func TestStreamServerAnswersRTURequest(t *testing.T) {
	handler := &recordingHandler{}
	conn := startRTUStreamServer(t, handler)

	clientFramer := framer.NewRTU(framer.DecodeResponses)
	request := clientFramer.Build(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 0)

	_, err := conn.Write(request)
	require.NoError(t, err)

	frame := readFrame(t, conn, clientFramer)
	assert.Equal(t, uint8(0x01), frame.DeviceID)
	assert.Equal(t, []byte{0x03, 0x02, 0x00, 0x11}, frame.PDU)
}

// Garbage ahead of a valid frame must cost nothing but the garbage: the
// framer resynchronizes and the one real request is answered.
func TestStreamServerResyncsPastGarbage(t *testing.T) {
	handler := &recordingHandler{}
	conn := startRTUStreamServer(t, handler)

	clientFramer := framer.NewRTU(framer.DecodeResponses)
	request := clientFramer.Build(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 0)

	_, err := conn.Write(append([]byte{0xFF, 0xFF, 0xFF}, request...))
	require.NoError(t, err)

	frame := readFrame(t, conn, clientFramer)
	assert.Equal(t, []byte{0x03, 0x02, 0x00, 0x11}, frame.PDU)
	requests, _ := handler.seen()
	assert.Len(t, requests, 1)
}

// A broadcast produces no bytes on the wire: the next frame the client
// sees must belong to the follow-up request, not the broadcast.
func TestStreamServerBroadcastIsSilent(t *testing.T) {
	handler := &recordingHandler{}
	conn := startRTUStreamServer(t, handler)

	clientFramer := framer.NewRTU(framer.DecodeResponses)
	broadcast := clientFramer.Build(0x00, []byte{0x06, 0x00, 0x03, 0x00, 0x42}, 0)
	followUp := clientFramer.Build(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}, 0)

	_, err := conn.Write(broadcast)
	require.NoError(t, err)
	_, err = conn.Write(followUp)
	require.NoError(t, err)

	frame := readFrame(t, conn, clientFramer)
	assert.Equal(t, uint8(0x01), frame.DeviceID, "first bytes on the wire must answer the follow-up, not the broadcast")

	_, units := handler.seen()
	require.Len(t, units, 2)
	assert.Equal(t, modbus.BroadcastAddress, units[0])
}

func TestStreamServerRejectsDoubleStart(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	srv := NewStreamServer(serverSide, framer.NewRTU(framer.DecodeRequests), &recordingHandler{})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	assert.Error(t, srv.Start())
}
