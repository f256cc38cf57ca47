package relay

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"

	"gandalf/usbmux"
)

func testReadHeader(t *testing.T, r io.Reader) (length int) {
	t.Helper()
	buf := make([]byte, 16)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	return int(binary.LittleEndian.Uint32(buf[0:4])) - 16
}

func testReadPayload(t *testing.T, r io.Reader, length int) []byte {
	t.Helper()
	buf := make([]byte, length)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	return buf
}

// startFakeUsbmuxd listens on a loopback TCP port playing the part of usbmuxd: it accepts
// exactly one connection and hands it to script for the test to drive.
func startFakeUsbmuxd(t *testing.T, script func(conn net.Conn)) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		script(conn)
	}()
	return l.Addr().String()
}

func writeMuxReply(t *testing.T, conn net.Conn, message interface{}) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, plist.NewEncoder(&buf).Encode(message))
	payload := buf.Bytes()

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], uint32(16+len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], 1)
	binary.LittleEndian.PutUint32(header[8:12], 8)
	binary.LittleEndian.PutUint32(header[12:16], 1)

	_, err := conn.Write(header)
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func writeMappingFile(t *testing.T, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "mapping-*.txt")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestInventoryRunAcceptsPartialBurstOnDeadline(t *testing.T) {
	attachedSent := make(chan struct{})
	addr := startFakeUsbmuxd(t, func(conn net.Conn) {
		defer conn.Close()
		length := testReadHeader(t, conn)
		testReadPayload(t, conn, length)

		writeMuxReply(t, conn, struct {
			MessageType string
			Number      int
		}{"Result", 0})

		writeMuxReply(t, conn, struct {
			MessageType string
			DeviceID    int
			Properties  struct {
				ConnectionSpeed int
				ConnectionType  string
				DeviceID        int
				LocationID      int
				ProductID       int
				SerialNumber    string
			}
		}{
			MessageType: "Attached",
			DeviceID:    4,
			Properties: struct {
				ConnectionSpeed int
				ConnectionType  string
				DeviceID        int
				LocationID      int
				ProductID       int
				SerialNumber    string
			}{DeviceID: 4, SerialNumber: "UDID_A", ConnectionType: "USB"},
		})
		close(attachedSent)
		time.Sleep(2 * time.Second)
	})

	mappingPath := writeMappingFile(t, "UDID_A:2222:22\n")
	mapping, err := LoadMapping(mappingPath)
	require.NoError(t, err)

	inv := NewInventory(mappingPath, mapping)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = inv.Run(ctx, addr, 200*time.Millisecond)
	require.NoError(t, err)

	<-attachedSent
	time.Sleep(50 * time.Millisecond)

	specs := inv.Snapshot()
	require.Len(t, specs, 1)
	assert.Equal(t, "UDID_A", specs[0].UDID)
	assert.EqualValues(t, 2222, specs[0].LocalPort)
	assert.EqualValues(t, 22, specs[0].DevicePort)
	assert.Equal(t, 4, specs[0].DeviceID)
}

func TestInventorySnapshotDropsUnmappedUDIDs(t *testing.T) {
	mappingPath := writeMappingFile(t, "UDID_OTHER:2222:22\n")
	mapping, err := LoadMapping(mappingPath)
	require.NoError(t, err)

	inv := NewInventory(mappingPath, mapping)
	inv.handleEvent(usbmux.Reply{Kind: usbmux.ReplyAttached, Device: usbmux.Device{DeviceID: 1, SerialNumber: "UDID_A"}})

	assert.Empty(t, inv.Snapshot())
}
