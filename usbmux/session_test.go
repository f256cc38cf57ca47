package usbmux

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUsbmuxd wires a Session to one end of an in-memory pipe, handing the other end to test
// code that plays the part of usbmuxd: reading requests and writing back scripted replies.
func fakeUsbmuxd(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	return &Session{conn: NewWithConn(client)}, server
}

func writeReply(t *testing.T, conn net.Conn, message interface{}) {
	t.Helper()
	payload, err := encodeMessage(message)
	require.NoError(t, err)
	require.NoError(t, writeHeader(conn, len(payload), 1))
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func TestSessionConnectSuccess(t *testing.T) {
	session, server := fakeUsbmuxd(t)
	defer session.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h, err := readHeader(server)
		require.NoError(t, err)
		_, err = readPayload(server, h)
		require.NoError(t, err)
		writeReply(t, server, struct {
			MessageType string
			Number      int
		}{"Result", 0})
	}()

	result, err := session.Connect(3, 22)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result)
	<-done
}

func TestSessionConnectRefused(t *testing.T) {
	session, server := fakeUsbmuxd(t)
	defer session.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h, err := readHeader(server)
		require.NoError(t, err)
		_, err = readPayload(server, h)
		require.NoError(t, err)
		writeReply(t, server, struct {
			MessageType string
			Number      int
		}{"Result", int(ResultPortRequestedNotAvailable)})
	}()

	result, err := session.Connect(3, 22)
	require.NoError(t, err)
	assert.Equal(t, ResultPortRequestedNotAvailable, result)
	<-done
}

func TestSessionListenDispatchesEvents(t *testing.T) {
	session, server := fakeUsbmuxd(t)
	defer session.Close()
	defer server.Close()

	go func() {
		h, err := readHeader(server)
		require.NoError(t, err)
		_, err = readPayload(server, h)
		require.NoError(t, err)
		writeReply(t, server, struct {
			MessageType string
			Number      int
		}{"Result", 0})

		writeReply(t, server, struct {
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
			DeviceID:    9,
			Properties: struct {
				ConnectionSpeed int
				ConnectionType  string
				DeviceID        int
				LocationID      int
				ProductID       int
				SerialNumber    string
			}{DeviceID: 9, SerialNumber: "udid-9", ConnectionType: "USB"},
		})

		writeReply(t, server, struct {
			MessageType string
			DeviceID    int
		}{"Detached", 9})

		server.Close()
	}()

	var events []Reply
	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Listen(func(r Reply) {
			events = append(events, r)
		})
	}()

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after peer closed")
	}

	require.Len(t, events, 2)
	assert.Equal(t, ReplyAttached, events[0].Kind)
	assert.Equal(t, "udid-9", events[0].Device.SerialNumber)
	assert.Equal(t, ReplyDetached, events[1].Kind)
	assert.Equal(t, 9, events[1].DeviceID)
}
