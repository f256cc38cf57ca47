package status

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerWritesOneJSONLineThenCloses(t *testing.T) {
	stop := make(chan struct{})
	addr := "127.0.0.1:25001"
	srv := NewServer(addr, func() []TunnelView {
		return []TunnelView{{Port: 2222, DeviceID: 4, UDID: "UDID_A"}}
	})

	go srv.ListenAndServe(stop)
	defer close(stop)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var views []TunnelView
	require.NoError(t, json.Unmarshal([]byte(line), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "UDID_A", views[0].UDID)

	_, err = reader.ReadByte()
	assert.Error(t, err)
}

func TestServerEmitsEmptyArrayForNilSnapshot(t *testing.T) {
	stop := make(chan struct{})
	srv := NewServer("127.0.0.1:25002", func() []TunnelView { return nil })

	go srv.ListenAndServe(stop)
	defer close(stop)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:25002")
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "[]\n", line)
}
