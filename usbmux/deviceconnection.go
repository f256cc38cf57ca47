package usbmux

import (
	"io"
	"net"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DefaultSocket is the well-known usbmuxd UNIX domain socket path on Linux and macOS.
var DefaultSocket = "/var/run/usbmuxd"

// DeviceConnection wraps the net.Conn to usbmuxd. A relay connection never upgrades to TLS or
// to the lockdown protocol: usbmuxd's Connect reply hands the caller a plain, already
// established TCP-over-USB byte stream and nothing else runs on top of it here.
type DeviceConnection struct {
	c net.Conn
}

// Dial opens a new connection to the given usbmuxd socket address. A bare filesystem path is
// dialed as a UNIX socket; an address containing a colon is dialed as TCP, which matters on
// platforms where usbmuxd listens on a loopback port instead (Windows, or a forwarded
// USBMUXD_SOCKET_ADDRESS).
func Dial(socketAddress string) (*DeviceConnection, error) {
	network := "unix"
	address := socketAddress
	if strings.Contains(socketAddress, ":") {
		network = "tcp"
	}
	c, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	log.Tracef("usbmux: opened connection to %s on %v", socketAddress, &c)
	return &DeviceConnection{c: c}, nil
}

// NewWithConn wraps an already established net.Conn. Used by tests to put a Session on one end
// of an in-memory pipe.
func NewWithConn(c net.Conn) *DeviceConnection {
	return &DeviceConnection{c: c}
}

// Close closes the underlying network connection.
func (conn *DeviceConnection) Close() error {
	log.Tracef("usbmux: closing connection %v", &conn.c)
	return conn.c.Close()
}

// Reader exposes the underlying net.Conn as an io.Reader.
func (conn *DeviceConnection) Reader() io.Reader {
	return conn.c
}

// Writer exposes the underlying net.Conn as an io.Writer.
func (conn *DeviceConnection) Writer() io.Writer {
	return conn.c
}

// Conn exposes the raw net.Conn so the tunnel worker can splice bytes directly, bypassing the
// mux message framing, once a Connect has succeeded.
func (conn *DeviceConnection) Conn() net.Conn {
	return conn.c
}
