package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"gandalf/usbmux"
)

// copyBufferSize is the read buffer used by the splice loops. 32 KiB rather than the more
// common 4 KiB default: usbmuxd is chatty and an interactive ssh session moves multi-KiB
// frames, and the smaller default measurably hurt throughput in testing.
const copyBufferSize = 32 * 1024

// Tunnel binds a loopback TCP listener for one (local_port, device_id, device_port) triple and
// splices every accepted connection through a fresh usbmuxd Connect, with idle-timeout
// enforcement on both directions.
type Tunnel struct {
	Spec        TunnelSpec
	socketAddr  string
	idleTimeout time.Duration

	listener net.Listener
}

// NewTunnel binds the listener for spec on loopback only, never a routable address.
// ErrAddressInUse-shaped errors are returned unwrapped so the Supervisor can recognize them and
// exit 6. maxConnections caps the number of simultaneously accepted connections on this
// listener via golang.org/x/net/netutil.LimitListener; 0 means unlimited.
func NewTunnel(socketAddr string, spec TunnelSpec, idleTimeout time.Duration, maxConnections int) (*Tunnel, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", spec.LocalPort)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if maxConnections > 0 {
		l = netutil.LimitListener(l, maxConnections)
	}
	return &Tunnel{Spec: spec, socketAddr: socketAddr, idleTimeout: idleTimeout, listener: l}, nil
}

// Close stops accepting new connections on this tunnel's listener. Connections already
// accepted are not closed by it; each keeps running until EOF on either side or its idle
// timeout.
func (t *Tunnel) Close() error {
	return t.listener.Close()
}

// Serve accepts connections until the listener is closed or ctx is canceled. Each accepted
// connection is handled in its own goroutine and never blocks Serve's accept loop.
func (t *Tunnel) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		t.listener.Close()
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Temporary() {
				return
			}
			log.WithError(err).Warn("relay: tunnel accept error")
			continue
		}
		go t.handleConnection(conn)
	}
}

func (t *Tunnel) handleConnection(conn net.Conn) {
	log.WithFields(log.Fields{
		"local_port": t.Spec.LocalPort,
		"device_id":  t.Spec.DeviceID,
		"udid":       t.Spec.UDID,
	}).Info("relay: accepted connection")

	session, err := usbmux.NewSession(t.socketAddr)
	if err != nil {
		log.WithError(err).Warn("relay: failed to open mux session for tunnel")
		conn.Close()
		return
	}

	result, err := session.Connect(t.Spec.DeviceID, t.Spec.DevicePort)
	if err != nil {
		log.WithError(err).Warn("relay: connect request failed")
		session.Close()
		conn.Close()
		return
	}

	switch result {
	case usbmux.ResultSuccess:
		t.splice(conn, session)
	case usbmux.ResultDeviceRequestedNotConnected:
		log.WithField("device_id", t.Spec.DeviceID).Info("relay: device requested is not connected")
		session.Close()
		conn.Close()
	case usbmux.ResultPortRequestedNotAvailable:
		log.WithField("device_port", t.Spec.DevicePort).Info("relay: port requested wasn't available")
		session.Close()
		conn.Close()
	default:
		session.Close()
		conn.Close()
	}
}

// splice pipes bytes bidirectionally between the local connection and the mux session's raw
// connection. An idle read on either side for longer than t.idleTimeout cancels both; normal
// EOF on either direction does the same.
func (t *Tunnel) splice(local net.Conn, session *usbmux.Session) {
	defer local.Close()
	defer session.Close()

	done := make(chan struct{}, 2)
	copyDirection := func(dst net.Conn, src net.Conn) {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, copyBufferSize)
		for {
			if t.idleTimeout > 0 {
				src.SetReadDeadline(time.Now().Add(t.idleTimeout))
			}
			n, err := src.Read(buf)
			if n > 0 {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}

	remote := session.Conn()
	go copyDirection(remote, local)
	go copyDirection(local, remote)

	<-done
	local.Close()
	remote.Close()
	<-done
}
