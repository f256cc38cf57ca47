// Package status implements the relay's read-only introspection surfaces: a raw one-shot line
// protocol on loopback:5000, and a richer debug HTTP surface for interactive use. Both read the
// same Supervisor snapshot, so the two views can never disagree with each other.
package status

import (
	"encoding/json"
	"net"

	log "github.com/sirupsen/logrus"
)

// TunnelView is the wire shape the status line protocol and the debug HTTP surface both emit.
type TunnelView struct {
	Port     uint16 `json:"Port"`
	DeviceID int    `json:"DeviceID"`
	UDID     string `json:"UDID"`
}

// SnapshotFunc returns the current tunnel views; backed by Supervisor.Snapshot in production.
type SnapshotFunc func() []TunnelView

// Server is the raw-line status endpoint: bind loopback:5000, and for every accepted connection
// write one JSON array line describing the current tunnels, then close.
type Server struct {
	addr     string
	snapshot SnapshotFunc

	listener net.Listener
}

// NewServer builds a status Server bound to addr (typically "127.0.0.1:5000").
func NewServer(addr string, snapshot SnapshotFunc) *Server {
	return &Server{addr: addr, snapshot: snapshot}
}

// ListenAndServe binds the listener and serves until stop is closed.
func (s *Server) ListenAndServe(stop <-chan struct{}) error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = l

	go func() {
		<-stop
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				log.WithError(err).Warn("status: accept error")
				return err
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	views := s.snapshot()
	if views == nil {
		views = []TunnelView{}
	}
	line, err := json.Marshal(views)
	if err != nil {
		log.WithError(err).Error("status: failed to marshal snapshot")
		return
	}
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		log.WithError(err).Warn("status: failed to write snapshot line")
	}
}
