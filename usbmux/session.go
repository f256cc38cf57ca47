package usbmux

import (
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Session owns one connection to usbmuxd. It is used either for a single request/reply
// exchange (Connect) or, once put into Listen mode, as a long-lived event stream. A Session
// never shares its socket across goroutines: the caller drives it sequentially.
type Session struct {
	conn *DeviceConnection
	tag  uint32
	id   uuid.UUID
}

// NewSession dials the given usbmuxd socket address and returns a Session ready to send a
// request. Every session gets a correlation id, attached to its "session opened" and connect
// request log lines.
func NewSession(socketAddress string) (*Session, error) {
	conn, err := Dial(socketAddress)
	if err != nil {
		return nil, transportErr("dial usbmuxd", err)
	}
	id := uuid.New()
	log.WithField("session", id).Trace("usbmux: session opened")
	return &Session{conn: conn, id: id}, nil
}

// ID returns the session's correlation id, used by callers that want to tie their own log
// lines to this session's.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Close releases the underlying socket. Safe to call once any exit path (success, error,
// cancellation) is reached; the caller owns calling it exactly once.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Conn exposes the raw net.Conn backing this session. Used by the tunnel worker to splice
// bytes after a successful Connect: from that point on the connection is no longer speaking
// the mux framing, it is a raw byte pipe to the device-side service.
func (s *Session) Conn() net.Conn {
	return s.conn.Conn()
}

func (s *Session) send(message interface{}) error {
	s.tag++
	payload, err := encodeMessage(message)
	if err != nil {
		return err
	}
	if err := writeHeader(s.conn.Writer(), len(payload), s.tag); err != nil {
		return err
	}
	if _, err := s.conn.Writer().Write(payload); err != nil {
		return transportErr("write payload", err)
	}
	return nil
}

func (s *Session) readReply() (Reply, error) {
	h, err := readHeader(s.conn.Reader())
	if err != nil {
		return Reply{}, err
	}
	payload, err := readPayload(s.conn.Reader(), h)
	if err != nil {
		return Reply{}, err
	}
	return decodeReply(payload)
}

// Connect issues a Connect request for (deviceID, devicePort) and reads exactly one reply.
// On ResultSuccess the Session's underlying connection is now a raw pipe to the device-side
// service; the caller should use Conn() to splice it and must not call send/readReply again.
func (s *Session) Connect(deviceID int, devicePort uint16) (ResultCode, error) {
	log.WithFields(log.Fields{"session": s.id, "device_id": deviceID, "device_port": devicePort}).Debug("usbmux: connect request")
	if err := s.send(newConnectRequest(deviceID, devicePort)); err != nil {
		return 0, err
	}
	reply, err := s.readReply()
	if err != nil {
		return 0, err
	}
	if reply.Kind != ReplyResult {
		return 0, protocolErr("connect", fmt.Errorf("expected Result, got kind %d", reply.Kind))
	}
	return reply.Result, nil
}

// AttachEventFunc is invoked for every Attached/Detached event observed on a Listen
// subscription. For Detached events reply.Device is zero-valued and only reply.DeviceID is set.
type AttachEventFunc func(reply Reply)

// Listen sends the Listen request, waits for the initial Result Success, and then loops
// forever reading and dispatching Attached/Detached events to handler until the underlying
// socket errors or is closed by the caller (e.g. via context cancellation closing Conn()).
func (s *Session) Listen(handler AttachEventFunc) error {
	if err := s.send(newListenRequest()); err != nil {
		return err
	}
	reply, err := s.readReply()
	if err != nil {
		return err
	}
	if reply.Kind != ReplyResult || reply.Result != ResultSuccess {
		return protocolErr("listen", fmt.Errorf("usbmuxd refused Listen: %+v", reply))
	}

	for {
		reply, err := s.readReply()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		switch reply.Kind {
		case ReplyAttached, ReplyDetached:
			handler(reply)
		default:
			log.Tracef("usbmux: ignoring unexpected reply kind %d on listen stream", reply.Kind)
		}
	}
}
