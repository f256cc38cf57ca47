package usbmux

import (
	"bytes"

	"howett.net/plist"
)

const (
	clientVersionString = "gandalf-relay-1.0"
	progName            = "gandalf"
)

// listenRequest is the payload for a Listen message: subscribe to Attached/Detached events.
type listenRequest struct {
	MessageType         string
	ClientVersionString string
	ProgName            string
}

func newListenRequest() listenRequest {
	return listenRequest{
		MessageType:         "Listen",
		ClientVersionString: clientVersionString,
		ProgName:            progName,
	}
}

// connectRequest is the payload for a Connect message. PortNumber carries the device-side port
// byte-swapped into network order before serialization, see SwapPort.
type connectRequest struct {
	MessageType         string
	ClientVersionString string
	ProgName            string
	DeviceID            int
	PortNumber          int
}

func newConnectRequest(deviceID int, devicePort uint16) connectRequest {
	return connectRequest{
		MessageType:         "Connect",
		ClientVersionString: clientVersionString,
		ProgName:            progName,
		DeviceID:            deviceID,
		PortNumber:          int(SwapPort(devicePort)),
	}
}

// SwapPort byte-swaps a 16-bit port number. usbmuxd expects PortNumber in network (big-endian)
// order even though the plist field is a plain integer; this reproduces that wire quirk exactly.
// SwapPort is its own inverse: SwapPort(SwapPort(p)) == p.
func SwapPort(p uint16) uint16 {
	return (p&0xFF)<<8 | (p>>8)&0xFF
}

// ResultCode is the closed set of outcomes usbmuxd reports for Listen/Connect requests.
type ResultCode int

const (
	ResultSuccess                     ResultCode = 0
	ResultDeviceRequestedNotConnected ResultCode = 2
	ResultPortRequestedNotAvailable   ResultCode = 3
	ResultMalformedRequest            ResultCode = 5
)

func (r ResultCode) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultDeviceRequestedNotConnected:
		return "DeviceRequestedNotConnected"
	case ResultPortRequestedNotAvailable:
		return "PortRequestedNotAvailable"
	case ResultMalformedRequest:
		return "MalformedRequest"
	default:
		return "Unknown"
	}
}

// Device is the usbmuxd device record: the properties usbmuxd reports for an attached device.
type Device struct {
	SerialNumber    string // UDID
	ConnectionSpeed int
	ConnectionType  string
	ProductID       int
	LocationID      int
	DeviceID        int
}

// Reply is the decoded form of any message usbmuxd can send back on a session: a plain Result,
// an Attached event carrying a Device, or a Detached event carrying just a device ID.
type Reply struct {
	Kind     ReplyKind
	Result   ResultCode
	Device   Device
	DeviceID int
}

// ReplyKind discriminates the Reply union.
type ReplyKind int

const (
	ReplyResult ReplyKind = iota
	ReplyAttached
	ReplyDetached
)

// rawMessageType is decoded first to dispatch on MessageType before parsing the rest of the
// payload into its specific shape.
type rawMessageType struct {
	MessageType string
}

type rawResult struct {
	MessageType string
	Number      int
}

type rawAttached struct {
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
}

type rawDetached struct {
	MessageType string
	DeviceID    int
}

// decodeReply parses a usbmuxd payload into a Reply, dispatching on MessageType.
func decodeReply(payload []byte) (Reply, error) {
	var kind rawMessageType
	if err := plist.NewDecoder(bytes.NewReader(payload)).Decode(&kind); err != nil {
		return Reply{}, protocolErr("decode reply", err)
	}

	switch kind.MessageType {
	case "Result":
		var r rawResult
		if err := plist.NewDecoder(bytes.NewReader(payload)).Decode(&r); err != nil {
			return Reply{}, protocolErr("decode result", err)
		}
		code := ResultCode(r.Number)
		switch code {
		case ResultSuccess, ResultDeviceRequestedNotConnected, ResultPortRequestedNotAvailable, ResultMalformedRequest:
			return Reply{Kind: ReplyResult, Result: code}, nil
		default:
			return Reply{}, &UnknownReplyError{MessageType: "Result", Number: r.Number, HasNumber: true}
		}
	case "Attached":
		var a rawAttached
		if err := plist.NewDecoder(bytes.NewReader(payload)).Decode(&a); err != nil {
			return Reply{}, protocolErr("decode attached", err)
		}
		return Reply{
			Kind: ReplyAttached,
			Device: Device{
				SerialNumber:    a.Properties.SerialNumber,
				ConnectionSpeed: a.Properties.ConnectionSpeed,
				ConnectionType:  a.Properties.ConnectionType,
				ProductID:       a.Properties.ProductID,
				LocationID:      a.Properties.LocationID,
				DeviceID:        a.Properties.DeviceID,
			},
		}, nil
	case "Detached":
		var d rawDetached
		if err := plist.NewDecoder(bytes.NewReader(payload)).Decode(&d); err != nil {
			return Reply{}, protocolErr("decode detached", err)
		}
		return Reply{Kind: ReplyDetached, DeviceID: d.DeviceID}, nil
	default:
		return Reply{}, &UnknownReplyError{MessageType: kind.MessageType}
	}
}

func encodeMessage(message interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := plist.NewEncoder(&buf)
	enc.Indent(" ")
	if err := enc.Encode(message); err != nil {
		return nil, protocolErr("encode message", err)
	}
	return buf.Bytes(), nil
}
