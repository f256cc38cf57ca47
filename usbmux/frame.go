package usbmux

import (
	"encoding/binary"
	"errors"
	"io"
)

// headerSize is the fixed size of the usbmuxd frame header: four little-endian uint32 fields.
const headerSize = 16

// plistVersion and plistRequest are the only version/request combination this relay ever
// speaks: version 1 selects the plist wire format, request 8 is usbmuxd's plist-payload opcode.
const (
	plistVersion = 1
	plistRequest = 8
)

// Header is the 16-byte frame header prefixing every usbmuxd message.
type Header struct {
	Length  uint32 // total length of header + payload
	Version uint32 // 0 = legacy binary, 1 = plist
	Request uint32 // opcode; 8 for plist payloads
	Tag     uint32 // echoed back in the reply, ignored by this relay
}

// readHeader reads and validates a 16-byte frame header from r.
func readHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, protocolErr("read header", err)
	}
	h := Header{
		Length:  binary.LittleEndian.Uint32(buf[0:4]),
		Version: binary.LittleEndian.Uint32(buf[4:8]),
		Request: binary.LittleEndian.Uint32(buf[8:12]),
		Tag:     binary.LittleEndian.Uint32(buf[12:16]),
	}
	if h.Length < headerSize {
		return Header{}, protocolErr("read header", errors.New("total_length smaller than header size"))
	}
	return h, nil
}

// writeHeader writes a 16-byte frame header for a payload of the given length. tag is echoed
// by usbmuxd but not otherwise interpreted; this relay always sends tag 1 and ignores whatever
// comes back.
func writeHeader(w io.Writer, payloadLength int, tag uint32) error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(headerSize+payloadLength))
	binary.LittleEndian.PutUint32(buf[4:8], plistVersion)
	binary.LittleEndian.PutUint32(buf[8:12], plistRequest)
	binary.LittleEndian.PutUint32(buf[12:16], tag)
	n, err := w.Write(buf)
	if err != nil {
		return transportErr("write header", err)
	}
	if n != headerSize {
		return transportErr("write header", errors.New("short write"))
	}
	return nil
}

// readPayload reads exactly the payload bytes described by h from r.
func readPayload(r io.Reader, h Header) ([]byte, error) {
	payload := make([]byte, h.Length-headerSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, protocolErr("read payload", err)
	}
	return payload, nil
}
