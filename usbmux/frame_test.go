package usbmux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	err := writeHeader(&buf, 42, 7)
	require.NoError(t, err)

	h, err := readHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(16+42), h.Length)
	assert.Equal(t, uint32(plistVersion), h.Version)
	assert.Equal(t, uint32(plistRequest), h.Request)
	assert.Equal(t, uint32(7), h.Tag)
}

func TestReadHeaderTooShort(t *testing.T) {
	_, err := readHeader(bytes.NewReader([]byte{1, 2, 3}))
	require.Error(t, err)
	var usbmuxErr *Error
	require.ErrorAs(t, err, &usbmuxErr)
	assert.Equal(t, KindProtocol, usbmuxErr.Kind)
}

func TestReadHeaderLengthTooSmall(t *testing.T) {
	var buf bytes.Buffer
	// Length field of 4, which is smaller than the 16 byte header itself.
	buf.Write([]byte{4, 0, 0, 0, 1, 0, 0, 0, 8, 0, 0, 0, 1, 0, 0, 0})
	_, err := readHeader(&buf)
	require.Error(t, err)
}

func TestReadPayloadExactLength(t *testing.T) {
	h := Header{Length: 16 + 5}
	payload, err := readPayload(bytes.NewReader([]byte("hello")), h)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(payload))
}
