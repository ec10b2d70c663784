//go:build linux

package obexlink

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesHeaderRoundtrip(t *testing.T) {
	hdrs := appendBytesHeader(nil, hdrType, []byte("text/plain\x00"))
	hdrs = appendBytesHeader(hdrs, hdrBody, []byte{1, 2, 3})

	var seen []byte
	parseHeaders(hdrs, func(id byte, value []byte) {
		seen = append(seen, id)

		switch id {
		case hdrType:
			assert.Equal(t, "text/plain\x00", string(value))

		case hdrBody:
			assert.Equal(t, []byte{1, 2, 3}, value)
		}
	})

	assert.Equal(t, []byte{hdrType, hdrBody}, seen)
}

func TestUnicodeHeaderEncoding(t *testing.T) {
	hdrs := appendUnicodeHeader(nil, hdrName, "ab")

	require.Len(t, hdrs, 9)
	assert.Equal(t, byte(hdrName), hdrs[0])
	assert.Equal(t, uint16(9), binary.BigEndian.Uint16(hdrs[1:3]))
	assert.Equal(t, []byte{0, 'a', 0, 'b', 0, 0}, hdrs[3:])
}

func TestParseFixedWidthHeaders(t *testing.T) {
	hdrs := []byte{hdrLength, 0, 0, 0x27, 0x10, hdrConnectionID, 0, 0, 0, 1}

	var lengths, ids int
	parseHeaders(hdrs, func(id byte, value []byte) {
		switch id {
		case hdrLength:
			lengths++
			assert.Equal(t, uint32(10000), binary.BigEndian.Uint32(value))

		case hdrConnectionID:
			ids++
			assert.Equal(t, uint32(1), binary.BigEndian.Uint32(value))
		}
	})

	assert.Equal(t, 1, lengths)
	assert.Equal(t, 1, ids)
}

func TestParseHeadersStopsOnMalformedTail(t *testing.T) {
	hdrs := appendBytesHeader(nil, hdrBody, []byte{9, 9})

	// A declared length running past the buffer ends the walk.
	truncated := append(append([]byte{}, hdrs...), hdrName, 0xff, 0xff)

	var seen int
	parseHeaders(truncated, func(id byte, value []byte) { seen++ })

	assert.Equal(t, 1, seen)
}

func TestResponseError(t *testing.T) {
	err := errResponse(0xc3)
	assert.EqualError(t, err, "request rejected with code 0xc3")
}
