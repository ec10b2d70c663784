//go:build linux

// Package obexlink speaks the object-exchange wire protocol over an
// RFCOMM socket. It provides the concrete transport behind the
// transfer engine: one client per remote session, one exchange per
// object.
package obexlink

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"github.com/bluewire-org/bluetooth-hostd/obex"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Protocol opcodes. The high bit marks the final packet of a request.
const (
	opConnect    = 0x80
	opDisconnect = 0x81
	opPut        = 0x02
	opGet        = 0x03
	opAbort      = 0xff

	finalBit = 0x80

	rspContinue = 0x90
	rspSuccess  = 0xa0
)

// Header identifiers. The top two bits select the encoding.
const (
	hdrName         = 0x01
	hdrType         = 0x42
	hdrTarget       = 0x46
	hdrBody         = 0x48
	hdrEndOfBody    = 0x49
	hdrLength       = 0xc3
	hdrConnectionID = 0xcb
	hdrAppParams    = 0x4c
)

const (
	protocolVersion = 0x10

	// defaultMaxPacket is offered during connect; the remote's answer
	// caps every request we send.
	defaultMaxPacket = 0x2000

	// minPacketOverhead covers the request prefix plus one body header.
	minPacketOverhead = 3 + 3
)

// Client is one open object-exchange link to a remote device. The
// session carries one request at a time; the wire lock serializes an
// abort issued from another goroutine against in-flight requests.
type Client struct {
	mu        sync.Mutex
	fd        int
	address   bluetooth.MacAddress
	maxPacket int
	connID    uint32
	hasConnID bool
}

// Dial connects to the remote device's object-exchange service on the
// given channel and negotiates the session.
func Dial(address bluetooth.MacAddress, channel uint8, target uuid.UUID) (*Client, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "obexlink-socket",
				"address", address.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot open transfer socket"),
		)
	}

	// The kernel takes the address least significant byte first.
	var raw [6]byte
	for i := 0; i < 6; i++ {
		raw[i] = address[5-i]
	}

	if err := unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: raw, Channel: channel}); err != nil {
		unix.Close(fd)

		return nil, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "obexlink-connect",
				"address", address.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot connect to the transfer service"),
		)
	}

	c := &Client{fd: fd, address: address, maxPacket: defaultMaxPacket}

	if err := c.connect(target); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return c, nil
}

// connect performs the session handshake and records the remote's
// packet-size cap and connection identifier.
func (c *Client) connect(target uuid.UUID) error {
	payload := []byte{protocolVersion, 0x00, 0x00, 0x00}
	binary.BigEndian.PutUint16(payload[2:4], defaultMaxPacket)

	if target != uuid.Nil {
		payload = appendBytesHeader(payload, hdrTarget, target[:])
	}

	rsp, err := c.roundTrip(opConnect, payload)
	if err != nil {
		return err
	}

	// The response carries the code, then version, flags and the
	// remote's packet-size cap.
	if len(rsp) >= 5 {
		if max := int(binary.BigEndian.Uint16(rsp[3:5])); max > minPacketOverhead {
			c.maxPacket = max
		}

		parseHeaders(rsp[5:], func(id byte, value []byte) {
			if id == hdrConnectionID && len(value) == 4 {
				c.connID = binary.BigEndian.Uint32(value)
				c.hasConnID = true
			}
		})
	}

	return nil
}

// Close disconnects the session and releases the socket.
func (c *Client) Close() error {
	c.roundTrip(opDisconnect, c.idHeader(nil))

	return unix.Close(c.fd)
}

// StartGet begins retrieving the named object.
func (c *Client) StartGet(name, mimetype string, params []byte) (obex.Exchange, error) {
	x := &exchange{client: c, get: true}
	x.request = c.objectHeaders(name, mimetype, 0, params)

	if err := x.advance(); err != nil {
		return nil, err
	}

	return x, nil
}

// StartPut begins sending the named object of the given size.
func (c *Client) StartPut(name, mimetype string, size int64, params []byte) (obex.Exchange, error) {
	x := &exchange{client: c, size: size}
	x.request = c.objectHeaders(name, mimetype, size, params)

	return x, nil
}

// objectHeaders builds the header block naming an object.
func (c *Client) objectHeaders(name, mimetype string, size int64, params []byte) []byte {
	hdrs := c.idHeader(nil)

	if name != "" {
		hdrs = appendUnicodeHeader(hdrs, hdrName, name)
	}

	if mimetype != "" {
		hdrs = appendBytesHeader(hdrs, hdrType, append([]byte(mimetype), 0))
	}

	if size > 0 {
		hdrs = append(hdrs, hdrLength, 0, 0, 0, 0)
		binary.BigEndian.PutUint32(hdrs[len(hdrs)-4:], uint32(size))
	}

	if len(params) > 0 {
		hdrs = appendBytesHeader(hdrs, hdrAppParams, params)
	}

	return hdrs
}

// idHeader prefixes the session's connection identifier, when one was
// assigned.
func (c *Client) idHeader(hdrs []byte) []byte {
	if !c.hasConnID {
		return hdrs
	}

	hdrs = append(hdrs, hdrConnectionID, 0, 0, 0, 0)
	binary.BigEndian.PutUint32(hdrs[len(hdrs)-4:], c.connID)

	return hdrs
}

// roundTrip sends one request packet and reads the response payload.
// The response code must indicate continuation or success.
func (c *Client) roundTrip(opcode byte, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	packet := make([]byte, 3+len(payload))
	packet[0] = opcode
	binary.BigEndian.PutUint16(packet[1:3], uint16(len(packet)))
	copy(packet[3:], payload)

	if _, err := unix.Write(c.fd, packet); err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "obexlink-write",
				"address", c.address.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot send transfer packet"),
		)
	}

	return c.readResponse()
}

// readResponse reads one complete response packet and returns its
// payload, with the response code in the first byte.
func (c *Client) readResponse() ([]byte, error) {
	header := make([]byte, 3)
	if err := c.readFull(header); err != nil {
		return nil, err
	}

	code := header[0]
	length := int(binary.BigEndian.Uint16(header[1:3]))
	if length < 3 {
		length = 3
	}

	payload := make([]byte, length-3+1)
	payload[0] = code

	if err := c.readFull(payload[1:]); err != nil {
		return nil, err
	}

	if code != rspContinue && code != rspSuccess {
		return nil, fault.Wrap(errResponse(code),
			fctx.With(context.Background(),
				"error_at", "obexlink-response",
				"address", c.address.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("The remote rejected the transfer request"),
		)
	}

	return payload, nil
}

// readFull fills buf from the socket, resuming across partial reads
// and interrupts.
func (c *Client) readFull(buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := unix.Read(c.fd, buf[off:])
		if err == unix.EINTR {
			continue
		}

		if err != nil || n == 0 {
			if err == nil {
				err = unix.ENOTCONN
			}

			return fault.Wrap(err,
				fctx.With(context.Background(),
					"error_at", "obexlink-read",
					"address", c.address.String(),
				),
				ftag.With(ftag.Internal),
				fmsg.With("Cannot read transfer packet"),
			)
		}

		off += n
	}

	return nil
}
