//go:build linux

package obexlink

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unicode/utf16"
)

// responseError is a rejection code returned by the remote.
type responseError byte

func (e responseError) Error() string {
	return fmt.Sprintf("request rejected with code 0x%02x", byte(e))
}

func errResponse(code byte) error {
	return responseError(code)
}

// exchange is one object retrieval or submission on a client link.
type exchange struct {
	client *Client

	get bool

	// request holds the object headers, sent with the first packet
	// of the operation.
	request []byte
	started bool

	// body holds retrieved bytes not yet handed to the caller.
	body []byte

	size      int64
	written   int64
	finalSent bool
	done      bool
	err       error

	aborted atomic.Bool
	step    func()
}

// SetProgress registers the caller's step function and starts pumping
// it. The pump runs each step in turn until the exchange completes,
// fails or is aborted; the step function itself drives all reads and
// writes, so it is never invoked concurrently.
func (x *exchange) SetProgress(fn func()) {
	x.step = fn

	go x.pump()
}

func (x *exchange) pump() {
	for !x.aborted.Load() && x.err == nil && !x.Done() {
		x.step()
	}
}

// Done reports whether the object has been fully exchanged and, for a
// retrieval, fully consumed by the caller.
func (x *exchange) Done() bool {
	if x.get {
		return x.done && len(x.body) == 0
	}

	return x.finalSent
}

// ObjectSize returns the object's total size, once known.
func (x *exchange) ObjectSize() int64 {
	return x.size
}

// Abort stops the exchange and tells the remote to discard the
// operation.
func (x *exchange) Abort() {
	if !x.aborted.CompareAndSwap(false, true) {
		return
	}

	x.client.roundTrip(opAbort|finalBit, x.client.idHeader(nil))
}

// Close detaches the exchange from the link. The link itself stays
// open for further operations and is closed with the session. Only the
// abort flag is touched here: the body and bookkeeping fields belong
// to the pump goroutine.
func (x *exchange) Close() error {
	x.aborted.Store(true)

	return nil
}

// Read hands out retrieved object bytes, fetching the next chunk from
// the remote when the pending body is exhausted.
func (x *exchange) Read(p []byte) (int, error) {
	if x.err != nil {
		return 0, x.err
	}

	if len(x.body) == 0 && !x.done {
		if err := x.advance(); err != nil {
			return 0, err
		}
	}

	n := copy(p, x.body)
	x.body = x.body[n:]

	return n, nil
}

// advance issues one retrieval request and folds the response's body
// and length headers into the exchange.
func (x *exchange) advance() error {
	payload := x.client.idHeader(nil)
	if !x.started {
		payload = x.request
		x.started = true
	}

	rsp, err := x.client.roundTrip(opGet|finalBit, payload)
	if err != nil {
		x.err = err
		return err
	}

	parseHeaders(rsp[1:], func(id byte, value []byte) {
		switch id {
		case hdrLength:
			if len(value) == 4 {
				x.size = int64(binary.BigEndian.Uint32(value))
			}

		case hdrBody, hdrEndOfBody:
			x.body = append(x.body, value...)
		}
	})

	if rsp[0] == rspSuccess {
		x.done = true
	}

	return nil
}

// chunkCap returns the object bytes that fit into one request packet
// alongside its headers.
func (x *exchange) chunkCap() int {
	limit := x.client.maxPacket - 16

	if !x.started {
		limit -= len(x.request)
	}

	if limit < 1 {
		limit = 1
	}

	return limit
}

// Write submits object bytes to the remote, one packet per call. The
// packet carrying the last byte of the object is sent as the final
// packet. Write accepts at most one packet's worth of p and reports
// how much it took.
func (x *exchange) Write(p []byte) (int, error) {
	if x.err != nil {
		return 0, x.err
	}

	n := len(p)
	if max := x.chunkCap(); n > max {
		n = max
	}

	var payload []byte
	if !x.started {
		payload = x.request
		x.started = true
	} else {
		payload = x.client.idHeader(nil)
	}

	opcode := byte(opPut)
	bodyHdr := byte(hdrBody)

	if x.written+int64(n) == x.size {
		opcode |= finalBit
		bodyHdr = hdrEndOfBody
	}

	payload = appendBytesHeader(payload, bodyHdr, p[:n])

	if _, err := x.client.roundTrip(opcode, payload); err != nil {
		x.err = err
		return 0, err
	}

	x.written += int64(n)
	if opcode&finalBit != 0 {
		x.finalSent = true
	}

	return n, nil
}

// Flush finalizes a submission whose last Write did not carry the
// closing packet, such as a zero-length object. It is otherwise a
// no-op; retrievals fetch on demand in Read.
func (x *exchange) Flush() error {
	if x.get || x.finalSent || x.err != nil {
		return nil
	}

	if x.written != x.size {
		return nil
	}

	payload := x.client.idHeader(nil)
	if !x.started {
		payload = x.request
		x.started = true
	}

	payload = appendBytesHeader(payload, hdrEndOfBody, nil)

	if _, err := x.client.roundTrip(opPut|finalBit, payload); err != nil {
		x.err = err
		return err
	}

	x.finalSent = true

	return nil
}

// appendBytesHeader appends a byte-sequence header.
func appendBytesHeader(hdrs []byte, id byte, value []byte) []byte {
	hdrs = append(hdrs, id, 0, 0)
	binary.BigEndian.PutUint16(hdrs[len(hdrs)-2:], uint16(3+len(value)))

	return append(hdrs, value...)
}

// appendUnicodeHeader appends a name header, encoded big-endian
// sixteen-bit with a terminator.
func appendUnicodeHeader(hdrs []byte, id byte, value string) []byte {
	units := utf16.Encode([]rune(value))

	hdrs = append(hdrs, id, 0, 0)
	binary.BigEndian.PutUint16(hdrs[len(hdrs)-2:], uint16(3+2*len(units)+2))

	for _, u := range units {
		hdrs = append(hdrs, byte(u>>8), byte(u))
	}

	return append(hdrs, 0, 0)
}

// parseHeaders walks a header block, handing each identifier and value
// to fn. Malformed trailing bytes are ignored.
func parseHeaders(buf []byte, fn func(id byte, value []byte)) {
	for len(buf) > 0 {
		id := buf[0]

		switch id & 0xc0 {
		case 0x80:
			if len(buf) < 2 {
				return
			}

			fn(id, buf[1:2])
			buf = buf[2:]

		case 0xc0:
			if len(buf) < 5 {
				return
			}

			fn(id, buf[1:5])
			buf = buf[5:]

		default:
			if len(buf) < 3 {
				return
			}

			length := int(binary.BigEndian.Uint16(buf[1:3]))
			if length < 3 || length > len(buf) {
				return
			}

			fn(id, buf[3:length])
			buf = buf[length:]
		}
	}
}
