package obex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"github.com/bluewire-org/bluetooth-hostd/api/errorkinds"
	"github.com/godbus/dbus/v5"
)

// counter assigns the externally visible transfer numbers; values are
// monotonic and never reused.
var counter atomic.Uint64

// TransferFunc is the completion callback of a transfer. It is invoked
// once per progress step with the cumulative transferred count and the
// current error (nil while healthy), and exactly once for any terminal
// condition. Callers infer completion by comparing the transferred count
// to the total size or by observing a non-nil error. Invocations are
// serialized; the callback runs with the transfer's lock held and must
// not call back into the transfer.
type TransferFunc func(t *Transfer, transferred int64, err error)

// Transfer is one registered get or put operation on a session.
type Transfer struct {
	session *Session

	id   uint64
	path dbus.ObjectPath

	name     string
	filename string
	mimetype string
	params   []byte

	// mu serializes the transport's progress steps against Abort and
	// teardown. The transport drives the steps from its own goroutine
	// while aborts arrive from the session's callers, so every access
	// to the fields below goes through it.
	mu          sync.Mutex
	buf         buffer
	size        int64
	transferred int64
	lastErr     error

	file     *os.File
	xfer     Exchange
	callback TransferFunc
}

// protocolObject reports whether the mime type names an internal
// protocol object, which needs no externally addressable handle.
func protocolObject(mimetype string) bool {
	return strings.HasPrefix(mimetype, "x-obex/") ||
		strings.HasPrefix(mimetype, "x-bt/")
}

// listingObject reports whether the mime type names a bounded textual
// listing, buffered fully in memory.
func listingObject(mimetype string) bool {
	return mimetype == "x-bt/vcard-listing" ||
		mimetype == "x-obex/folder-listing"
}

// Register creates a transfer on the session, taking a counted session
// reference. Unless the payload is an internal protocol object, the
// transfer is exposed at a unique externally visible path.
func Register(session *Session, filename, name, mimetype string, params []byte) (*Transfer, error) {
	t := &Transfer{
		session:  session.Ref(),
		id:       counter.Add(1),
		filename: filename,
		name:     name,
		mimetype: mimetype,
		params:   params,
	}

	if !protocolObject(mimetype) {
		t.path = dbus.ObjectPath(fmt.Sprintf("%s/transfer%d", transferBasePath, t.id))

		if err := t.export(); err != nil {
			t.free()
			return nil, err
		}
	}

	session.pending.Store(t.id, t)

	bluetooth.TransferEvents().PublishAdded(t.Data().TransferEventData)

	return t, nil
}

// Unregister unexposes the transfer's externally visible path, if one
// was allocated, and runs full teardown: the exchange handle and file
// descriptor are closed, the transfer leaves the session's pending
// collection and the session reference is released. Unregister always
// runs the full cleanup, whether or not an exchange was ever started.
func (t *Transfer) Unregister() {
	t.unexport()
	t.free()
}

// free releases everything the transfer owns.
func (t *Transfer) free() {
	t.mu.Lock()

	if t.xfer != nil {
		t.xfer.Close()
		t.xfer = nil
	}

	if t.file != nil {
		t.file.Close()
		t.file = nil
	}

	t.buf = buffer{}
	t.params = nil

	data := t.data()
	t.mu.Unlock()

	t.session.pending.Delete(t.id)
	t.session.Unref()

	bluetooth.TransferEvents().PublishRemoved(data.TransferEventData)
}

// ID returns the transfer's externally visible number.
func (t *Transfer) ID() uint64 {
	return t.id
}

// Path returns the transfer's externally visible object path, if one
// was allocated.
func (t *Transfer) Path() dbus.ObjectPath {
	return t.path
}

// Name returns the object name.
func (t *Transfer) Name() string {
	return t.name
}

// Filename returns the file name.
func (t *Transfer) Filename() string {
	return t.filename
}

// Type returns the object's mime type.
func (t *Transfer) Type() string {
	return t.mimetype
}

// Size returns the total expected size.
func (t *Transfer) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.size
}

// Transferred returns the cumulative transferred byte count.
func (t *Transfer) Transferred() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.transferred
}

// Session returns the owning session.
func (t *Transfer) Session() *Session {
	return t.session
}

// Active reports whether an exchange is attached.
func (t *Transfer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.xfer != nil
}

// SetBuffer makes data the resident source payload for a put.
func (t *Transfer) SetBuffer(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = buffer{data: data, filled: len(data)}
	t.size = int64(len(data))
}

// Listing returns the accumulated listing payload, up to its
// end-of-listing terminator.
func (t *Transfer) Listing() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.listing()
}

func (t *Transfer) listing() []byte {
	b := t.buf.valid()
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}

	return b
}

// Data returns the transfer's event data snapshot.
func (t *Transfer) Data() bluetooth.TransferData {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.data()
}

func (t *Transfer) data() bluetooth.TransferData {
	status := bluetooth.TransferQueued

	switch {
	case t.lastErr == errorkinds.ErrTransferCanceled:
		status = bluetooth.TransferCanceled

	case t.lastErr != nil:
		status = bluetooth.TransferError

	case t.size > 0 && t.transferred == t.size:
		status = bluetooth.TransferComplete

	case t.xfer != nil:
		status = bluetooth.TransferActive
	}

	return bluetooth.TransferData{
		Name:     t.name,
		Type:     t.mimetype,
		Filename: t.filename,
		TransferEventData: bluetooth.TransferEventData{
			SessionID:   t.session.id,
			Status:      status,
			Size:        uint64(t.size),
			Transferred: uint64(t.transferred),
		},
	}
}

// Get starts retrieving the object. Listing payloads accumulate into a
// growable in-memory buffer; any other payload streams into the
// destination file as chunks arrive.
func (t *Transfer) Get(fn TransferFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.xfer != nil {
		return fault.Wrap(errorkinds.ErrTransferActive,
			fctx.With(context.Background(),
				"error_at", "transfer-get-active",
				"name", t.filename,
			),
			ftag.With(ftag.Internal),
			fmsg.With("A transfer is already in progress"),
		)
	}

	var step func()

	if listingObject(t.mimetype) {
		step = t.listingStep
	} else {
		target := t.name
		if target == "" {
			target = t.filename
		}

		file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE, 0o600)
		if err != nil {
			return fault.Wrap(err,
				fctx.With(context.Background(),
					"error_at", "transfer-get-open",
					"filename", target,
				),
				ftag.With(ftag.Internal),
				fmsg.With("Cannot open destination file"),
			)
		}

		t.file = file
		step = t.getStep
	}

	xfer, err := t.session.exchange.StartGet(t.filename, t.mimetype, t.params)
	if err != nil || xfer == nil {
		return fault.Wrap(errorkinds.ErrTransferNotConnected,
			fctx.With(context.Background(),
				"error_at", "transfer-get-start",
				"name", t.filename,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot start the object exchange"),
		)
	}

	t.callback = fn
	t.xfer = xfer
	xfer.SetProgress(step)

	return nil
}

// Put starts sending the object. A resident buffer is drained directly;
// otherwise the source file is streamed chunk by chunk.
func (t *Transfer) Put(fn TransferFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.xfer != nil {
		return fault.Wrap(errorkinds.ErrTransferActive,
			fctx.With(context.Background(),
				"error_at", "transfer-put-active",
				"name", t.name,
			),
			ftag.With(ftag.Internal),
			fmsg.With("A transfer is already in progress"),
		)
	}

	var step func()

	if t.buf.filled > 0 {
		step = t.putBufferStep
	} else {
		file, err := os.Open(t.filename)
		if err != nil {
			return fault.Wrap(err,
				fctx.With(context.Background(),
					"error_at", "transfer-put-open",
					"filename", t.filename,
				),
				ftag.With(ftag.NotFound),
				fmsg.With("Cannot open source file"),
			)
		}

		stat, err := file.Stat()
		if err != nil {
			file.Close()
			return fault.Wrap(err,
				fctx.With(context.Background(),
					"error_at", "transfer-put-stat",
					"filename", t.filename,
				),
				ftag.With(ftag.Internal),
				fmsg.With("Cannot stat source file"),
			)
		}

		t.file = file
		t.size = stat.Size()
		step = t.putFileStep
	}

	xfer, err := t.session.exchange.StartPut(t.name, t.mimetype, t.size, t.params)
	if err != nil || xfer == nil {
		return fault.Wrap(errorkinds.ErrTransferNotConnected,
			fctx.With(context.Background(),
				"error_at", "transfer-put-start",
				"name", t.name,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot start the object exchange"),
		)
	}

	t.callback = fn
	t.xfer = xfer
	xfer.SetProgress(step)

	return nil
}

// Abort cancels the active exchange, if any, releases its handle and
// hands the callback a canceled status with the current transferred
// count. This is the only completion not driven by the transport;
// aborting an idle transfer is a no-op. Abort serializes against the
// transport's steps, so the canceled callback never overlaps a
// progress callback, and a step that lost the race to an abort sees
// the exchange gone and returns without reporting.
func (t *Transfer) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.xfer == nil {
		return
	}

	t.xfer.Abort()
	t.xfer.Close()
	t.xfer = nil

	t.lastErr = errorkinds.ErrTransferCanceled

	if t.callback != nil {
		t.callback(t, t.transferred, errorkinds.ErrTransferCanceled)
	}
}

// notify invokes the completion callback with the current state.
func (t *Transfer) notify() {
	if t.callback != nil {
		t.callback(t, t.transferred, t.lastErr)
	}
}

// listingStep accumulates one chunk of a listing payload. The buffer
// grows by one increment whenever headroom drops below the increment;
// a trailing terminator byte marks end-of-listing. The callback runs
// only once the listing is complete or the exchange failed.
func (t *Transfer) listingStep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.xfer == nil {
		return
	}

	t.buf.reserve(growthIncrement)

	n, err := t.xfer.Read(t.buf.headroom())
	if err != nil {
		t.lastErr = err
		t.finishListing()
		return
	}

	t.buf.filled += n

	if !t.xfer.Done() {
		return
	}

	if t.buf.filled == 0 || t.buf.data[t.buf.filled-1] != 0 {
		t.buf.reserve(1)
		t.buf.data[t.buf.filled] = 0
		t.buf.filled++
	}

	t.finishListing()
}

// finishListing records the listing length and completes.
func (t *Transfer) finishListing() {
	t.size = int64(len(t.listing()))
	t.transferred = t.size
	t.notify()
}

// getStep reads one chunk of a streamed get, flushes it to the
// destination file and resets the fill counter, then reports progress.
func (t *Transfer) getStep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.xfer == nil {
		return
	}

	t.buf.reserve(growthIncrement)

	n, err := t.xfer.Read(t.buf.headroom())
	if err != nil {
		t.lastErr = err
		t.notify()
		return
	}

	t.buf.filled += n
	t.transferred += int64(n)

	if t.size == 0 {
		t.size = t.xfer.ObjectSize()
	}

	if t.file != nil {
		if _, werr := t.file.Write(t.buf.valid()); werr != nil {
			t.lastErr = werr
			t.xfer.Abort()
			t.notify()
			return
		}

		t.buf.reset()
	}

	if t.transferred != t.size {
		t.xfer.Flush()
	}

	t.notify()
}

// putBufferStep drains one chunk of a resident source buffer.
func (t *Transfer) putBufferStep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.xfer == nil {
		return
	}

	if t.transferred == t.size {
		if err := t.xfer.Flush(); err != nil {
			t.lastErr = err
		}

		t.notify()
		return
	}

	n, err := t.xfer.Write(t.buf.data[t.transferred:t.size])
	if err != nil {
		t.lastErr = err
		t.notify()
		return
	}

	if err := t.xfer.Flush(); err != nil {
		t.lastErr = err
		t.notify()
		return
	}

	t.transferred += int64(n)
	t.notify()
}

// putFileStep streams one step of a source file: read a chunk, offer it
// to the transport, and retain only unwritten bytes at the buffer start.
// The step loops while the transport drains the buffer completely and
// yields once it stops accepting, resuming on the next wakeup.
func (t *Transfer) putFileStep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.xfer == nil {
		return
	}

	t.buf.reserve(growthIncrement)

	for {
		n, rerr := t.file.Read(t.buf.headroom())
		if rerr != nil && rerr != io.EOF {
			t.lastErr = rerr
			break
		}

		t.buf.filled += n
		if t.buf.filled == 0 {
			// Source exhausted and fully drained.
			break
		}

		w, werr := t.xfer.Write(t.buf.valid())
		if w > 0 {
			t.transferred += int64(w)
			t.buf.consume(w)
		}

		if werr != nil {
			t.lastErr = werr
			break
		}

		if t.buf.filled > 0 || rerr == io.EOF {
			break
		}
	}

	t.notify()
}
