// Package obex implements the object-exchange transfer engine: sessions,
// in-flight get/put transfers, buffered chunked I/O, progress callbacks
// and cancellation.
package obex

// ObjectExchange is the underlying streaming transport for one session.
// Starting a get or a put yields an exchange handle carrying the object
// stream.
type ObjectExchange interface {
	// StartGet starts retrieving the named object.
	StartGet(name, mimetype string, params []byte) (Exchange, error)

	// StartPut starts sending the named object of the given size.
	// A negative size means the size is unknown.
	StartPut(name, mimetype string, size int64, params []byte) (Exchange, error)

	// Close tears the session's transport down.
	Close() error
}

// Exchange is an opaque handle to one active streamed object transfer.
// The transport invokes the registered progress function on its own
// readiness notifications; each invocation performs exactly one
// read-or-write step.
type Exchange interface {
	// SetProgress registers the progress function.
	SetProgress(fn func())

	// Read reads the next chunk of the object into p.
	Read(p []byte) (int, error)

	// Write offers p to the transport and returns how many bytes it
	// accepted.
	Write(p []byte) (int, error)

	// Flush requests delivery of buffered data.
	Flush() error

	// ObjectSize reports the total object size, once known.
	ObjectSize() int64

	// Done reports whether the object is complete.
	Done() bool

	// Abort cancels the exchange.
	Abort()

	// Close releases the exchange handle.
	Close() error
}
