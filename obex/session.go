package obex

import (
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/xid"
)

// TargetObjectPush is the service UUID of the object push profile, the
// default target for new sessions.
var TargetObjectPush = uuid.MustParse("00001105-0000-1000-8000-00805f9b34fb")

// Session is one open object-exchange session. Transfers hold a counted
// reference to their session, so a session outlives every transfer that
// belongs to it; the session's pending collection is a non-owning
// back-reference used for enumeration and cancellation only.
type Session struct {
	id     string
	target uuid.UUID

	conn  *dbus.Conn
	agent string

	exchange ObjectExchange
	pending  *xsync.MapOf[uint64, *Transfer]

	refs   atomic.Int64
	closed atomic.Bool
}

// SessionOption configures a new session.
type SessionOption func(*Session)

// WithConn attaches the bus connection used to expose transfers
// externally.
func WithConn(conn *dbus.Conn) SessionOption {
	return func(s *Session) {
		s.conn = conn
	}
}

// WithAgent registers the controlling agent: the only identity
// authorized to cancel the session's transfers externally.
func WithAgent(agent string) SessionOption {
	return func(s *Session) {
		s.agent = agent
	}
}

// WithTarget selects the target service of the session.
func WithTarget(target uuid.UUID) SessionOption {
	return func(s *Session) {
		s.target = target
	}
}

// NewSession returns a session over the given transport. The caller
// holds the initial reference and releases it with Unref.
func NewSession(exchange ObjectExchange, opts ...SessionOption) *Session {
	s := &Session{
		id:       xid.New().String(),
		target:   TargetObjectPush,
		exchange: exchange,
		pending:  xsync.NewMapOf[uint64, *Transfer](),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.refs.Store(1)

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Target returns the session's target service UUID.
func (s *Session) Target() uuid.UUID {
	return s.target
}

// Agent returns the controlling agent identity.
func (s *Session) Agent() string {
	return s.agent
}

// SetAgent registers the controlling agent identity.
func (s *Session) SetAgent(agent string) {
	s.agent = agent
}

// Authorized reports whether the requester identity matches the
// session's controlling agent.
func (s *Session) Authorized(sender string) bool {
	return s.agent != "" && sender == s.agent
}

// Ref takes a counted reference on the session.
func (s *Session) Ref() *Session {
	s.refs.Add(1)

	return s
}

// Unref releases one counted reference. When the last reference is
// dropped the session's transport is closed.
func (s *Session) Unref() {
	if s.refs.Add(-1) > 0 {
		return
	}

	if s.closed.CompareAndSwap(false, true) && s.exchange != nil {
		s.exchange.Close()
	}
}

// Refs returns the current reference count.
func (s *Session) Refs() int64 {
	return s.refs.Load()
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Pending returns the session's in-flight transfers.
func (s *Session) Pending() []*Transfer {
	transfers := make([]*Transfer, 0, s.pending.Size())

	s.pending.Range(func(_ uint64, t *Transfer) bool {
		transfers = append(transfers, t)

		return true
	})

	return transfers
}

// CancelAll aborts every pending transfer.
func (s *Session) CancelAll() {
	for _, t := range s.Pending() {
		t.Abort()
	}
}

// Shutdown unregisters every pending transfer and releases the caller's
// session reference.
func (s *Session) Shutdown() {
	for _, t := range s.Pending() {
		t.Unregister()
	}

	s.Unref()
}
