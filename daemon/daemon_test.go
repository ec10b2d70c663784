package daemon

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"github.com/bluewire-org/bluetooth-hostd/api/config"
	"github.com/bluewire-org/bluetooth-hostd/api/errorkinds"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeControl records the control operations issued to one adapter.
type fakeControl struct {
	info bluetooth.AdapterInfo
	ops  *[]string
}

func (c *fakeControl) record(op string) {
	*c.ops = append(*c.ops, fmt.Sprintf("hci%d:%s", c.info.ID, op))
}

func (c *fakeControl) Info() (bluetooth.AdapterInfo, error) { return c.info, nil }

func (c *fakeControl) BringUp() error {
	c.record("bringup")
	return nil
}

func (c *fakeControl) SetScan(mode uint32) error {
	c.record(fmt.Sprintf("scan=%#x", mode))
	return nil
}

func (c *fakeControl) SetPacketType(ptype uint32) error {
	c.record(fmt.Sprintf("ptype=%#x", ptype))
	return nil
}

func (c *fakeControl) SetLinkMode(mode uint32) error {
	c.record(fmt.Sprintf("linkmode=%#x", mode))
	return nil
}

func (c *fakeControl) SetLinkPolicy(policy uint32) error {
	c.record(fmt.Sprintf("linkpolicy=%#x", policy))
	return nil
}

func (c *fakeControl) SendCommand(ogf, ocf uint16, payload []byte) error {
	c.record(fmt.Sprintf("cmd=%#x/%#x", ogf, ocf))
	return nil
}

func (c *fakeControl) Close() error { return nil }

// fakeTransport opens fake controls and keeps a shared operation log.
type fakeTransport struct {
	infos map[uint16]bluetooth.AdapterInfo
	ops   []string
}

func (t *fakeTransport) Open(id uint16) (bluetooth.AdapterControl, error) {
	info, ok := t.infos[id]
	if !ok {
		info = bluetooth.AdapterInfo{ID: id}
	}

	return &fakeControl{info: info, ops: &t.ops}, nil
}

// fakeChannel serves a fixed presence list and streams queued events.
// Closing it ends any blocked read, like closing the kernel socket.
type fakeChannel struct {
	present []bluetooth.AdapterPresence
	events  chan bluetooth.DeviceEvent
	closed  atomic.Bool
}

func (c *fakeChannel) ReadEvent() (*bluetooth.DeviceEvent, error) {
	ev, ok := <-c.events
	if !ok {
		return nil, errorkinds.ErrNotSupported
	}

	return &ev, nil
}

func (c *fakeChannel) ListAdapters() ([]bluetooth.AdapterPresence, error) {
	return c.present, nil
}

func (c *fakeChannel) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.events)
	}

	return nil
}

// recorder logs collaborator calls in order.
type recorder struct {
	calls []string
}

func (r *recorder) log(call string, id uint16) error {
	r.calls = append(r.calls, fmt.Sprintf("%s:hci%d", call, id))
	return nil
}

func (r *recorder) RegisterAdapter(adapter bluetooth.AdapterData) error {
	return r.log("register", adapter.ID)
}
func (r *recorder) UnregisterAdapter(id uint16) error { return r.log("unregister", id) }
func (r *recorder) AdapterStarted(id uint16) error    { return r.log("adapter-started", id) }
func (r *recorder) AdapterStopped(id uint16) error    { return r.log("adapter-stopped", id) }

type securityRecorder recorder

func (r *securityRecorder) Start(id uint16) error { return (*recorder)(r).log("security-start", id) }
func (r *securityRecorder) Stop(id uint16) error  { return (*recorder)(r).log("security-stop", id) }

type servicesRecorder recorder

func (r *servicesRecorder) Start(id uint16) error { return (*recorder)(r).log("services-start", id) }
func (r *servicesRecorder) Stop(id uint16) error  { return (*recorder)(r).log("services-stop", id) }

// fakeState serves canned persisted values.
type fakeState struct {
	mode    config.DeviceMode
	name    string
	class   *uint32
	timeout *uint32
}

func (s *fakeState) ReadDeviceMode(bluetooth.MacAddress) (config.DeviceMode, error) {
	if s.mode == "" {
		return "", errorkinds.ErrStateNotFound
	}

	return s.mode, nil
}

func (s *fakeState) ReadLocalName(bluetooth.MacAddress) (string, error) {
	if s.name == "" {
		return "", errorkinds.ErrStateNotFound
	}

	return s.name, nil
}

func (s *fakeState) ReadLocalClass(bluetooth.MacAddress) (uint32, error) {
	if s.class == nil {
		return 0, errorkinds.ErrStateNotFound
	}

	return *s.class, nil
}

func (s *fakeState) ReadDiscoverableTimeout(bluetooth.MacAddress) (uint32, error) {
	if s.timeout == nil {
		return 0, errorkinds.ErrStateNotFound
	}

	return *s.timeout, nil
}

type fixture struct {
	daemon    *Daemon
	transport *fakeTransport
	channel   *fakeChannel
	reg       *recorder
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	f := &fixture{
		transport: &fakeTransport{infos: map[uint16]bluetooth.AdapterInfo{}},
		channel:   &fakeChannel{events: make(chan bluetooth.DeviceEvent, 8)},
		reg:       &recorder{},
	}

	opts.Transport = f.transport
	opts.Channel = f.channel
	opts.Registration = f.reg
	opts.Security = (*securityRecorder)(f.reg)
	opts.Services = (*servicesRecorder)(f.reg)

	if opts.Registry == nil {
		opts.Registry = config.NewRegistry()
	}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	opts.Log = log

	f.daemon = New(opts)

	// Run workers inline so the tests observe a deterministic order.
	f.daemon.spawn = func(fn func()) { fn() }

	return f
}

func TestBootstrapOrders(t *testing.T) {
	f := newFixture(t, Options{Settings: config.Settings{AutoInit: true, Security: true}})
	f.channel.present = []bluetooth.AdapterPresence{
		{ID: 0, Up: true},
		{ID: 1, Up: false},
	}

	require.NoError(t, f.daemon.bootstrap())

	assert.Equal(t, []string{
		"register:hci0",
		"security-start:hci0",
		"services-start:hci0",
		"adapter-started:hci0",
		"register:hci1",
	}, f.reg.calls)

	adapter, err := f.daemon.Adapter(0)
	require.NoError(t, err)
	assert.Equal(t, bluetooth.StateUp, adapter.State)

	adapter, err = f.daemon.Adapter(1)
	require.NoError(t, err)
	assert.Equal(t, bluetooth.StateRegistered, adapter.State)
}

func TestStopAnnouncedBeforeTeardown(t *testing.T) {
	f := newFixture(t, Options{Settings: config.Settings{AutoInit: false, Security: true}})

	f.daemon.handleEvent(bluetooth.DeviceEvent{Kind: bluetooth.DeviceRegistered, ID: 0})
	f.daemon.handleEvent(bluetooth.DeviceEvent{Kind: bluetooth.DeviceUp, ID: 0})
	f.daemon.handleEvent(bluetooth.DeviceEvent{Kind: bluetooth.DeviceDown, ID: 0})

	assert.Equal(t, []string{
		"register:hci0",
		"security-start:hci0",
		"services-start:hci0",
		"adapter-started:hci0",
		"adapter-stopped:hci0",
		"security-stop:hci0",
		"services-stop:hci0",
	}, f.reg.calls)

	adapter, err := f.daemon.Adapter(0)
	require.NoError(t, err)
	assert.Equal(t, bluetooth.StateDown, adapter.State)
}

func TestStopWithoutPriorStart(t *testing.T) {
	f := newFixture(t, Options{Settings: config.Settings{Security: true}})

	// A down notification for an adapter the table never held still
	// reaches every collaborator.
	f.daemon.handleEvent(bluetooth.DeviceEvent{Kind: bluetooth.DeviceDown, ID: 9})

	assert.Equal(t, []string{
		"adapter-stopped:hci9",
		"security-stop:hci9",
		"services-stop:hci9",
	}, f.reg.calls)
	assert.Empty(t, f.daemon.Adapters())
}

func TestSecurityDisabled(t *testing.T) {
	f := newFixture(t, Options{Settings: config.Settings{AutoInit: false, Security: false}})

	f.daemon.handleEvent(bluetooth.DeviceEvent{Kind: bluetooth.DeviceRegistered, ID: 0})
	f.daemon.handleEvent(bluetooth.DeviceEvent{Kind: bluetooth.DeviceUp, ID: 0})

	assert.NotContains(t, f.reg.calls, "security-start:hci0")
	assert.Contains(t, f.reg.calls, "services-start:hci0")
}

func TestUnregisterUnknownAdapter(t *testing.T) {
	f := newFixture(t, Options{Settings: config.Settings{}})

	f.daemon.handleEvent(bluetooth.DeviceEvent{Kind: bluetooth.DeviceUnregistered, ID: 7})

	assert.Equal(t, []string{"unregister:hci7"}, f.reg.calls)
	assert.Empty(t, f.daemon.Adapters())
}

func TestUnregisterRemovesAdapter(t *testing.T) {
	f := newFixture(t, Options{Settings: config.Settings{}})

	f.daemon.handleEvent(bluetooth.DeviceEvent{Kind: bluetooth.DeviceRegistered, ID: 0})
	f.daemon.handleEvent(bluetooth.DeviceEvent{Kind: bluetooth.DeviceUnregistered, ID: 0})

	assert.Empty(t, f.daemon.Adapters())
}

func TestServeDeliversEvents(t *testing.T) {
	f := newFixture(t, Options{Settings: config.Settings{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.daemon.Serve(ctx) }()

	f.channel.events <- bluetooth.DeviceEvent{Kind: bluetooth.DeviceRegistered, ID: 3}

	require.Eventually(t, func() bool {
		_, err := f.daemon.Adapter(3)
		return err == nil
	}, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)

	case <-time.After(time.Second):
		t.Fatal("daemon did not stop")
	}

	// Shutdown closes the channel so the reader goroutine ends too.
	assert.True(t, f.channel.closed.Load())
}
