// Package daemon drives the adapter lifecycle: it consumes kernel
// device notifications from the control channel, keeps the adapter
// table, and applies the configured options to adapters as they
// register and come up.
package daemon

import (
	"context"
	"fmt"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"github.com/bluewire-org/bluetooth-hostd/api/config"
	"github.com/bluewire-org/bluetooth-hostd/api/helpers/adapterstore"
	"github.com/sirupsen/logrus"
)

// SecurityManager handles link-level security on one adapter.
type SecurityManager interface {
	Start(id uint16) error
	Stop(id uint16) error
}

// Registration exposes adapters on the external surface as they appear
// and disappear.
type Registration interface {
	RegisterAdapter(adapter bluetooth.AdapterData) error
	UnregisterAdapter(id uint16) error
	AdapterStarted(id uint16) error
	AdapterStopped(id uint16) error
}

// Services starts and stops the per-adapter service stack.
type Services interface {
	Start(id uint16) error
	Stop(id uint16) error
}

// StateStore reads the persisted per-adapter state consulted during
// configuration. Absent values are reported as
// errorkinds.ErrStateNotFound.
type StateStore interface {
	ReadDeviceMode(address bluetooth.MacAddress) (config.DeviceMode, error)
	ReadLocalName(address bluetooth.MacAddress) (string, error)
	ReadLocalClass(address bluetooth.MacAddress) (uint32, error)
	ReadDiscoverableTimeout(address bluetooth.MacAddress) (uint32, error)
}

// LoadConfigFunc reloads the option registry from the configuration
// source and returns the daemon settings.
type LoadConfigFunc func(reg *config.Registry) (config.Settings, error)

// Options configures a daemon.
type Options struct {
	// Registry holds the per-device options.
	Registry *config.Registry

	// Transport opens adapter control handles.
	Transport bluetooth.ControlTransport

	// Channel delivers kernel device notifications.
	Channel bluetooth.ControlChannel

	// Security, Registration and Services are the per-adapter
	// collaborators notified as adapters change state. Any of them
	// may be nil.
	Security     SecurityManager
	Registration Registration
	Services     Services

	// State reads persisted adapter state. May be nil.
	State StateStore

	// LoadConfig re-reads the configuration on reload. May be nil,
	// in which case a reload only reapplies the current registry.
	LoadConfig LoadConfigFunc

	// Settings holds the initial daemon settings.
	Settings config.Settings

	// Hostname is substituted for the %h placeholder in configured
	// adapter names.
	Hostname string

	// Log receives the daemon's structured log output.
	Log *logrus.Logger
}

// Daemon is the adapter lifecycle engine. All adapter table mutation
// happens on the single goroutine running Serve; workers touching the
// kernel run detached and never mutate the table.
type Daemon struct {
	opts     Options
	store    adapterstore.Store
	settings config.Settings
	log      *logrus.Logger

	reloadc chan struct{}

	// spawn runs a detached worker.
	spawn func(fn func())
}

// New returns a daemon over the provided collaborators.
func New(opts Options) *Daemon {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	d := &Daemon{
		opts:     opts,
		store:    adapterstore.New(),
		settings: opts.Settings,
		log:      log,
		reloadc:  make(chan struct{}, 1),
	}

	d.spawn = func(fn func()) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.WithField("panic", r).
						Error("Adapter worker panicked")
				}
			}()

			fn()
		}()
	}

	return d
}

// Adapters returns the current adapter table.
func (d *Daemon) Adapters() []bluetooth.AdapterData {
	return d.store.Adapters()
}

// Adapter returns the table entry for one adapter index.
func (d *Daemon) Adapter(id uint16) (bluetooth.AdapterData, error) {
	return d.store.Adapter(id)
}

// Reload schedules a configuration reload. Reloads coalesce if one is
// already pending.
func (d *Daemon) Reload() {
	select {
	case d.reloadc <- struct{}{}:
	default:
	}
}

// Serve enumerates the adapters already present, then consumes device
// notifications until the context is canceled or the control channel
// fails. It blocks for the daemon's lifetime. On cancellation the
// control channel is closed, which unblocks the reader goroutine and
// ends it with the daemon.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := d.bootstrap(); err != nil {
		return err
	}

	events := make(chan bluetooth.DeviceEvent)
	readErr := make(chan error, 1)

	go d.readLoop(ctx, events, readErr)

	for {
		select {
		case <-ctx.Done():
			d.opts.Channel.Close()

			return ctx.Err()

		case err := <-readErr:
			return err

		case <-d.reloadc:
			d.reload()

		case ev := <-events:
			d.handleEvent(ev)
		}
	}
}

// readLoop reads device notifications off the control channel and
// forwards them to the reactor. A read error ends the loop and the
// daemon with it.
func (d *Daemon) readLoop(ctx context.Context, events chan<- bluetooth.DeviceEvent, readErr chan<- error) {
	for {
		ev, err := d.opts.Channel.ReadEvent()
		if err != nil {
			readErr <- fault.Wrap(err,
				fctx.With(context.Background(),
					"error_at", "daemon-read-loop",
				),
				ftag.With(ftag.Internal),
				fmsg.With("Control channel failed"),
			)

			return
		}

		if ev == nil {
			continue
		}

		select {
		case events <- *ev:
		case <-ctx.Done():
			return
		}
	}
}

// bootstrap walks the adapters already present when the daemon starts
// and runs each through the same lifecycle steps a live notification
// would trigger: registration first, then start-up for adapters that
// are already up.
func (d *Daemon) bootstrap() error {
	present, err := d.opts.Channel.ListAdapters()
	if err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "daemon-bootstrap",
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot enumerate adapters"),
		)
	}

	for _, p := range present {
		d.handleEvent(bluetooth.DeviceEvent{Kind: bluetooth.DeviceRegistered, ID: p.ID})

		if p.Up {
			d.handleEvent(bluetooth.DeviceEvent{Kind: bluetooth.DeviceUp, ID: p.ID})
		}
	}

	return nil
}

// reload re-reads the configuration into a reset registry and reapplies
// it to every adapter that is currently up.
func (d *Daemon) reload() {
	d.log.Info("Reloading configuration")

	if d.opts.LoadConfig != nil {
		d.opts.Registry.ResetAll()

		settings, err := d.opts.LoadConfig(d.opts.Registry)
		if err != nil {
			d.log.WithError(err).Error("Configuration reload failed")
			return
		}

		d.settings = settings
	}

	present, err := d.opts.Channel.ListAdapters()
	if err != nil {
		d.log.WithError(err).Error("Cannot enumerate adapters on reload")
		return
	}

	for _, p := range present {
		if p.Up && d.settings.AutoInit {
			id := p.ID
			d.spawn(func() { d.configureAdapter(id) })
		}
	}
}

// handleEvent dispatches one device notification.
func (d *Daemon) handleEvent(ev bluetooth.DeviceEvent) {
	d.log.WithFields(logrus.Fields{
		"adapter": ev.ID,
		"event":   ev.Kind.String(),
	}).Info("Device notification")

	switch ev.Kind {
	case bluetooth.DeviceRegistered:
		d.registered(ev.ID)

	case bluetooth.DeviceUnregistered:
		d.unregistered(ev.ID)

	case bluetooth.DeviceUp:
		d.started(ev.ID)

	case bluetooth.DeviceDown:
		d.stopped(ev.ID)
	}
}

// registered admits a new adapter: start it in the background when
// auto-initialization is on, add it to the table, and announce it.
func (d *Daemon) registered(id uint16) {
	if d.settings.AutoInit {
		d.spawn(func() { d.initAdapter(id) })
	}

	adapter := bluetooth.AdapterData{
		Name: fmt.Sprintf("hci%d", id),
		AdapterEventData: bluetooth.AdapterEventData{
			ID:    id,
			State: bluetooth.StateRegistered,
		},
	}

	d.store.Add(adapter)

	if d.opts.Registration != nil {
		if err := d.opts.Registration.RegisterAdapter(adapter); err != nil {
			d.log.WithError(err).WithField("adapter", id).
				Error("Cannot register adapter externally")
		}
	}

	bluetooth.AdapterEvents().PublishAdded(adapter.AdapterEventData)
}

// unregistered retires an adapter. Retiring an adapter the table never
// held is harmless.
func (d *Daemon) unregistered(id uint16) {
	if d.opts.Registration != nil {
		if err := d.opts.Registration.UnregisterAdapter(id); err != nil {
			d.log.WithError(err).WithField("adapter", id).
				Error("Cannot unregister adapter externally")
		}
	}

	adapter, err := d.store.Adapter(id)
	if err != nil {
		return
	}

	d.store.Remove(id)

	adapter.State = bluetooth.StateUnregistered
	bluetooth.AdapterEvents().PublishRemoved(adapter.AdapterEventData)
}

// started brings an adapter into service: configure it in the
// background when auto-initialization is on, then start security and
// the service stack before announcing it on the external surface.
func (d *Daemon) started(id uint16) {
	if d.settings.AutoInit {
		d.spawn(func() { d.configureAdapter(id) })
	}

	if d.settings.Security && d.opts.Security != nil {
		if err := d.opts.Security.Start(id); err != nil {
			d.log.WithError(err).WithField("adapter", id).
				Error("Cannot start security manager")
		}
	}

	if d.opts.Services != nil {
		if err := d.opts.Services.Start(id); err != nil {
			d.log.WithError(err).WithField("adapter", id).
				Error("Cannot start adapter services")
		}
	}

	if d.opts.Registration != nil {
		if err := d.opts.Registration.AdapterStarted(id); err != nil {
			d.log.WithError(err).WithField("adapter", id).
				Error("Cannot announce adapter start")
		}
	}

	data, err := d.store.Update(id, func(adapter *bluetooth.AdapterData) error {
		adapter.State = bluetooth.StateUp

		return nil
	})
	if err != nil {
		return
	}

	bluetooth.AdapterEvents().PublishUpdated(data)
}

// stopped takes an adapter out of service. The external surface hears
// about the stop before security and the service stack wind down.
func (d *Daemon) stopped(id uint16) {
	if d.opts.Registration != nil {
		if err := d.opts.Registration.AdapterStopped(id); err != nil {
			d.log.WithError(err).WithField("adapter", id).
				Error("Cannot announce adapter stop")
		}
	}

	if d.settings.Security && d.opts.Security != nil {
		if err := d.opts.Security.Stop(id); err != nil {
			d.log.WithError(err).WithField("adapter", id).
				Error("Cannot stop security manager")
		}
	}

	if d.opts.Services != nil {
		if err := d.opts.Services.Stop(id); err != nil {
			d.log.WithError(err).WithField("adapter", id).
				Error("Cannot stop adapter services")
		}
	}

	data, err := d.store.Update(id, func(adapter *bluetooth.AdapterData) error {
		adapter.State = bluetooth.StateDown

		return nil
	})
	if err != nil {
		return
	}

	bluetooth.AdapterEvents().PublishUpdated(data)
}
