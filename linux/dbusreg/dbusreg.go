//go:build linux

// Package dbusreg exposes adapters on the system bus. Each registered
// adapter is exported as an object with its own properties, and the
// manager object emits a signal for every lifecycle transition.
package dbusreg

import (
	"context"
	"fmt"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"github.com/bluewire-org/bluetooth-hostd/api/errorkinds"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/puzpuzpuz/xsync/v3"
)

// The bus names and paths of the external surface.
const (
	BusName      = "org.bluewire.hostd"
	ManagerPath  = dbus.ObjectPath("/org/bluewire/hostd")
	ManagerIface = "org.bluewire.hostd.Manager1"
	AdapterIface = "org.bluewire.hostd.Adapter1"

	introspectableIface = "org.freedesktop.DBus.Introspectable"
)

// Registrar exports adapters on a bus connection.
type Registrar struct {
	conn     *dbus.Conn
	adapters *xsync.MapOf[uint16, bluetooth.AdapterData]
}

// New connects to the system bus, claims the daemon's bus name and
// returns a registrar over the connection.
func New() (*Registrar, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "dbusreg-connect",
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot connect to the system bus"),
		)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err == nil && reply != dbus.RequestNameReplyPrimaryOwner {
		err = fmt.Errorf("bus name %s is taken", BusName)
	}
	if err != nil {
		conn.Close()

		return nil, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "dbusreg-request-name",
				"name", BusName,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot claim the daemon bus name"),
		)
	}

	return NewWithConn(conn), nil
}

// NewWithConn returns a registrar over an existing connection. The
// caller keeps ownership of the connection.
func NewWithConn(conn *dbus.Conn) *Registrar {
	return &Registrar{
		conn:     conn,
		adapters: xsync.NewMapOf[uint16, bluetooth.AdapterData](),
	}
}

// Close releases the daemon's bus name and the connection.
func (r *Registrar) Close() error {
	r.conn.ReleaseName(BusName)

	return r.conn.Close()
}

// adapterPath returns the object path for one adapter index.
func adapterPath(id uint16) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/adapter%d", ManagerPath, id))
}

// adapterObject is the exported handle of a registered adapter.
type adapterObject struct {
	r  *Registrar
	id uint16
}

// GetProperties returns the adapter's name, index, address and state.
func (o adapterObject) GetProperties() (map[string]dbus.Variant, *dbus.Error) {
	adapter, ok := o.r.adapters.Load(o.id)
	if !ok {
		return nil, dbus.MakeFailedError(errorkinds.ErrAdapterNotFound)
	}

	return map[string]dbus.Variant{
		"Name":    dbus.MakeVariant(adapter.Name),
		"ID":      dbus.MakeVariant(adapter.ID),
		"Address": dbus.MakeVariant(adapter.Address.String()),
		"State":   dbus.MakeVariant(string(adapter.State)),
	}, nil
}

// RegisterAdapter exports the adapter at its object path and announces
// its registration.
func (r *Registrar) RegisterAdapter(adapter bluetooth.AdapterData) error {
	r.adapters.Store(adapter.ID, adapter)

	path := adapterPath(adapter.ID)
	obj := adapterObject{r: r, id: adapter.ID}

	if err := r.conn.Export(obj, path, AdapterIface); err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "dbusreg-export",
				"adapter", adapter.Name,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot export adapter"),
		)
	}

	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    AdapterIface,
				Methods: introspect.Methods(obj),
			},
		},
	}

	if err := r.conn.Export(introspect.NewIntrospectable(node), path, introspectableIface); err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "dbusreg-export-introspect",
				"adapter", adapter.Name,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot export adapter introspection"),
		)
	}

	return r.emit("AdapterRegistered", adapter.ID)
}

// UnregisterAdapter withdraws the adapter's object and announces its
// removal. Unregistering an adapter that was never exported is
// harmless.
func (r *Registrar) UnregisterAdapter(id uint16) error {
	if _, ok := r.adapters.Load(id); !ok {
		return nil
	}

	path := adapterPath(id)
	r.conn.Export(nil, path, AdapterIface)
	r.conn.Export(nil, path, introspectableIface)

	r.adapters.Delete(id)

	return r.emit("AdapterUnregistered", id)
}

// AdapterStarted marks the adapter up and announces the transition.
func (r *Registrar) AdapterStarted(id uint16) error {
	r.setState(id, bluetooth.StateUp)

	return r.emit("AdapterStarted", id)
}

// AdapterStopped marks the adapter down and announces the transition.
func (r *Registrar) AdapterStopped(id uint16) error {
	r.setState(id, bluetooth.StateDown)

	return r.emit("AdapterStopped", id)
}

// setState updates the exported state of one adapter.
func (r *Registrar) setState(id uint16, state bluetooth.AdapterState) {
	r.adapters.Compute(id,
		func(adapter bluetooth.AdapterData, loaded bool) (bluetooth.AdapterData, bool) {
			if !loaded {
				return adapter, true
			}

			adapter.State = state

			return adapter, false
		})
}

// emit sends one lifecycle signal from the manager object.
func (r *Registrar) emit(member string, id uint16) error {
	if err := r.conn.Emit(ManagerPath, ManagerIface+"."+member, id); err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "dbusreg-emit",
				"signal", member,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot emit adapter lifecycle signal"),
		)
	}

	return nil
}
