package obex

import (
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

const (
	transferBasePath  = "/org/bluewire/obex"
	transferInterface = "org.bluewire.obex.Transfer"

	errNotAuthorized = "org.bluewire.obex.Error.NotAuthorized"
)

// transferObject is the externally visible handle of a transfer.
type transferObject struct {
	t *Transfer
}

// GetProperties returns the transfer's name, total size and file name.
func (o transferObject) GetProperties() (map[string]dbus.Variant, *dbus.Error) {
	return map[string]dbus.Variant{
		"Name":     dbus.MakeVariant(o.t.Name()),
		"Size":     dbus.MakeVariant(uint64(o.t.Size())),
		"Filename": dbus.MakeVariant(o.t.Filename()),
	}, nil
}

// Cancel aborts the transfer. Only the session's bound agent may cancel;
// any other caller is rejected.
func (o transferObject) Cancel(sender dbus.Sender) *dbus.Error {
	if !o.t.session.Authorized(string(sender)) {
		return dbus.NewError(errNotAuthorized, nil)
	}

	o.t.Abort()

	return nil
}

// export publishes the transfer object at its allocated path.
func (t *Transfer) export() error {
	conn := t.session.conn
	if conn == nil {
		return nil
	}

	obj := transferObject{t}

	if err := conn.Export(obj, t.path, transferInterface); err != nil {
		return err
	}

	node := &introspect.Node{
		Name: string(t.path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    transferInterface,
				Methods: introspect.Methods(obj),
			},
		},
	}

	return conn.Export(
		introspect.NewIntrospectable(node),
		t.path,
		"org.freedesktop.DBus.Introspectable",
	)
}

// unexport withdraws the transfer object from its path.
func (t *Transfer) unexport() {
	conn := t.session.conn
	if conn == nil || t.path == "" {
		return
	}

	conn.Export(nil, t.path, transferInterface)
	conn.Export(nil, t.path, "org.freedesktop.DBus.Introspectable")
}
