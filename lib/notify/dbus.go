package notify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsService   = "org.freedesktop.Notifications"
	notificationsPath      = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsNotify    = notificationsService + ".Notify"
	notificationsCloseCall = notificationsService + ".CloseNotification"
)

// BusObject is the part of a dbus.BusObject the presenter uses.
type BusObject interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// DBusPresenter shows presentations through the freedesktop notification
// service. Successive presentations replace each other in place; ongoing
// ones are marked resident and never expire.
type DBusPresenter struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	obj     BusObject
	appName string
	id      uint32
}

// NewDBusPresenter connects to the session bus.
func NewDBusPresenter(appName string) (*DBusPresenter, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	p := NewDBusPresenterWithObject(conn.Object(notificationsService, notificationsPath), appName)
	p.conn = conn
	return p, nil
}

// NewDBusPresenterWithObject uses an existing bus object.
func NewDBusPresenterWithObject(obj BusObject, appName string) *DBusPresenter {
	if appName == "" {
		appName = "wgclient"
	}
	return &DBusPresenter{obj: obj, appName: appName}
}

// Present implements Presenter.
func (d *DBusPresenter) Present(p Presentation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency":  dbus.MakeVariant(byte(p.Urgency)),
		"resident": dbus.MakeVariant(p.Ongoing),
	}
	// -1 lets the server pick; 0 never expires.
	timeout := int32(-1)
	if p.Ongoing {
		timeout = 0
	}

	var id uint32
	call := d.obj.Call(notificationsNotify, 0,
		d.appName, d.id, p.Icon, p.Title, p.Message, []string{}, hints, timeout)
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	d.id = id
	return nil
}

// Retire implements Presenter. The final notice stays on screen; the next
// session starts a new notification.
func (d *DBusPresenter) Retire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.id = 0
	return nil
}

// Dismiss closes the current notification, if any.
func (d *DBusPresenter) Dismiss() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.id == 0 {
		return nil
	}
	id := d.id
	d.id = 0
	return d.obj.Call(notificationsCloseCall, 0, id).Err
}

// Close releases the bus connection opened by NewDBusPresenter.
func (d *DBusPresenter) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
