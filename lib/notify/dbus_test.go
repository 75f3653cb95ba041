package notify

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
)

type fakeBusObject struct {
	calls  []fakeCall
	nextID uint32
	err    error
}

type fakeCall struct {
	method string
	args   []interface{}
}

func (f *fakeBusObject) Call(method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	f.calls = append(f.calls, fakeCall{method: method, args: args})
	if f.err != nil {
		return &dbus.Call{Err: f.err}
	}
	f.nextID++
	return &dbus.Call{Body: []interface{}{f.nextID}}
}

func TestDBusPresenter_ReplacesInPlace(t *testing.T) {
	obj := &fakeBusObject{nextID: 40}
	p := NewDBusPresenterWithObject(obj, "")

	if err := p.Present(Presentation{Title: "Connecting to the VPN...", Ongoing: true}); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	if err := p.Present(Presentation{Title: "Securely connected to the VPN", Ongoing: true}); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	if len(obj.calls) != 2 {
		t.Fatalf("got %d calls", len(obj.calls))
	}
	first, second := obj.calls[0], obj.calls[1]
	if first.method != "org.freedesktop.Notifications.Notify" {
		t.Errorf("method = %q", first.method)
	}
	if first.args[0] != "wgclient" {
		t.Errorf("app name = %v", first.args[0])
	}
	if first.args[1] != uint32(0) {
		t.Errorf("first replaces_id = %v, want 0", first.args[1])
	}
	if second.args[1] != uint32(41) {
		t.Errorf("second replaces_id = %v, want 41", second.args[1])
	}
	if second.args[7] != int32(0) {
		t.Errorf("ongoing timeout = %v, want 0", second.args[7])
	}
	hints := second.args[6].(map[string]dbus.Variant)
	if resident, _ := hints["resident"].Value().(bool); !resident {
		t.Error("ongoing presentation should be resident")
	}
}

func TestDBusPresenter_RetireStartsNewNotification(t *testing.T) {
	obj := &fakeBusObject{}
	p := NewDBusPresenterWithObject(obj, "vpn")

	_ = p.Present(Presentation{Title: "a", Ongoing: true})
	_ = p.Present(Presentation{Title: "final"})
	if obj.calls[1].args[7] != int32(-1) {
		t.Errorf("final timeout = %v, want -1", obj.calls[1].args[7])
	}
	if err := p.Retire(); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}
	_ = p.Present(Presentation{Title: "b", Ongoing: true})
	if obj.calls[2].args[1] != uint32(0) {
		t.Errorf("replaces_id after Retire = %v, want 0", obj.calls[2].args[1])
	}
}

func TestDBusPresenter_Error(t *testing.T) {
	obj := &fakeBusObject{err: errors.New("no such service")}
	p := NewDBusPresenterWithObject(obj, "vpn")
	if err := p.Present(Presentation{Title: "x"}); err == nil {
		t.Error("expected error")
	}
}

func TestDBusPresenter_Dismiss(t *testing.T) {
	obj := &fakeBusObject{}
	p := NewDBusPresenterWithObject(obj, "vpn")

	if err := p.Dismiss(); err != nil || len(obj.calls) != 0 {
		t.Fatal("Dismiss with nothing shown should be a no-op")
	}
	_ = p.Present(Presentation{Title: "x", Ongoing: true})
	if err := p.Dismiss(); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}
	last := obj.calls[len(obj.calls)-1]
	if last.method != "org.freedesktop.Notifications.CloseNotification" || last.args[0] != uint32(1) {
		t.Errorf("unexpected call %+v", last)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() without connection error = %v", err)
	}
}
