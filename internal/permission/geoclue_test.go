// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
)

const testClientPath = dbus.ObjectPath("/org/freedesktop/GeoClue2/Client/1")

type fakeObject struct {
	dbus.BusObject
	calls    *[]string
	errs     map[string]error
	props    map[string]dbus.Variant
	setProps map[string]any
}

func (o *fakeObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, _ ...any) *dbus.Call {
	*o.calls = append(*o.calls, method)
	call := &dbus.Call{Err: o.errs[method]}
	if method == geoclueMethodGetClient {
		call.Body = []any{testClientPath}
	}
	return call
}

func (o *fakeObject) SetProperty(p string, v any) error {
	o.setProps[p] = v
	return nil
}

func (o *fakeObject) GetProperty(p string) (dbus.Variant, error) {
	v, ok := o.props[p]
	if !ok {
		return dbus.Variant{}, errors.New("no such property")
	}
	return v, nil
}

type fakeConn struct {
	manager *fakeObject
	client  *fakeObject
	closed  bool
}

func (c *fakeConn) Object(_ string, path dbus.ObjectPath) dbus.BusObject {
	if path == geoclueManagerPath {
		return c.manager
	}
	return c.client
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newFakeConn(errs map[string]error, props map[string]dbus.Variant) (*fakeConn, *[]string) {
	calls := new([]string)
	return &fakeConn{
		manager: &fakeObject{calls: calls, errs: errs, props: props, setProps: map[string]any{}},
		client:  &fakeObject{calls: calls, errs: errs, props: props, setProps: map[string]any{}},
	}, calls
}

func testGeoClue(conn *fakeConn) *GeoClue {
	geoclue := NewGeoClue("whereami", AccuracyExact)
	geoclue.connect = func() (busConn, error) { return conn, nil }
	return geoclue
}

func TestGeoClue_Check(t *testing.T) {
	t.Run("started client is granted", func(t *testing.T) {
		conn, calls := newFakeConn(nil, nil)
		status, err := testGeoClue(conn).Check(t.Context())
		if err != nil {
			t.Fatalf("failed to check permission: %s", err)
		}
		if status != Granted {
			t.Errorf("expected status %s, got %s", Granted, status)
		}
		want := []string{geoclueMethodGetClient, geoclueMethodStart, geoclueMethodStop, geoclueMethodDelete}
		if len(*calls) != len(want) {
			t.Fatalf("expected calls %v, got %v", want, *calls)
		}
		for i := range want {
			if (*calls)[i] != want[i] {
				t.Errorf("expected call %d to be %s, got %s", i, want[i], (*calls)[i])
			}
		}
		if conn.client.setProps[geoclueDesktopIDProp].(dbus.Variant).Value() != "whereami" {
			t.Errorf("expected desktop id to be set, got %v", conn.client.setProps[geoclueDesktopIDProp])
		}
		if !conn.closed {
			t.Error("expected bus connection to be closed")
		}
	})
	t.Run("access denied is denied", func(t *testing.T) {
		errs := map[string]error{geoclueMethodStart: dbus.Error{Name: dbusErrAccessDenied}}
		conn, _ := newFakeConn(errs, nil)
		status, err := testGeoClue(conn).Request(t.Context())
		if err != nil {
			t.Fatalf("failed to request permission: %s", err)
		}
		if status != Denied {
			t.Errorf("expected status %s, got %s", Denied, status)
		}
	})
	t.Run("other bus errors fail", func(t *testing.T) {
		errs := map[string]error{geoclueMethodGetClient: dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"}}
		conn, _ := newFakeConn(errs, nil)
		status, err := testGeoClue(conn).Check(t.Context())
		if err == nil {
			t.Fatal("expected unknown service to fail")
		}
		if status != Undetermined {
			t.Errorf("expected status %s, got %s", Undetermined, status)
		}
	})
	t.Run("bus connection failure fails", func(t *testing.T) {
		geoclue := NewGeoClue("whereami", AccuracyExact)
		geoclue.connect = func() (busConn, error) { return nil, errors.New("no bus") }
		if _, err := geoclue.Check(t.Context()); err == nil {
			t.Error("expected bus connection failure to fail")
		}
	})
}

func TestGeoClue_CheckSettings(t *testing.T) {
	props := map[string]dbus.Variant{geoclueAvailableLevel: dbus.MakeVariant(uint32(AccuracyCity))}
	conn, _ := newFakeConn(nil, props)
	geoclue := testGeoClue(conn)

	if err := geoclue.CheckSettings(t.Context(), AccuracyCountry); err != nil {
		t.Errorf("expected country accuracy to be satisfied, got %s", err)
	}
	if err := geoclue.CheckSettings(t.Context(), AccuracyExact); !errors.Is(err, ErrSettingsUnsatisfied) {
		t.Errorf("expected error to be %s, got %s", ErrSettingsUnsatisfied, err)
	}
	if err := geoclue.ResolveSettings(t.Context(), AccuracyExact); !errors.Is(err, ErrNotResolvable) {
		t.Errorf("expected error to be %s, got %s", ErrNotResolvable, err)
	}
}
