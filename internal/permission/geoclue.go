// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	geoclueDest            = "org.freedesktop.GeoClue2"
	geoclueManagerPath     = "/org/freedesktop/GeoClue2/Manager"
	geoclueManagerIface    = "org.freedesktop.GeoClue2.Manager"
	geoclueClientIface     = "org.freedesktop.GeoClue2.Client"
	dbusErrAccessDenied    = "org.freedesktop.DBus.Error.AccessDenied"
	geoclueAvailableLevel  = geoclueManagerIface + ".AvailableAccuracyLevel"
	geoclueDesktopIDProp   = geoclueClientIface + ".DesktopId"
	geoclueRequestedLevel  = geoclueClientIface + ".RequestedAccuracyLevel"
	geoclueMethodGetClient = geoclueManagerIface + ".GetClient"
	geoclueMethodDelete    = geoclueManagerIface + ".DeleteClient"
	geoclueMethodStart     = geoclueClientIface + ".Start"
	geoclueMethodStop      = geoclueClientIface + ".Stop"
)

// busConn is the part of a D-Bus connection GeoClue needs.
type busConn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Close() error
}

// GeoClue asks the GeoClue2 service on the system bus. The location permission is decided by the
// GeoClue agent of the desktop session, which may show its own dialog when a client starts.
type GeoClue struct {
	desktopID string
	accuracy  Accuracy
	connect   func() (busConn, error)
}

// NewGeoClue returns a GeoClue authorizer and settings checker. desktopID must match the name of
// a desktop file known to the GeoClue agent.
func NewGeoClue(desktopID string, accuracy Accuracy) *GeoClue {
	return &GeoClue{
		desktopID: desktopID,
		accuracy:  accuracy,
		connect: func() (busConn, error) {
			return dbus.ConnectSystemBus()
		},
	}
}

// Check starts and stops a GeoClue client. A client GeoClue refuses to start has no permission.
func (g *GeoClue) Check(ctx context.Context) (Status, error) {
	conn, err := g.connect()
	if err != nil {
		return Undetermined, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() { _ = conn.Close() }()

	manager := conn.Object(geoclueDest, geoclueManagerPath)
	var clientPath dbus.ObjectPath
	if err = manager.CallWithContext(ctx, geoclueMethodGetClient, 0).Store(&clientPath); err != nil {
		return statusFromDBusError(err, "failed to create GeoClue client")
	}
	defer func() {
		_ = manager.CallWithContext(ctx, geoclueMethodDelete, 0, clientPath).Err
	}()

	client := conn.Object(geoclueDest, clientPath)
	if err = client.SetProperty(geoclueDesktopIDProp, dbus.MakeVariant(g.desktopID)); err != nil {
		return Undetermined, fmt.Errorf("failed to set GeoClue desktop id: %w", err)
	}
	if err = client.SetProperty(geoclueRequestedLevel, dbus.MakeVariant(uint32(g.accuracy))); err != nil {
		return Undetermined, fmt.Errorf("failed to set GeoClue accuracy level: %w", err)
	}
	if err = client.CallWithContext(ctx, geoclueMethodStart, 0).Err; err != nil {
		return statusFromDBusError(err, "failed to start GeoClue client")
	}
	_ = client.CallWithContext(ctx, geoclueMethodStop, 0).Err
	return Granted, nil
}

// Request is the same as Check, since the GeoClue agent prompts on its own.
func (g *GeoClue) Request(ctx context.Context) (Status, error) {
	return g.Check(ctx)
}

// CheckSettings compares the accuracy level GeoClue can currently provide with want.
func (g *GeoClue) CheckSettings(ctx context.Context, want Accuracy) error {
	conn, err := g.connect()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() { _ = conn.Close() }()

	variant, err := conn.Object(geoclueDest, geoclueManagerPath).GetProperty(geoclueAvailableLevel)
	if err != nil {
		return fmt.Errorf("failed to read available GeoClue accuracy level: %w", err)
	}
	level, ok := variant.Value().(uint32)
	if !ok {
		return fmt.Errorf("unexpected type %s of GeoClue accuracy level", variant.Signature())
	}
	return StaticSettings{Available: Accuracy(level)}.CheckSettings(ctx, want)
}

// ResolveSettings always fails; GeoClue settings are changed in the desktop settings.
func (g *GeoClue) ResolveSettings(context.Context, Accuracy) error {
	return ErrNotResolvable
}

func statusFromDBusError(err error, msg string) (Status, error) {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) && dbusErr.Name == dbusErrAccessDenied {
		return Denied, nil
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) && dbusErrPtr.Name == dbusErrAccessDenied {
		return Denied, nil
	}
	return Undetermined, fmt.Errorf("%s: %w", msg, err)
}
