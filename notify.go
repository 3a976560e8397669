/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * D-Bus notification bus: device add/remove announcements and
 * control-change signals for mixer UIs
 */

package main

import (
	"github.com/godbus/dbus/v5"
)

const (
	// NotifyBusName is the well-known D-Bus name of the daemon
	NotifyBusName = "com.sl3usb.Sl3Usb"

	// NotifyBusPath is the object path signals are emitted from
	NotifyBusPath = dbus.ObjectPath("/com/sl3usb/Sl3Usb")

	// NotifyBusInterface is the signal interface name
	NotifyBusInterface = "com.sl3usb.Sl3Usb"
)

// NotifyBus emits daemon notifications on the D-Bus system bus
type NotifyBus struct {
	conn *dbus.Conn
}

// NewNotifyBus connects to the system bus and acquires the
// daemon's well-known name
func NewNotifyBus() (*NotifyBus, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}

	reply, err := conn.RequestName(NotifyBusName,
		dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		// Signals still work without the name; just mention it
		Log.Info('?', "dbus: name %q already taken", NotifyBusName)
	}

	return &NotifyBus{conn: conn}, nil
}

// Close disconnects from the bus
func (bus *NotifyBus) Close() {
	bus.conn.Close()
}

// DeviceAdded announces a newly probed device
func (bus *NotifyBus) DeviceAdded(ident string) {
	bus.emit("DeviceAdded", ident)
}

// DeviceRemoved announces a disconnected device
func (bus *NotifyBus) DeviceRemoved(ident string) {
	bus.emit("DeviceRemoved", ident)
}

// ControlChanged announces a control element value change
func (bus *NotifyBus) ControlChanged(ident, name string) {
	bus.emit("ControlChanged", ident, name)
}

// emit sends a signal, logging (but otherwise ignoring) failures
func (bus *NotifyBus) emit(member string, args ...interface{}) {
	err := bus.conn.Emit(NotifyBusPath,
		NotifyBusInterface+"."+member, args...)
	if err != nil {
		Log.Debug('!', "dbus: emit %s: %s", member, err)
	}
}
