/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * PnP manager: brings devices up on arrival, tears them down
 * on departure
 */

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// PnPLoop runs the PnP management loop. It rescans the bus on
// every hotplug event, probing new devices and disconnecting
// departed ones. With exitWhenIdle set, it returns as soon as the
// last device is gone. It also returns on SIGINT/SIGTERM, after
// disconnecting every device
func PnPLoop(notify *NotifyBus, exitWhenIdle bool) {
	devices := make(map[UsbAddr]*Device)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	defer func() {
		for addr, dev := range devices {
			dev.Disconnect()
			delete(devices, addr)
		}
	}()

	seenSome := false

	for {
		addrs, err := UsbGetSl3DeviceDescs()
		if err != nil {
			Log.Error('!', "PNP: %s", err)
		}

		present := make(map[UsbAddr]bool)
		for _, addr := range addrs {
			present[addr] = true
		}

		// Probe new devices
		for _, addr := range addrs {
			if devices[addr] != nil {
				continue
			}

			Log.Info('+', "PNP %s: added", addr)

			dev, err := NewDevice(addr, notify)
			if err != nil {
				Log.Error('!', "PNP %s: %s", addr, err)
				continue
			}

			devices[addr] = dev
			seenSome = true
		}

		// Disconnect departed devices
		for addr, dev := range devices {
			if present[addr] {
				continue
			}

			Log.Info('-', "PNP %s: removed", addr)

			dev.Disconnect()
			delete(devices, addr)
		}

		if exitWhenIdle && seenSome && len(devices) == 0 {
			Log.Info(' ', "PNP: last device is gone, exiting")
			return
		}

		select {
		case <-UsbHotPlugChan:
		case sig := <-sigs:
			Log.Info(' ', "PNP: %s, shutting down", sig)
			return
		}
	}
}
