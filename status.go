/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * sl3-usb status support
 */

package main

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// statusOfDevice represents a status of the particular device
type statusOfDevice struct {
	addr UsbAddr       // Device address
	info UsbDeviceInfo // USB device info
	dev  *Device       // Device object, nil if probe failed
	init error         // Initialization error, nil if none
}

var (
	// statusTable maintains a per-device status,
	// indexed by the UsbAddr
	statusTable = make(map[UsbAddr]*statusOfDevice)

	// statusTableLock protects access to the statusTable
	statusTableLock sync.RWMutex
)

// StatusSet adds device to the status table or updates status
// of the already known device
func StatusSet(addr UsbAddr, info UsbDeviceInfo, dev *Device, init error) {
	statusTableLock.Lock()
	statusTable[addr] = &statusOfDevice{
		addr: addr,
		info: info,
		dev:  dev,
		init: init,
	}
	statusTableLock.Unlock()
}

// StatusDel deletes device from the status table
func StatusDel(addr UsbAddr) {
	statusTableLock.Lock()
	delete(statusTable, addr)
	statusTableLock.Unlock()
}

// statusDevices returns the known devices, sorted by address
func statusDevices() []*statusOfDevice {
	statusTableLock.RLock()
	defer statusTableLock.RUnlock()

	devs := make([]*statusOfDevice, 0, len(statusTable))
	for _, status := range statusTable {
		devs = append(devs, status)
	}

	sort.Slice(devs, func(i, j int) bool {
		return devs[i].addr.Less(devs[j].addr)
	})

	return devs
}

var statusRouteNames = []string{"Analog", "USB"}

// StatusFormat formats the overall sl3-usb status as a text
func StatusFormat() []byte {
	buf := &bytes.Buffer{}

	fmt.Fprintf(buf, "sl3-usb daemon %s: running\n", Version)

	devs := statusDevices()

	buf.WriteString("sl3-usb devices:")
	if len(devs) == 0 {
		buf.WriteString(" not found\n")
		return buf.Bytes()
	}
	buf.WriteString("\n")

	for i, status := range devs {
		fmt.Fprintf(buf, " %3d. %s  %4.4x:%4.4x  %q\n",
			i+1, status.addr,
			status.info.Vendor, status.info.Product,
			status.info.ProductName)

		if status.init != nil {
			fmt.Fprintf(buf, "      status: %s\n", status.init)
			continue
		}

		dev := status.dev
		if dev == nil {
			continue
		}

		routing := dev.Routing()
		playback, capture := dev.Running()

		fmt.Fprintf(buf, "      Sample Rate:    %d Hz\n",
			dev.currentRate())
		fmt.Fprintf(buf, "      Deck A Routing: %s\n",
			statusRouteNames[routing[0]&1])
		fmt.Fprintf(buf, "      Deck B Routing: %s\n",
			statusRouteNames[routing[1]&1])
		fmt.Fprintf(buf, "      Deck C Routing: %s\n",
			statusRouteNames[routing[2]&1])
		fmt.Fprintf(buf, "      Playback:       %s\n",
			statusRunning(playback))
		fmt.Fprintf(buf, "      Capture:        %s\n",
			statusRunning(capture))
		fmt.Fprintf(buf, "      Disconnected:   %s\n",
			statusYesNo(dev.isDisconnected()))
	}

	return buf.Bytes()
}

// StatusFormatOverload formats the per-channel overload status
func StatusFormatOverload() []byte {
	chNames := []string{
		"Deck A Left ", "Deck A Right",
		"Deck B Left ", "Deck B Right",
		"Deck C Left ", "Deck C Right",
	}

	buf := &bytes.Buffer{}

	for _, status := range statusDevices() {
		if status.dev == nil {
			continue
		}

		fmt.Fprintf(buf, "%s: Overload Status\n", status.addr)

		overload := status.dev.OverloadStatus()
		for i, name := range chNames {
			s := "OK"
			if overload[i] != 0 {
				s = "OVERLOAD"
			}
			fmt.Fprintf(buf, "  %s: %s\n", name, s)
		}
	}

	return buf.Bytes()
}

// StatusFormatPhono formats the per-pair phono/line switch status
func StatusFormatPhono() []byte {
	pairNames := []string{"Deck A", "Deck B", "Deck C"}

	buf := &bytes.Buffer{}

	for _, status := range statusDevices() {
		if status.dev == nil {
			continue
		}

		fmt.Fprintf(buf, "%s: Phono Switch Status\n", status.addr)

		phono := status.dev.PhonoStatus()
		for i, name := range pairNames {
			s := "LINE"
			if phono[i] != 0 {
				s = "PHONO"
			}
			fmt.Fprintf(buf, "  %s: %s\n", name, s)
		}
	}

	return buf.Bytes()
}

// StatusFormatUsbPort formats the opaque USB-port status bytes
func StatusFormatUsbPort() []byte {
	buf := &bytes.Buffer{}

	for _, status := range statusDevices() {
		if status.dev == nil {
			continue
		}

		fmt.Fprintf(buf, "%s: USB Port Status\n", status.addr)

		port := status.dev.UsbPortStatus()
		for i, b := range port {
			fmt.Fprintf(buf, "  Byte %d: 0x%2.2x\n", i, b)
		}
	}

	return buf.Bytes()
}

// StatusFormatStatistics formats the streaming statistics
func StatusFormatStatistics() []byte {
	buf := &bytes.Buffer{}

	for _, status := range statusDevices() {
		if status.dev == nil {
			continue
		}

		stats := status.dev.Stats()

		fmt.Fprintf(buf, "%s: Streaming Statistics\n", status.addr)
		fmt.Fprintf(buf, "  Playback URBs Completed:   %d\n",
			stats.PlayUrbsCompleted)
		fmt.Fprintf(buf, "  Capture URBs Completed:    %d\n",
			stats.CapUrbsCompleted)
		fmt.Fprintf(buf, "  Playback Underruns:        %d\n",
			stats.PlayUnderruns)
		fmt.Fprintf(buf, "  Capture Overruns:          %d\n",
			stats.CapOverruns)
		fmt.Fprintf(buf, "  Discontinuities:           %d\n",
			stats.Discontinuities)
		fmt.Fprintf(buf, "  Implicit Feedback Samples: %d\n",
			stats.FeedbackSamples)
		fmt.Fprintf(buf, "  Nominal Rate:              %d Hz\n",
			stats.Rate)
	}

	return buf.Bytes()
}

// statusRunning formats a running flag
func statusRunning(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

// statusYesNo formats a boolean flag
func statusYesNo(flag bool) string {
	if flag {
		return "yes"
	}
	return "no"
}
