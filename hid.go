/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * HID command channel: request/response and asynchronous
 * device notifications
 */

package main

import (
	"time"
)

// hidBuildReport builds a 64-byte HID report with the command,
// the VID/PID header and the payload. Oversized payloads are
// truncated
func hidBuildReport(buf []byte, cmd byte, payload []byte) {
	for i := range buf {
		buf[i] = 0
	}

	buf[0] = cmd

	// Bytes 1-4: VID/PID in big-endian byte order (per USB captures)
	buf[1] = (SL3VendorID >> 8) & 0xff
	buf[2] = SL3VendorID & 0xff
	buf[3] = (SL3ProductID >> 8) & 0xff
	buf[4] = SL3ProductID & 0xff

	if len(payload) > SL3HidReportSize-5 {
		payload = payload[:SL3HidReportSize-5]
	}
	copy(buf[5:], payload)
}

// hidInComplete is the HID IN URB completion callback. It
// demultiplexes asynchronous notifications from synchronous
// command responses, branching on the command byte
func (dev *Device) hidInComplete(u *urb) {
	data := u.buffer

	switch u.status {
	case urbStatusOK:
		break

	case urbStatusCancelled:
		// Normal URB kill, do not resubmit
		return

	case urbStatusNoDevice:
		dev.setDisconnected()
		return

	case urbStatusStall:
		dev.warnRatelimited("HID IN URB stall, clearing halt")
		dev.io.ClearHalt(u.endpoint)
		dev.hidResubmitIn(u)
		return

	case urbStatusOverflow:
		dev.warnRatelimited("HID IN URB overflow")
		dev.hidResubmitIn(u)
		return

	default:
		dev.warnRatelimited("HID IN URB error: %s", u.status)
		dev.hidResubmitIn(u)
		return
	}

	if u.actualLength < 1 {
		dev.hidResubmitIn(u)
		return
	}

	dev.log.Dump(data[:u.actualLength], "HID IN report:")

	// Dispatch based on command byte
	switch data[0] {
	case SL3HidNotifyOverload:
		if u.actualLength >= 11 {
			dev.statusLock.Lock()
			copy(dev.overloadStatus[:], data[5:11])
			dev.statusLock.Unlock()
			dev.notifyControl(CtlOverloadStatus)
		}

	case SL3HidNotifyPhono:
		if u.actualLength >= 8 {
			dev.statusLock.Lock()
			copy(dev.phonoStatus[:], data[5:8])
			dev.statusLock.Unlock()
			dev.notifyControl(CtlPhonoSwitchStatus)
		}

	case SL3HidNotifyUsbPort:
		if u.actualLength >= 9 {
			dev.statusLock.Lock()
			copy(dev.usbPortStatus[:], data[5:9])
			dev.statusLock.Unlock()
		}

	default:
		// Command response: copy to the mailbox and wake the waiter
		n := u.actualLength
		if n > SL3HidReportSize {
			n = SL3HidReportSize
		}
		copy(dev.hidResponseBuf[:], data[:n])

		select {
		case dev.hidResponse <- struct{}{}:
		default:
		}
	}

	dev.hidResubmitIn(u)
}

// hidResubmitIn rearms the persistent HID IN URB
func (dev *Device) hidResubmitIn(u *urb) {
	if dev.isDisconnected() {
		return
	}

	err := dev.io.Submit(u)
	if err != nil {
		if err == ErrDisconnected {
			dev.setDisconnected()
			return
		}
		dev.log.Error('!', "HID IN URB resubmit failed: %s", err)
	}
}

// hidSendCmdLocked sends a HID command. The caller must hold
// hidMutex. With waitResponse set, it blocks until the device
// responds or HidResponseTimeout passes
func (dev *Device) hidSendCmdLocked(cmd byte, payload []byte,
	waitResponse bool) error {

	if dev.isDisconnected() {
		return ErrDisconnected
	}

	hidBuildReport(dev.hidOutBuf[:], cmd, payload)

	if waitResponse {
		// Reset the single-slot mailbox
		select {
		case <-dev.hidResponse:
		default:
		}
	}

	dev.log.Dump(dev.hidOutBuf[:], "HID OUT report:")

	_, err := dev.io.InterruptOut(SL3EpHidOut, dev.hidOutBuf[:],
		HidUsbTimeout)
	if err != nil {
		dev.log.Error('!', "HID send cmd 0x%2.2x failed: %s", cmd, err)
		return err
	}

	if waitResponse {
		select {
		case <-dev.hidResponse:
		case <-time.After(HidResponseTimeout):
			dev.log.Info('?', "HID cmd 0x%2.2x response timeout",
				cmd)
			return ErrTimedOut
		}
	}

	return nil
}

// hidSendCommand sends a HID command and waits for the device
// response
func (dev *Device) hidSendCommand(cmd byte, payload []byte) error {
	dev.hidMutex.Lock()
	defer dev.hidMutex.Unlock()

	return dev.hidSendCmdLocked(cmd, payload, true)
}

// hidSetSampleRate sends the HID command that switches the device
// sample rate
func (dev *Device) hidSetSampleRate(rate uint) error {
	if rate != 44100 && rate != 48000 {
		return ErrInvalidRate
	}

	// Rate encoded big-endian
	payload := []byte{byte(rate >> 8), byte(rate)}

	dev.hidMutex.Lock()
	defer dev.hidMutex.Unlock()

	return dev.hidSendCmdLocked(SL3HidCmdSampleRate, payload, true)
}

// hidSetRouting sends the HID command that sets output routing
// for a channel pair. The device does not respond to it
func (dev *Device) hidSetRouting(pair, mode byte) error {
	payload := []byte{
		pair, // Channel pair ID: 0x08, 0x0E, or 0x14
		0x01, // Sub-command type (observed constant)
		mode, // 0x00 = analog, 0x01 = USB
	}

	dev.hidMutex.Lock()
	defer dev.hidMutex.Unlock()

	return dev.hidSendCmdLocked(SL3HidCmdRouting, payload, false)
}

// hidQueryPhono queries the phono/line switch state for all three
// channel pairs and seeds the phono cache from the response
func (dev *Device) hidQueryPhono() error {
	dev.hidMutex.Lock()
	defer dev.hidMutex.Unlock()

	err := dev.hidSendCmdLocked(SL3HidCmdQueryPhono, nil, true)
	if err == nil {
		dev.statusLock.Lock()
		copy(dev.phonoStatus[:], dev.hidResponseBuf[5:8])
		dev.statusLock.Unlock()
	}

	return err
}

// hidInit brings up the HID subsystem: arms the persistent IN URB
// and runs the init handshake. Handshake failures are logged but do
// not abort the probe; the device frequently still works
func (dev *Device) hidInit() error {
	dev.hidInURB = allocInterruptURB(SL3EpHidIn, dev.hidInComplete)

	err := dev.io.Submit(dev.hidInURB)
	if err != nil {
		dev.log.Error('!', "failed to submit HID IN URB: %s", err)
		dev.hidInURB = nil
		return err
	}

	dev.hidMutex.Lock()

	// Step 1: init query
	err = dev.hidSendCmdLocked(SL3HidCmdInit, []byte{0x00}, true)
	if err != nil {
		dev.log.Info('?', "HID init query failed: %s (continuing)",
			err)
	}

	// Step 2: status query. The response is not consumed, but the
	// round-trip is part of the handshake the device expects
	err = dev.hidSendCmdLocked(SL3HidCmdStatus, []byte{0x01}, true)
	if err != nil {
		dev.log.Info('?', "HID status query failed: %s (continuing)",
			err)
	}

	// Step 3: set the configured sample rate
	rate := dev.currentRate()
	err = dev.hidSendCmdLocked(SL3HidCmdSampleRate,
		[]byte{byte(rate >> 8), byte(rate)}, true)
	if err != nil {
		dev.log.Info('?', "HID set sample rate failed: %s (continuing)",
			err)
	}

	// Step 4: query initial phono/line switch positions
	err = dev.hidSendCmdLocked(SL3HidCmdQueryPhono, nil, true)
	if err == nil {
		dev.statusLock.Lock()
		copy(dev.phonoStatus[:], dev.hidResponseBuf[5:8])
		dev.statusLock.Unlock()
	} else {
		dev.log.Info('?', "HID phono query failed: %s (continuing)",
			err)
	}

	dev.hidMutex.Unlock()

	// Wait for device stabilization
	dev.sleep(DevStabilizationDelay)

	dev.log.Info('+', "HID interface initialized")
	return nil
}

// hidCleanup tears down the HID subsystem
func (dev *Device) hidCleanup() {
	if dev.hidInURB != nil {
		dev.io.Kill(dev.hidInURB)
		dev.hidInURB = nil
	}
}
