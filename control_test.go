/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Tests for mixer-style controls and the control plane
 */

package main

import (
	"testing"
)

// Test the control registry shape
func TestControlRegistry(t *testing.T) {
	dev := newTestDevice(newFakeUsbIO())

	testData := []struct {
		name     string
		typ      ControlType
		count    int
		readOnly bool
	}{
		{CtlSampleRate, ControlEnumerated, 1, false},
		{CtlDeckAOutputSource, ControlEnumerated, 1, false},
		{CtlDeckBOutputSource, ControlEnumerated, 1, false},
		{CtlDeckCOutputSource, ControlEnumerated, 1, false},
		{CtlOverloadStatus, ControlBoolean, 6, true},
		{CtlPhonoSwitchStatus, ControlBoolean, 3, true},
	}

	if len(dev.Controls()) != len(testData) {
		t.Fatalf("%d controls, expected %d",
			len(dev.Controls()), len(testData))
	}

	for _, data := range testData {
		ctl := dev.ControlByName(data.name)
		if ctl == nil {
			t.Fatalf("control %q not found", data.name)
		}
		if ctl.Type != data.typ || ctl.Count != data.count ||
			ctl.ReadOnly != data.readOnly {
			t.Errorf("control %q: unexpected shape", data.name)
		}
	}
}

// Test a routing write: correct HID payload, cache update, changed
// reporting and no USB traffic on a no-op write
func TestRoutingWrite(t *testing.T) {
	f := newFakeUsbIO()
	dev := newTestDevice(f)

	ctl := dev.ControlByName(CtlDeckBOutputSource)

	// Deck B was USB; write Analog
	changed, err := ctl.Put([]int{0})
	if err != nil {
		t.Fatalf("Put: %s", err)
	}
	if !changed {
		t.Errorf("Put did not report a change")
	}

	out := f.lastOut()
	if out == nil {
		t.Fatalf("no HID OUT transfer")
	}
	if out[0] != SL3HidCmdRouting {
		t.Errorf("command 0x%2.2x, expected 0x%2.2x",
			out[0], SL3HidCmdRouting)
	}
	if out[5] != SL3PairDeckB || out[6] != 0x01 || out[7] != 0x00 {
		t.Errorf("routing payload % 2.2x, expected 0e 01 00",
			out[5:8])
	}

	if dev.Routing() != [3]byte{SL3RouteUSB, SL3RouteAnalog, SL3RouteUSB} {
		t.Errorf("routing cache mismatch: %v", dev.Routing())
	}

	// Repeating the write: unchanged, no USB traffic
	outs := f.outCount()
	changed, err = ctl.Put([]int{0})
	if err != nil {
		t.Fatalf("repeated Put: %s", err)
	}
	if changed {
		t.Errorf("repeated Put reported a change")
	}
	if f.outCount() != outs {
		t.Errorf("repeated Put generated USB traffic")
	}
}

// Test that routing rejects out-of-range values
func TestRoutingInvalid(t *testing.T) {
	f := newFakeUsbIO()
	dev := newTestDevice(f)

	ctl := dev.ControlByName(CtlDeckAOutputSource)

	_, err := ctl.Put([]int{2})
	if err != ErrInvalidRouting {
		t.Errorf("got %v, expected %v", err, ErrInvalidRouting)
	}
	if f.outCount() != 0 {
		t.Errorf("invalid write generated USB traffic")
	}
}

// Test the rate switching sequence through the control
func TestRateControl(t *testing.T) {
	f := newFakeUsbIO()
	dev := newTestDevice(f)
	dev.hidInURB = allocInterruptURB(SL3EpHidIn, dev.hidInComplete)
	hidResponder(f, dev, [3]byte{})

	ctl := dev.ControlByName(CtlSampleRate)

	if got := ctl.Get(); got[0] != 1 {
		t.Fatalf("initial rate index %d, expected 1 (48000)", got[0])
	}

	// Same value: unchanged, no traffic
	changed, err := ctl.Put([]int{1})
	if err != nil || changed {
		t.Errorf("no-op rate write: changed=%v err=%v", changed, err)
	}
	if f.outCount() != 0 {
		t.Errorf("no-op rate write generated USB traffic")
	}

	// Switch to 44100
	changed, err = ctl.Put([]int{0})
	if err != nil {
		t.Fatalf("rate Put: %s", err)
	}
	if !changed {
		t.Errorf("rate Put did not report a change")
	}

	if dev.currentRate() != 44100 {
		t.Errorf("current rate %d, expected 44100", dev.currentRate())
	}

	out := f.lastOut()
	if out[0] != SL3HidCmdSampleRate ||
		out[5] != 0xAC || out[6] != 0x44 {
		t.Errorf("rate command payload mismatch: % 2.2x", out[:8])
	}
}

// Test that a rate change while a stream is running returns busy
// and leaves the rate and the accumulator alone
func TestRateChangeBusy(t *testing.T) {
	f := newFakeUsbIO()
	dev := newTestDevice(f)

	if err := dev.TriggerStart(dirPlayback); err != nil {
		t.Fatalf("TriggerStart: %s", err)
	}

	accumulator := dev.sampleAccumulator

	err := dev.SetSampleRate(44100)
	if err != ErrBusy {
		t.Fatalf("got %v, expected %v", err, ErrBusy)
	}

	if dev.currentRate() != 48000 {
		t.Errorf("rate changed to %d during busy refusal",
			dev.currentRate())
	}
	if dev.sampleAccumulator != accumulator {
		t.Errorf("accumulator changed during busy refusal")
	}
	if f.outCount() != 0 {
		t.Errorf("busy refusal generated USB traffic")
	}
}

// Test that an invalid rate is rejected outright
func TestRateInvalid(t *testing.T) {
	dev := newTestDevice(newFakeUsbIO())

	err := dev.SetSampleRate(96000)
	if err != ErrInvalidRate {
		t.Errorf("got %v, expected %v", err, ErrInvalidRate)
	}
}

// Test that read-only controls refuse writes
func TestReadOnlyControls(t *testing.T) {
	dev := newTestDevice(newFakeUsbIO())

	for _, name := range []string{CtlOverloadStatus, CtlPhonoSwitchStatus} {
		ctl := dev.ControlByName(name)
		if _, err := ctl.Put([]int{1}); err != ErrAccess {
			t.Errorf("%q: got %v, expected %v", name, err, ErrAccess)
		}
	}
}

// Test that a rate switch emits a control-change notification
func TestRateChangeNotifies(t *testing.T) {
	f := newFakeUsbIO()
	dev := newTestDevice(f)
	dev.hidInURB = allocInterruptURB(SL3EpHidIn, dev.hidInComplete)
	hidResponder(f, dev, [3]byte{})

	watch := dev.WatchControls()

	if err := dev.SetSampleRate(44100); err != nil {
		t.Fatalf("SetSampleRate: %s", err)
	}

	select {
	case name := <-watch:
		if name != CtlSampleRate {
			t.Errorf("notified %q, expected %q", name, CtlSampleRate)
		}
	default:
		t.Errorf("no notification for the rate switch")
	}
}
