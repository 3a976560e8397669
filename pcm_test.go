/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Tests for the PCM surface
 */

package main

import (
	"testing"
)

// Test the rate constraint rule: an open substream with a rate set
// pins the other direction to the same rate
func TestRateConstraint(t *testing.T) {
	dev := newTestDevice(newFakeUsbIO())

	// No other substream: the full interval
	iv := dev.RateConstraint(dirPlayback)
	if iv.Min != 44100 || iv.Max != 48000 {
		t.Errorf("unconstrained interval %v", iv)
	}

	// Capture open but rate not negotiated yet: still free
	sub := newFakeSubstream(4410, 441, 0)
	if err := dev.OpenSubstream(dirCapture, sub); err != nil {
		t.Fatalf("OpenSubstream: %s", err)
	}

	iv = dev.RateConstraint(dirPlayback)
	if iv.Min != 44100 || iv.Max != 48000 {
		t.Errorf("interval %v with unnegotiated capture", iv)
	}

	// Capture rate set: playback pinned
	sub.rate = 44100
	iv = dev.RateConstraint(dirPlayback)
	if iv.Min != 44100 || iv.Max != 44100 {
		t.Errorf("constrained interval %v, expected 44100..44100", iv)
	}

	// And symmetrically
	play := newFakeSubstream(4800, 480, 48000)
	if err := dev.OpenSubstream(dirPlayback, play); err != nil {
		t.Fatalf("OpenSubstream: %s", err)
	}

	iv = dev.RateConstraint(dirCapture)
	if iv.Min != 48000 || iv.Max != 48000 {
		t.Errorf("constrained interval %v, expected 48000..48000", iv)
	}
}

// Test interval refinement
func TestRateIntervalRefine(t *testing.T) {
	testData := []struct {
		a, b RateInterval
		ok   bool
		out  RateInterval
	}{
		{RateInterval{44100, 48000}, RateInterval{44100, 44100},
			true, RateInterval{44100, 44100}},
		{RateInterval{44100, 48000}, RateInterval{48000, 48000},
			true, RateInterval{48000, 48000}},
		{RateInterval{44100, 44100}, RateInterval{48000, 48000},
			false, RateInterval{48000, 44100}},
	}

	for _, data := range testData {
		iv := data.a
		ok := iv.Refine(data.b)
		if ok != data.ok || iv != data.out {
			t.Errorf("%v refine %v: got %v ok=%v",
				data.a, data.b, iv, ok)
		}
	}
}

// Test the hardware pointer: monotonic advance, reported modulo
// the ring size, reset by prepare
func TestPointer(t *testing.T) {
	f := newFakeUsbIO()
	dev := newTestDevice(f)
	dev.setCurrentRate(48000)

	sub := newFakeSubstream(100, 50, 48000)
	if err := dev.OpenSubstream(dirPlayback, sub); err != nil {
		t.Fatalf("OpenSubstream: %s", err)
	}
	if err := dev.Prepare(dirPlayback); err != nil {
		t.Fatalf("Prepare: %s", err)
	}

	pos, err := dev.Pointer(dirPlayback)
	if err != nil || pos != 0 {
		t.Fatalf("initial pointer %d err %v", pos, err)
	}

	if err = dev.TriggerStart(dirPlayback); err != nil {
		t.Fatalf("TriggerStart: %s", err)
	}

	// Each completion advances 48 frames in a 100-frame ring
	f.complete(dev.playback.urbs[0], urbStatusOK)
	pos, _ = dev.Pointer(dirPlayback)
	if pos != 48 {
		t.Errorf("pointer %d, expected 48", pos)
	}

	f.complete(dev.playback.urbs[1], urbStatusOK)
	f.complete(dev.playback.urbs[2], urbStatusOK)
	pos, _ = dev.Pointer(dirPlayback)
	if pos != 44 { // 144 % 100
		t.Errorf("pointer %d, expected 44", pos)
	}

	dev.TriggerStop(dirPlayback)

	if err = dev.Prepare(dirPlayback); err != nil {
		t.Fatalf("Prepare: %s", err)
	}
	pos, _ = dev.Pointer(dirPlayback)
	if pos != 0 {
		t.Errorf("pointer %d after prepare, expected 0", pos)
	}
}

// Test that PCM operations refuse a disconnected device
func TestPCMDisconnected(t *testing.T) {
	dev := newTestDevice(newFakeUsbIO())
	dev.setDisconnected()

	if err := dev.OpenSubstream(dirPlayback,
		newFakeSubstream(100, 50, 48000)); err != ErrDisconnected {
		t.Errorf("OpenSubstream: got %v", err)
	}
	if err := dev.Prepare(dirPlayback); err != ErrDisconnected {
		t.Errorf("Prepare: got %v", err)
	}
	if err := dev.TriggerStart(dirPlayback); err != ErrDisconnected {
		t.Errorf("TriggerStart: got %v", err)
	}
	if _, err := dev.Pointer(dirPlayback); err != ErrDisconnected {
		t.Errorf("Pointer: got %v", err)
	}
	if err := dev.HWParams(dirPlayback, 44100); err != ErrDisconnected {
		t.Errorf("HWParams: got %v", err)
	}
}

// Test that closing a substream kills lingering URBs
func TestCloseSubstreamStops(t *testing.T) {
	f := newFakeUsbIO()
	dev := newTestDevice(f)

	sub := newFakeSubstream(4800, 480, 48000)
	if err := dev.OpenSubstream(dirCapture, sub); err != nil {
		t.Fatalf("OpenSubstream: %s", err)
	}
	if err := dev.TriggerStart(dirCapture); err != nil {
		t.Fatalf("TriggerStart: %s", err)
	}

	dev.CloseSubstream(dirCapture)

	if dev.capture.isRunning() {
		t.Errorf("capture running after close")
	}
	if f.inflightCount() != 0 {
		t.Errorf("%d URBs in flight after close", f.inflightCount())
	}
}
