/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Device and configuration constants
 */

package main

import (
	"time"
)

// USB device identification
const (
	SL3VendorID  = 0x1CC5
	SL3ProductID = 0x0001
)

// Audio format: 6 channels of 24-bit little-endian packed samples
const (
	SL3NumChannels    = 6
	SL3BytesPerSample = 3
	SL3BytesPerFrame  = SL3NumChannels * SL3BytesPerSample // 18

	// SL3MaxPacketSize is the maximum isochronous payload:
	// 7 frames per microframe
	SL3MaxPacketSize = 7 * SL3BytesPerFrame // 126

	// SL3MaxPacketFrames is SL3MaxPacketSize in frames
	SL3MaxPacketFrames = SL3MaxPacketSize / SL3BytesPerFrame
)

// URB configuration
const (
	// SL3NumURBs is the size of the per-direction URB ring
	SL3NumURBs = 16

	// SL3IsoPackets is the count of ISO packets per URB
	SL3IsoPackets = 8

	// SL3URBBufferSize is the transfer buffer size per URB
	SL3URBBufferSize = SL3IsoPackets * SL3MaxPacketSize // 1008

	// SL3URBMaxRetries is the count of consecutive errors on the
	// same URB after which the stream reports an xrun and the URB
	// is abandoned
	SL3URBMaxRetries = 3
)

// USB interface numbers
const (
	SL3IntfAudioCtrl = 0 // Bind point
	SL3IntfAudioOut  = 1 // Playback (host->device)
	SL3IntfAudioIn   = 2 // Capture (device->host)
	SL3IntfHid       = 3
)

// Endpoint addresses
const (
	SL3EpAudioOut = 0x06 // ISO OUT - playback
	SL3EpAudioIn  = 0x82 // ISO IN  - capture + implicit feedback
	SL3EpHidOut   = 0x01 // Interrupt OUT
	SL3EpHidIn    = 0x81 // Interrupt IN
)

// HID command IDs
const (
	SL3HidCmdInit       = 0x03
	SL3HidCmdSampleRate = 0x31
	SL3HidCmdQueryPhono = 0x32
	SL3HidCmdRouting    = 0x33
	SL3HidCmdStatus     = 0x36
)

// Async notification command IDs
const (
	SL3HidNotifyOverload = 0x34
	SL3HidNotifyPhono    = 0x38
	SL3HidNotifyUsbPort  = 0x39
)

// Channel pair identifiers for the routing command
const (
	SL3PairDeckA = 0x08 // Channels 1/2
	SL3PairDeckB = 0x0E // Channels 3/4
	SL3PairDeckC = 0x14 // Channels 5/6
)

// Routing modes
const (
	SL3RouteAnalog = 0x00
	SL3RouteUSB    = 0x01
)

// SL3HidReportSize is the fixed size of every HID report, both directions
const SL3HidReportSize = 64

// Packet sizing constants.
//
// USB high-speed isochronous runs at 8000 microframes/sec (125 us each):
//
//	48 kHz:   48000 / 8000 = 6.0    samples/microframe -> always 6
//	44.1 kHz: 44100 / 8000 = 5.5125 samples/microframe -> 5 or 6
const (
	SL3Samples48k    = 6
	SL3Samples44kMin = 5
	SL3FracNum       = 4100 // 44100 - 5 * 8000
	SL3FracDenom     = 8000 // microframes per second
)

// Timeouts and delays
const (
	// HidUsbTimeout limits synchronous interrupt OUT transfers
	HidUsbTimeout = 1000 * time.Millisecond

	// HidResponseTimeout limits the wait for a command response
	HidResponseTimeout = 500 * time.Millisecond

	// DevStabilizationDelay is slept after the init handshake and
	// after a sample rate switch
	DevStabilizationDelay = 100 * time.Millisecond

	// DevShutdownTimeout specifies how much time to wait for
	// device graceful shutdown
	DevShutdownTimeout = 5 * time.Second
)
