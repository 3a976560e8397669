/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Device object brings all parts together: USB transport, HID
 * channel, streaming engine, controls and status
 */

package main

import (
	"sync"
	"sync/atomic"
	"time"
)

// Device represents a single Rane SL3
type Device struct {
	io    usbIO         // Low-level USB I/O
	addr  UsbAddr       // Device address
	info  UsbDeviceInfo // USB device info
	log   *Logger       // Device's own logger
	state *DevState     // Persistent state

	// Audio streams
	playback stream
	capture  stream

	// Current configuration. rate is atomic: the completion
	// context reads it while the control plane switches it
	rate    uint32  // 44100 or 48000
	routing [3]byte // Per-pair: 0x00=analog, 0x01=USB

	// Implicit feedback tracking
	feedbackSamples int
	feedbackLock    sync.Mutex

	// 44.1 kHz fractional sample accumulator. Serialized by the
	// playback stream lock while streaming, by streamMutex across
	// rate switches
	sampleAccumulator int

	// HID subsystem
	hidInURB       *urb
	hidOutBuf      [SL3HidReportSize]byte
	hidResponseBuf [SL3HidReportSize]byte
	hidResponse    chan struct{}
	hidMutex       sync.Mutex

	// Async device status (updated from the HID IN callback)
	overloadStatus [6]byte // Per-channel (HID 0x34)
	phonoStatus    [3]byte // Per-pair (HID 0x38)
	usbPortStatus  [4]byte // Opaque (HID 0x39)
	statusLock     sync.Mutex

	// Controls and notifications
	controls    []*Control
	ctlWatchers []chan string
	notify      *NotifyBus // May be nil

	// Statistics
	playUrbsCompleted int64
	capUrbsCompleted  int64
	playUnderruns     int32
	capOverruns       int32
	discontinuities   int32

	// Lifecycle
	disconnected int32 // Atomic flag
	streamMutex  sync.Mutex
	refs         int32 // Open handles; released at zero

	// Rate-limited warning state
	warnLock sync.Mutex
	warnLast time.Time

	// sleep is time.Sleep, indirect for tests
	sleep func(d time.Duration)
}

// newDevice builds a Device around an opened usbIO backend.
// Locks, channels and counters are initialized; no USB traffic
// happens yet
func newDevice(io usbIO, addr UsbAddr, info UsbDeviceInfo,
	state *DevState, log *Logger) *Device {

	dev := &Device{
		io:          io,
		addr:        addr,
		info:        info,
		log:         log,
		state:       state,
		hidResponse: make(chan struct{}, 1),
		refs:        1,
		sleep:       time.Sleep,
	}

	dev.playback.dir = dirPlayback
	dev.capture.dir = dirCapture

	dev.controlInit()

	return dev
}

// currentRate returns the configured nominal rate
func (dev *Device) currentRate() uint {
	return uint(atomic.LoadUint32(&dev.rate))
}

// setCurrentRate updates the configured nominal rate
func (dev *Device) setCurrentRate(rate uint) {
	atomic.StoreUint32(&dev.rate, uint32(rate))
}

// isDisconnected reports whether the device has gone
func (dev *Device) isDisconnected() bool {
	return atomic.LoadInt32(&dev.disconnected) != 0
}

// setDisconnected marks the device as gone. Every user-visible
// operation and every resubmit site observes the flag
func (dev *Device) setDisconnected() {
	atomic.StoreInt32(&dev.disconnected, 1)
}

// warnRatelimited logs a warning, at most one per second per
// device. Used on the completion paths, where a misbehaving
// device could otherwise flood the log
func (dev *Device) warnRatelimited(format string, args ...interface{}) {
	dev.warnLock.Lock()
	now := time.Now()
	ok := now.Sub(dev.warnLast) >= time.Second
	if ok {
		dev.warnLast = now
	}
	dev.warnLock.Unlock()

	if ok {
		dev.log.Info('?', format, args...)
	}
}

// ref takes a device reference
func (dev *Device) ref() {
	atomic.AddInt32(&dev.refs, 1)
}

// unref drops a device reference. The last drop after disconnect
// releases the device
func (dev *Device) unref() {
	if atomic.AddInt32(&dev.refs, -1) == 0 {
		dev.release()
	}
}

// release finishes the device lifetime, after disconnect and after
// the last handle has been closed
func (dev *Device) release() {
	if dev.notify != nil {
		dev.notify.DeviceRemoved(dev.info.Ident())
	}

	dev.log.Info('-', "%s: released %s", dev.addr, dev.info.ProductName)
	dev.log.Close()
}

// NewDevice probes a Rane SL3 at the given USB address and brings
// it up: interfaces claimed, HID handshake done, URB rings ready,
// controls registered, card published. Errors unwind all completed
// steps in reverse order
func NewDevice(addr UsbAddr, notify *NotifyBus) (*Device, error) {
	io, info, err := UsbOpenSl3Device(addr)
	if err != nil {
		return nil, err
	}

	log := NewDeviceLogger(info.Ident())
	log.SetLevel(Conf.LogDevice)

	return probeDevice(io, addr, info, log, notify)
}

// probeDevice runs the bring-up sequence on an opened backend
func probeDevice(io usbIO, addr UsbAddr, info UsbDeviceInfo,
	log *Logger, notify *NotifyBus) (*Device, error) {

	var claimed []int
	var altSet []int
	var dev *Device
	var state *DevState
	var err error

	log.Begin().
		Info('+', "%s: added %s", addr, info.ProductName).
		Debug(' ', "Device info:").
		Debug(' ', "  Ident:        %s", info.Ident()).
		Debug(' ', "  Manufacturer: %s", info.Manufacturer).
		Debug(' ', "  Product:      %s", info.ProductName).
		Debug(' ', "  Serial:       %s", info.SerialNumber).
		Commit()

	// Claim interfaces 1 (audio out), 2 (audio in), 3 (HID)
	for _, ifnum := range []int{SL3IntfAudioOut, SL3IntfAudioIn, SL3IntfHid} {
		err = io.ClaimInterface(ifnum)
		if err != nil {
			log.Error('!', "failed to claim interface %d: %s",
				ifnum, err)
			goto ERROR
		}
		claimed = append(claimed, ifnum)
	}

	// Select alt setting 1 on the audio streaming interfaces
	for _, ifnum := range []int{SL3IntfAudioOut, SL3IntfAudioIn} {
		err = io.SetAltSetting(ifnum, 1)
		if err != nil {
			log.Error('!',
				"failed to set interface %d alt setting 1: %s",
				ifnum, err)
			goto ERROR
		}
		altSet = append(altSet, ifnum)
	}

	// Build the device with the default configuration. The
	// persisted state, when valid, overrides the configured
	// default rate
	state = LoadDevState(info.Ident())

	dev = newDevice(io, addr, info, state, log)
	dev.notify = notify

	if state.SampleRate != 0 {
		dev.setCurrentRate(state.SampleRate)
	} else {
		dev.setCurrentRate(Conf.DefaultSampleRate)
	}
	dev.routing = state.Routing

	// Bring up the HID channel
	err = dev.hidInit()
	if err != nil {
		goto ERROR
	}

	// Allocate the isochronous URB rings
	dev.playback.urbs = allocIsoURBs(SL3EpAudioOut, dev.playbackComplete)
	dev.capture.urbs = allocIsoURBs(SL3EpAudioIn, dev.captureComplete)

	// Publish the card
	StatusSet(addr, info, dev, nil)
	if notify != nil {
		notify.DeviceAdded(info.Ident())
	}

	log.Info('+', "%s: probe successful (rate=%d)",
		addr, dev.currentRate())

	return dev, nil

	// Error: unwind in reverse order and exit
ERROR:
	for i := len(altSet) - 1; i >= 0; i-- {
		io.SetAltSetting(altSet[i], 0)
	}
	for i := len(claimed) - 1; i >= 0; i-- {
		io.ReleaseInterface(claimed[i])
	}
	io.Close()

	StatusSet(addr, info, nil, err)

	log.Error('!', "%s: probe failed: %s", addr, err)
	log.Close()

	return nil, err
}

// Disconnect tears the device down after it has gone from the bus
// (or at daemon shutdown). Streams are stopped and drained, the HID
// channel is killed, alt settings reset, interfaces released. The
// device object itself is released when the last open handle drops
func (dev *Device) Disconnect() {
	dev.log.Info('-', "%s: disconnecting %s",
		dev.addr, dev.info.ProductName)

	dev.setDisconnected()

	// Stop and drain the audio streams
	dev.streamStop(&dev.playback)
	dev.streamStop(&dev.capture)

	// Tear down the HID channel
	dev.hidCleanup()

	// Reset alt settings; the device may be gone already, so
	// errors are expected and ignored
	dev.io.SetAltSetting(SL3IntfAudioOut, 0)
	dev.io.SetAltSetting(SL3IntfAudioIn, 0)

	// Release claimed interfaces
	dev.io.ReleaseInterface(SL3IntfHid)
	dev.io.ReleaseInterface(SL3IntfAudioIn)
	dev.io.ReleaseInterface(SL3IntfAudioOut)

	dev.io.Close()

	StatusDel(dev.addr)

	dev.log.Info('-', "%s: disconnected", dev.addr)

	dev.unref()
}

// DeviceStats is a snapshot of the streaming statistics
type DeviceStats struct {
	PlayUrbsCompleted int64
	CapUrbsCompleted  int64
	PlayUnderruns     int
	CapOverruns       int
	Discontinuities   int
	FeedbackSamples   int
	Rate              uint
}

// Stats returns a snapshot of the streaming statistics
func (dev *Device) Stats() DeviceStats {
	dev.feedbackLock.Lock()
	feedback := dev.feedbackSamples
	dev.feedbackLock.Unlock()

	return DeviceStats{
		PlayUrbsCompleted: atomic.LoadInt64(&dev.playUrbsCompleted),
		CapUrbsCompleted:  atomic.LoadInt64(&dev.capUrbsCompleted),
		PlayUnderruns:     int(atomic.LoadInt32(&dev.playUnderruns)),
		CapOverruns:       int(atomic.LoadInt32(&dev.capOverruns)),
		Discontinuities:   int(atomic.LoadInt32(&dev.discontinuities)),
		FeedbackSamples:   feedback,
		Rate:              dev.currentRate(),
	}
}

// OverloadStatus returns the per-channel overload cache
func (dev *Device) OverloadStatus() [6]byte {
	dev.statusLock.Lock()
	defer dev.statusLock.Unlock()
	return dev.overloadStatus
}

// PhonoStatus returns the per-pair phono/line cache
func (dev *Device) PhonoStatus() [3]byte {
	dev.statusLock.Lock()
	defer dev.statusLock.Unlock()
	return dev.phonoStatus
}

// UsbPortStatus returns the opaque USB-port status bytes
func (dev *Device) UsbPortStatus() [4]byte {
	dev.statusLock.Lock()
	defer dev.statusLock.Unlock()
	return dev.usbPortStatus
}

// Routing returns the cached per-pair output routing
func (dev *Device) Routing() [3]byte {
	dev.statusLock.Lock()
	defer dev.statusLock.Unlock()
	return dev.routing
}

// Running reports the running state of both directions
func (dev *Device) Running() (playback, capture bool) {
	return dev.playback.isRunning(), dev.capture.isRunning()
}
