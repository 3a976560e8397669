/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Fake usbIO backend and PCM substream for tests
 */

package main

import (
	"sync"
	"time"
)

// fakeUsbIO implements the usbIO interface without hardware.
// Submitted URBs are queued; the test completes them explicitly
// via complete / completeCapture / completeInterrupt
type fakeUsbIO struct {
	mu        sync.Mutex
	inflight  map[*urb]bool
	submitted []*urb // In submission order, never reset

	// Interrupt OUT reports, one copy per transfer
	outReports [][]byte

	// outHook, if set, runs synchronously on every interrupt
	// OUT transfer, before it returns
	outHook func(data []byte)

	// Injected errors
	submitErr error
	outErr    error
	claimErr  map[int]error

	clearHalts []uint8
	altSet     [][2]int
	claimed    []int
	released   []int
	closed     bool
}

func newFakeUsbIO() *fakeUsbIO {
	return &fakeUsbIO{
		inflight: make(map[*urb]bool),
	}
}

func (f *fakeUsbIO) Submit(u *urb) error {
	f.mu.Lock()
	if f.submitErr != nil {
		err := f.submitErr
		f.mu.Unlock()
		return err
	}
	f.inflight[u] = true
	f.submitted = append(f.submitted, u)
	f.mu.Unlock()
	return nil
}

func (f *fakeUsbIO) Kill(u *urb) {
	f.mu.Lock()
	inflight := f.inflight[u]
	delete(f.inflight, u)
	f.mu.Unlock()

	if inflight {
		u.status = urbStatusCancelled
		u.complete(u)
	}
}

func (f *fakeUsbIO) ClearHalt(ep uint8) error {
	f.mu.Lock()
	f.clearHalts = append(f.clearHalts, ep)
	f.mu.Unlock()
	return nil
}

func (f *fakeUsbIO) InterruptOut(ep uint8, data []byte,
	timeout time.Duration) (int, error) {

	if f.outErr != nil {
		return 0, f.outErr
	}

	report := make([]byte, len(data))
	copy(report, data)

	f.mu.Lock()
	f.outReports = append(f.outReports, report)
	hook := f.outHook
	f.mu.Unlock()

	if hook != nil {
		hook(report)
	}

	return len(data), nil
}

func (f *fakeUsbIO) SetAltSetting(ifnum, alt int) error {
	f.mu.Lock()
	f.altSet = append(f.altSet, [2]int{ifnum, alt})
	f.mu.Unlock()
	return nil
}

func (f *fakeUsbIO) ClaimInterface(ifnum int) error {
	if err := f.claimErr[ifnum]; err != nil {
		return err
	}

	f.mu.Lock()
	f.claimed = append(f.claimed, ifnum)
	f.mu.Unlock()
	return nil
}

func (f *fakeUsbIO) ReleaseInterface(ifnum int) error {
	f.mu.Lock()
	f.released = append(f.released, ifnum)
	f.mu.Unlock()
	return nil
}

func (f *fakeUsbIO) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// complete finishes an in-flight URB with the given status and
// invokes its completion callback, the way the event thread would
func (f *fakeUsbIO) complete(u *urb, status urbStatus) {
	f.mu.Lock()
	delete(f.inflight, u)
	f.mu.Unlock()

	u.status = status
	u.complete(u)
}

// completeCapture finishes a capture URB with per-packet actual
// lengths, given in samples
func (f *fakeUsbIO) completeCapture(u *urb, samples []int) {
	for i := range u.packets {
		actual := 0
		if i < len(samples) {
			actual = samples[i] * SL3BytesPerFrame
		}
		u.packets[i].actual = actual
	}
	f.complete(u, urbStatusOK)
}

// isInflight reports whether an URB is currently submitted
func (f *fakeUsbIO) isInflight(u *urb) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight[u]
}

// inflightCount returns the count of in-flight URBs
func (f *fakeUsbIO) inflightCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inflight)
}

// submittedAfter returns URBs submitted after the given index
func (f *fakeUsbIO) submittedAfter(n int) []*urb {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted[n:]
}

// submittedCount returns the total count of submissions so far
func (f *fakeUsbIO) submittedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

// outCount returns the count of interrupt OUT transfers so far
func (f *fakeUsbIO) outCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outReports)
}

// lastOut returns the most recent interrupt OUT report
func (f *fakeUsbIO) lastOut() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outReports) == 0 {
		return nil
	}
	return f.outReports[len(f.outReports)-1]
}

// fakeSubstream implements PCMSubstream for tests
type fakeSubstream struct {
	mu           sync.Mutex
	buffer       []byte
	bufferFrames int
	periodFrames int
	rate         uint
	periods      int
	xruns        int
}

func newFakeSubstream(bufferFrames, periodFrames int, rate uint) *fakeSubstream {
	return &fakeSubstream{
		buffer:       make([]byte, bufferFrames*SL3BytesPerFrame),
		bufferFrames: bufferFrames,
		periodFrames: periodFrames,
		rate:         rate,
	}
}

func (sub *fakeSubstream) Buffer() []byte    { return sub.buffer }
func (sub *fakeSubstream) BufferFrames() int { return sub.bufferFrames }
func (sub *fakeSubstream) PeriodFrames() int { return sub.periodFrames }
func (sub *fakeSubstream) Rate() uint        { return sub.rate }

func (sub *fakeSubstream) PeriodElapsed() {
	sub.mu.Lock()
	sub.periods++
	sub.mu.Unlock()
}

func (sub *fakeSubstream) StopXrun() {
	sub.mu.Lock()
	sub.xruns++
	sub.mu.Unlock()
}

func (sub *fakeSubstream) periodCount() int {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.periods
}

func (sub *fakeSubstream) xrunCount() int {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.xruns
}

// newTestDevice builds a Device on a top of a fake backend, with
// URB rings allocated, the default rate configured and delays
// stubbed out. No HID handshake is run
func newTestDevice(f *fakeUsbIO) *Device {
	state := &DevState{
		Routing: [3]byte{SL3RouteUSB, SL3RouteUSB, SL3RouteUSB},
	}

	log := &Logger{level: LogError}

	info := UsbDeviceInfo{
		Vendor:      SL3VendorID,
		Product:     SL3ProductID,
		ProductName: "Rane SL3",
	}

	dev := newDevice(f, UsbAddr{Bus: 1, Address: 2}, info, state, log)
	dev.setCurrentRate(48000)
	dev.routing = state.Routing
	dev.sleep = func(time.Duration) {}

	dev.playback.urbs = allocIsoURBs(SL3EpAudioOut, dev.playbackComplete)
	dev.capture.urbs = allocIsoURBs(SL3EpAudioIn, dev.captureComplete)

	return dev
}

// urbSamples sums the packet lengths of an URB, in frames
func urbSamples(u *urb) int {
	total := 0
	for i := range u.packets {
		total += u.packets[i].length
	}
	return total / SL3BytesPerFrame
}
