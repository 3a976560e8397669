/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * PCM surface: the host audio subsystem's view of the device.
 * The host PCM implementation itself lives outside this program;
 * it attaches substreams and drives triggers through the methods
 * defined here.
 */

package main

// PCMSubstream is implemented by the host audio subsystem for each
// open substream. The streaming engine calls it from the URB
// completion context; PeriodElapsed and StopXrun must not block.
type PCMSubstream interface {
	// Buffer returns the interleaved S24_3LE ring buffer
	Buffer() []byte

	// BufferFrames returns the ring size in frames
	BufferFrames() int

	// PeriodFrames returns the period size in frames
	PeriodFrames() int

	// Rate returns the substream rate, 0 while not negotiated
	Rate() uint

	// PeriodElapsed notifies the host that one or more periods
	// completed since the previous notification
	PeriodElapsed()

	// StopXrun signals an underrun/overrun condition to the host
	StopXrun()
}

// PCMHardware describes the PCM capabilities of the device
type PCMHardware struct {
	Formats        []string // Sample formats
	RateMin        uint
	RateMax        uint
	Rates          []uint // Discrete supported rates
	Channels       int    // Fixed channel count
	BufferBytesMax int
	PeriodBytesMin int
	PeriodBytesMax int
	PeriodsMin     int
	PeriodsMax     int
	Interleaved    bool
	MmapCapable    bool
	BlockTransfer  bool
}

// SL3PCMHardware is the PCM capability set of the Rane SL3
var SL3PCMHardware = PCMHardware{
	Formats:        []string{"S24_3LE"},
	RateMin:        44100,
	RateMax:        48000,
	Rates:          []uint{44100, 48000},
	Channels:       SL3NumChannels,
	BufferBytesMax: 256 * 1024,
	PeriodBytesMin: SL3BytesPerFrame,
	PeriodBytesMax: 128 * 1024,
	PeriodsMin:     2,
	PeriodsMax:     1024,
	Interleaved:    true,
	MmapCapable:    true,
	BlockTransfer:  true,
}

// RateInterval is a rate constraint interval, in the host audio
// subsystem's interval-refinement style
type RateInterval struct {
	Min, Max uint
}

// Refine narrows the interval to its intersection with another.
// It returns false when the intersection is empty
func (iv *RateInterval) Refine(other RateInterval) bool {
	if other.Min > iv.Min {
		iv.Min = other.Min
	}
	if other.Max < iv.Max {
		iv.Max = other.Max
	}
	return iv.Min <= iv.Max
}

// streamFor returns the stream for a direction
func (dev *Device) streamFor(dir streamDir) *stream {
	if dir == dirPlayback {
		return &dev.playback
	}
	return &dev.capture
}

// RateConstraint implements the PCM rate rule: while the other
// direction is open with a rate set, this direction is pinned to
// the same rate. Both directions must share one clock
func (dev *Device) RateConstraint(dir streamDir) RateInterval {
	iv := RateInterval{Min: SL3PCMHardware.RateMin, Max: SL3PCMHardware.RateMax}

	other := dev.streamFor(dir.other())

	other.lock.Lock()
	sub := other.sub
	other.lock.Unlock()

	if sub == nil {
		return iv
	}

	rate := sub.Rate()
	if rate == 0 {
		return iv
	}

	iv.Refine(RateInterval{Min: rate, Max: rate})
	return iv
}

// other returns the opposite stream direction
func (dir streamDir) other() streamDir {
	if dir == dirPlayback {
		return dirCapture
	}
	return dirPlayback
}

// OpenSubstream attaches a host substream to a stream direction
func (dev *Device) OpenSubstream(dir streamDir, sub PCMSubstream) error {
	if dev.isDisconnected() {
		return ErrDisconnected
	}

	s := dev.streamFor(dir)

	s.lock.Lock()
	s.sub = sub
	s.lock.Unlock()

	dev.ref()
	return nil
}

// CloseSubstream detaches the host substream. Lingering URBs are
// killed first; safe to call even if the stream already stopped
func (dev *Device) CloseSubstream(dir streamDir) {
	s := dev.streamFor(dir)

	dev.streamStop(s)

	s.lock.Lock()
	s.sub = nil
	s.lock.Unlock()

	dev.unref()
}

// HWParams applies negotiated hardware parameters. Currently the
// only device-affecting parameter is the sample rate, which runs
// the full rate switching sequence
func (dev *Device) HWParams(dir streamDir, rate uint) error {
	if dev.isDisconnected() {
		return ErrDisconnected
	}

	return dev.SetSampleRate(rate)
}

// Prepare resets the stream position before start
func (dev *Device) Prepare(dir streamDir) error {
	if dev.isDisconnected() {
		return ErrDisconnected
	}

	s := dev.streamFor(dir)

	s.lock.Lock()
	s.hwptr = 0
	s.transferDone = 0
	s.lock.Unlock()

	return nil
}

// TriggerStart starts streaming in the given direction
func (dev *Device) TriggerStart(dir streamDir) error {
	if dev.isDisconnected() {
		return ErrDisconnected
	}

	return dev.streamStart(dev.streamFor(dir))
}

// TriggerStop stops streaming in the given direction
func (dev *Device) TriggerStop(dir streamDir) error {
	if dev.isDisconnected() {
		return ErrDisconnected
	}

	dev.streamStop(dev.streamFor(dir))
	return nil
}

// Pointer returns the current hardware pointer position, in frames
// within the ring buffer. On a disconnected device it returns
// ErrDisconnected, which the host maps to an xrun position
func (dev *Device) Pointer(dir streamDir) (uint, error) {
	if dev.isDisconnected() {
		return 0, ErrDisconnected
	}

	s := dev.streamFor(dir)

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.sub == nil {
		return 0, ErrNotRunning
	}

	return uint(s.hwptr % uint64(s.sub.BufferFrames())), nil
}

// SetSampleRate runs the full rate switching sequence: it refuses
// while either stream is running, sends the HID rate command,
// waits out the device stabilization delay and resets the
// fractional accumulator
func (dev *Device) SetSampleRate(rate uint) error {
	if rate != 44100 && rate != 48000 {
		return ErrInvalidRate
	}

	dev.streamMutex.Lock()
	defer dev.streamMutex.Unlock()

	if rate == dev.currentRate() {
		return nil
	}

	// Cannot switch while a stream is actively running
	if dev.playback.isRunning() || dev.capture.isRunning() {
		return ErrBusy
	}

	err := dev.hidSetSampleRate(rate)
	if err != nil {
		dev.log.Error('!', "HID set sample rate to %d failed: %s",
			rate, err)
		return err
	}

	// Device stabilization delay
	dev.sleep(DevStabilizationDelay)

	// Reset fractional sample accumulator for the 44.1 kHz pattern
	dev.sampleAccumulator = 0
	dev.setCurrentRate(rate)
	dev.state.SetRate(rate)

	dev.log.Info(' ', "sample rate switched to %d Hz", rate)

	dev.notifyControl(CtlSampleRate)
	return nil
}

// SetRouting changes the output source of one channel pair.
// The command is fire-and-forget; the cache updates immediately.
// It returns true when the write changed the cached value
func (dev *Device) SetRouting(pairIndex int, mode byte) (bool, error) {
	if dev.isDisconnected() {
		return false, ErrDisconnected
	}

	if mode > 1 {
		return false, ErrInvalidRouting
	}

	dev.statusLock.Lock()
	current := dev.routing[pairIndex]
	dev.statusLock.Unlock()

	if mode == current {
		return false, nil
	}

	pairIds := []byte{SL3PairDeckA, SL3PairDeckB, SL3PairDeckC}

	err := dev.hidSetRouting(pairIds[pairIndex], mode)
	if err != nil {
		return false, err
	}

	dev.statusLock.Lock()
	dev.routing[pairIndex] = mode
	dev.statusLock.Unlock()

	dev.state.SetRouting(pairIndex, mode)
	return true, nil
}
