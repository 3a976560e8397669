/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Isochronous streaming engine: packet sizing, ring buffer copy,
 * implicit feedback, period reporting, start/stop
 */

package main

import (
	"sync"
	"sync/atomic"
)

// streamDir identifies a stream direction
type streamDir int

const (
	dirPlayback streamDir = iota
	dirCapture
)

// String returns the stream direction name
func (dir streamDir) String() string {
	if dir == dirPlayback {
		return "playback"
	}
	return "capture"
}

// stream is the per-direction streaming state. hwptr advances
// monotonically in frames and wraps modulo 2^64; the host converts
// it to a ring position. transferDone counts frames since the last
// period notification and stays below the period size right after
// one is emitted.
type stream struct {
	dir          streamDir
	sub          PCMSubstream // Attached host substream, nil when closed
	urbs         []*urb       // Fixed ring of SL3NumURBs
	hwptr        uint64       // Hardware pointer, frames
	transferDone uint         // Frames since last period notification
	running      int32        // Atomic; mutations serialized by lock
	lock         sync.Mutex   // Protects hwptr, transferDone, sub
}

// isRunning reports whether the stream is started. Safe to call
// from any context
func (s *stream) isRunning() bool {
	return atomic.LoadInt32(&s.running) != 0
}

// setRunning flips the running flag
func (s *stream) setRunning(on bool) {
	v := int32(0)
	if on {
		v = 1
	}
	atomic.StoreInt32(&s.running, v)
}

// nextPacketSamples returns the sample count for the next ISO packet
// and advances the fractional accumulator.
//
// At 48 kHz every microframe carries exactly 6 frames. At 44.1 kHz
// the nominal rate is 5.5125 frames/microframe; the accumulator
// spreads the fraction so that the long-run average is exact:
// over 80 microframes the pattern emits 80*5+41 = 441 samples,
// which is 10 ms of audio.
//
// Must be called with consistent serialization: either before any
// URBs are submitted, or under the playback stream lock.
func (dev *Device) nextPacketSamples() int {
	if dev.currentRate() == 48000 {
		return SL3Samples48k
	}

	samples := SL3Samples44kMin
	dev.sampleAccumulator += SL3FracNum
	if dev.sampleAccumulator >= SL3FracDenom {
		dev.sampleAccumulator -= SL3FracDenom
		samples++
	}
	return samples
}

// preparePlaybackURB fills a playback URB with silence. Used for
// the initial submission, before any audio is available
func (dev *Device) preparePlaybackURB(u *urb) {
	for i := range u.buffer {
		u.buffer[i] = 0
	}

	offset := 0
	for i := range u.packets {
		samples := dev.nextPacketSamples()
		bytes := samples * SL3BytesPerFrame

		u.packets[i].offset = offset
		u.packets[i].length = bytes
		offset += bytes
	}
	u.transferLength = offset
}

// copyToRing copies bytes into the host PCM ring at the current
// hwptr, handling wraparound
func copyToRing(ring []byte, hwptrFrames uint64, bufFrames int, data []byte) {
	bufBytes := bufFrames * SL3BytesPerFrame
	pos := int(hwptrFrames%uint64(bufFrames)) * SL3BytesPerFrame

	if pos+len(data) <= bufBytes {
		copy(ring[pos:], data)
	} else {
		c1 := bufBytes - pos
		copy(ring[pos:], data[:c1])
		copy(ring, data[c1:])
	}
}

// copyFromRing copies bytes out of the host PCM ring at the current
// hwptr, handling wraparound
func copyFromRing(ring []byte, hwptrFrames uint64, bufFrames int, data []byte) {
	bufBytes := bufFrames * SL3BytesPerFrame
	pos := int(hwptrFrames%uint64(bufFrames)) * SL3BytesPerFrame

	if pos+len(data) <= bufBytes {
		copy(data, ring[pos:])
	} else {
		c1 := bufBytes - pos
		copy(data[:c1], ring[pos:])
		copy(data[c1:], ring)
	}
}

// fillPlaybackURB copies audio from the host playback ring into an
// URB and sets the ISO packet descriptors. The packet sizes come
// from the implicit feedback count when capture is running, from
// the fractional accumulator otherwise. Called under the playback
// stream lock, from the completion context.
func (dev *Device) fillPlaybackURB(u *urb) {
	s := &dev.playback
	sub := s.sub

	// Snapshot the implicit feedback sample count
	dev.feedbackLock.Lock()
	feedbackTotal := dev.feedbackSamples
	dev.feedbackLock.Unlock()

	captureRunning := dev.capture.isRunning()

	offset := 0
	for i := range u.packets {
		var samples int

		if captureRunning && feedbackTotal > 0 {
			// Distribute feedback evenly across remaining packets
			remaining := len(u.packets) - i

			samples = (feedbackTotal + remaining - 1) / remaining
			if samples > SL3MaxPacketFrames {
				samples = SL3MaxPacketFrames
			}
			feedbackTotal -= samples
		} else {
			samples = dev.nextPacketSamples()
		}

		bytes := samples * SL3BytesPerFrame
		u.packets[i].offset = offset
		u.packets[i].length = bytes

		if sub != nil {
			copyFromRing(sub.Buffer(), s.hwptr, sub.BufferFrames(),
				u.buffer[offset:offset+bytes])
			s.hwptr += uint64(samples)
			s.transferDone += uint(samples)
		} else {
			for j := offset; j < offset+bytes; j++ {
				u.buffer[j] = 0
			}
		}

		offset += bytes
	}
	u.transferLength = offset
}

// checkPeriodElapsed consumes whole periods from transferDone and
// reports whether a period boundary notification is due. Called
// under the stream lock; the notification itself is emitted after
// the lock is released
func (s *stream) checkPeriodElapsed() bool {
	if s.sub == nil {
		return false
	}

	periodSize := uint(s.sub.PeriodFrames())
	if periodSize == 0 {
		return false
	}

	elapsed := false
	for s.transferDone >= periodSize {
		s.transferDone -= periodSize
		elapsed = true
	}
	return elapsed
}

// handleURBError applies the common completion error policy.
// Returns true when the caller should proceed to process and
// resubmit the URB
func (dev *Device) handleURBError(s *stream, u *urb) bool {
	switch u.status {
	case urbStatusOK:
		u.retries = 0
		return true

	case urbStatusCancelled:
		// Normal URB kill, do not resubmit
		return false

	case urbStatusNoDevice:
		dev.setDisconnected()
		return false

	case urbStatusStall:
		dev.warnRatelimited("%s URB[%d] stall, clearing halt",
			s.dir, u.index)
		dev.io.ClearHalt(u.endpoint)
		dev.resubmitURB(s, u)
		return false

	case urbStatusOverflow:
		dev.warnRatelimited("%s URB[%d] overflow", s.dir, u.index)
		dev.resubmitURB(s, u)
		return false

	default:
		dev.warnRatelimited("%s URB[%d] error: %s",
			s.dir, u.index, u.status)

		u.retries++
		if u.retries >= SL3URBMaxRetries {
			dev.log.Error('!',
				"%s URB[%d]: %d consecutive errors, stopping",
				s.dir, u.index, u.retries)

			s.lock.Lock()
			sub := s.sub
			s.lock.Unlock()

			if sub != nil {
				if s.dir == dirPlayback {
					atomic.AddInt32(&dev.playUnderruns, 1)
				} else {
					atomic.AddInt32(&dev.capOverruns, 1)
				}
				sub.StopXrun()
			}
			return false
		}

		dev.resubmitURB(s, u)
		return false
	}
}

// resubmitURB resubmits an URB from the completion context, unless
// the stream has stopped or the device has gone. Capture URBs are
// re-prepared for the next receive first
func (dev *Device) resubmitURB(s *stream, u *urb) {
	if !s.isRunning() || dev.isDisconnected() {
		return
	}

	if s.dir == dirCapture {
		u.prepareCapture()
	}

	err := dev.io.Submit(u)
	if err != nil {
		if err == ErrDisconnected {
			dev.setDisconnected()
			return
		}
		dev.warnRatelimited("%s URB[%d] resubmit: %s",
			s.dir, u.index, err)
	}
}

// playbackComplete is the playback URB completion callback. It runs
// on the backend event context and must not block
func (dev *Device) playbackComplete(u *urb) {
	s := &dev.playback

	if !dev.handleURBError(s, u) {
		return
	}

	if !s.isRunning() || dev.isDisconnected() {
		return
	}

	atomic.AddInt64(&dev.playUrbsCompleted, 1)

	s.lock.Lock()
	sub := s.sub
	dev.fillPlaybackURB(u)
	doElapsed := s.checkPeriodElapsed()
	s.lock.Unlock()

	if doElapsed {
		sub.PeriodElapsed()
	}

	dev.resubmitURB(s, u)
}

// captureComplete is the capture URB completion callback. It copies
// received packets into the host ring, publishes the total sample
// count as implicit feedback for the playback side, and resubmits
func (dev *Device) captureComplete(u *urb) {
	s := &dev.capture

	if !dev.handleURBError(s, u) {
		return
	}

	if !s.isRunning() || dev.isDisconnected() {
		return
	}

	atomic.AddInt64(&dev.capUrbsCompleted, 1)

	totalSamples := 0

	s.lock.Lock()
	sub := s.sub

	for i := range u.packets {
		samples := u.packets[i].actual / SL3BytesPerFrame
		bytes := samples * SL3BytesPerFrame

		totalSamples += samples

		if sub == nil || bytes == 0 {
			continue
		}

		pktOff := u.packets[i].offset
		copyToRing(sub.Buffer(), s.hwptr, sub.BufferFrames(),
			u.buffer[pktOff:pktOff+bytes])
		s.hwptr += uint64(samples)
		s.transferDone += uint(samples)
	}

	doElapsed := s.checkPeriodElapsed()
	s.lock.Unlock()

	// Publish implicit feedback for the next playback URB fill
	dev.feedbackLock.Lock()
	dev.feedbackSamples = totalSamples
	dev.feedbackLock.Unlock()

	if doElapsed {
		sub.PeriodElapsed()
	}

	dev.resubmitURB(s, u)
}

// streamStart prepares and submits all URBs of a stream. Starting
// playback implicitly starts capture first: capture packet sizes
// are the timing reference for playback packet sizes
func (dev *Device) streamStart(s *stream) error {
	if dev.isDisconnected() {
		return ErrDisconnected
	}

	// Already running (e.g. implicit capture started by playback)
	if s.isRunning() {
		return nil
	}

	if s.dir == dirPlayback {
		dev.sampleAccumulator = 0
	}

	// Prepare all URBs before submitting to avoid races
	// with completions
	for _, u := range s.urbs {
		if s.dir == dirPlayback {
			dev.preparePlaybackURB(u)
		} else {
			u.prepareCapture()
		}
	}

	s.setRunning(true)

	// Playback requires capture for implicit feedback
	if s.dir == dirPlayback && !dev.capture.isRunning() {
		err := dev.streamStart(&dev.capture)
		if err != nil {
			dev.log.Error('!',
				"implicit capture start failed: %s", err)
			s.setRunning(false)
			return err
		}
	}

	for _, u := range s.urbs {
		err := dev.io.Submit(u)
		if err != nil {
			dev.log.Error('!', "%s URB[%d] submit failed: %s",
				s.dir, u.index, err)
			s.setRunning(false)
			return err
		}
	}

	dev.log.Debug('>', "%s streaming started (%d Hz)",
		s.dir, dev.currentRate())
	return nil
}

// streamStop kills all in-flight URBs of a stream. The kill is
// synchronous: when streamStop returns, no completion callback
// touches the stream state anymore. Capture started implicitly for
// playback is stopped along with it, unless a user-visible capture
// substream is open
func (dev *Device) streamStop(s *stream) {
	if !s.isRunning() {
		return
	}

	s.setRunning(false)

	for _, u := range s.urbs {
		dev.io.Kill(u)
	}

	if s.dir == dirPlayback && dev.capture.isRunning() {
		dev.capture.lock.Lock()
		captureSub := dev.capture.sub
		dev.capture.lock.Unlock()

		if captureSub == nil {
			dev.streamStop(&dev.capture)
		}
	}

	dev.log.Debug('<', "%s streaming stopped", s.dir)
}
