/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Mixer-style controls: sample rate, channel routing and
 * read-only device status
 */

package main

// Control element names
const (
	CtlSampleRate        = "Sample Rate"
	CtlDeckAOutputSource = "Deck A Output Source"
	CtlDeckBOutputSource = "Deck B Output Source"
	CtlDeckCOutputSource = "Deck C Output Source"
	CtlOverloadStatus    = "Overload Status"
	CtlPhonoSwitchStatus = "Phono Switch Status"
)

// ControlType enumerates control element types
type ControlType int

// Control element types
const (
	ControlEnumerated ControlType = iota
	ControlBoolean
)

// Control represents a single mixer-style control element
type Control struct {
	Name     string      // Element name
	Type     ControlType // Element type
	Items    []string    // Texts, for enumerated controls
	Count    int         // Count of values
	ReadOnly bool        // No put handler
	Volatile bool        // Value changes without put

	get func() []int
	put func(values []int) (bool, error)
}

// Get reads the current control values
func (ctl *Control) Get() []int {
	return ctl.get()
}

// Put writes new control values. It returns true iff the write
// caused an update
func (ctl *Control) Put(values []int) (bool, error) {
	if ctl.ReadOnly || ctl.put == nil {
		return false, ErrAccess
	}
	return ctl.put(values)
}

var (
	ctlRateTexts  = []string{"44100 Hz", "48000 Hz"}
	ctlRouteTexts = []string{"Analog", "USB"}
)

// controlInit builds the control elements of a device
func (dev *Device) controlInit() {
	dev.controls = []*Control{
		{
			Name:  CtlSampleRate,
			Type:  ControlEnumerated,
			Items: ctlRateTexts,
			Count: 1,
			get: func() []int {
				if dev.currentRate() == 48000 {
					return []int{1}
				}
				return []int{0}
			},
			put: dev.ctlRatePut,
		},
	}

	routeNames := []string{
		CtlDeckAOutputSource,
		CtlDeckBOutputSource,
		CtlDeckCOutputSource,
	}

	for i, name := range routeNames {
		pair := i
		dev.controls = append(dev.controls, &Control{
			Name:  name,
			Type:  ControlEnumerated,
			Items: ctlRouteTexts,
			Count: 1,
			get: func() []int {
				dev.statusLock.Lock()
				defer dev.statusLock.Unlock()
				return []int{int(dev.routing[pair])}
			},
			put: func(values []int) (bool, error) {
				return dev.ctlRoutePut(pair, values)
			},
		})
	}

	dev.controls = append(dev.controls,
		&Control{
			Name:     CtlOverloadStatus,
			Type:     ControlBoolean,
			Count:    SL3NumChannels,
			ReadOnly: true,
			Volatile: true,
			get: func() []int {
				dev.statusLock.Lock()
				defer dev.statusLock.Unlock()

				values := make([]int, SL3NumChannels)
				for i, b := range dev.overloadStatus {
					if b != 0 {
						values[i] = 1
					}
				}
				return values
			},
		},
		&Control{
			Name:     CtlPhonoSwitchStatus,
			Type:     ControlBoolean,
			Count:    3,
			ReadOnly: true,
			Volatile: true,
			get: func() []int {
				dev.statusLock.Lock()
				defer dev.statusLock.Unlock()

				values := make([]int, 3)
				for i, b := range dev.phonoStatus {
					if b != 0 {
						values[i] = 1
					}
				}
				return values
			},
		},
	)
}

// ctlRatePut handles writes to the Sample Rate control
func (dev *Device) ctlRatePut(values []int) (bool, error) {
	rate := uint(44100)
	if values[0] != 0 {
		rate = 48000
	}

	if rate == dev.currentRate() {
		return false, nil
	}

	err := dev.SetSampleRate(rate)
	if err != nil {
		return false, err
	}

	return true, nil
}

// ctlRoutePut handles writes to a Deck Output Source control
func (dev *Device) ctlRoutePut(pair int, values []int) (bool, error) {
	if values[0] < 0 || values[0] > 1 {
		return false, ErrInvalidRouting
	}

	return dev.SetRouting(pair, byte(values[0]))
}

// Controls returns the control elements of the device
func (dev *Device) Controls() []*Control {
	return dev.controls
}

// ControlByName finds a control element by name
func (dev *Device) ControlByName(name string) *Control {
	for _, ctl := range dev.controls {
		if ctl.Name == name {
			return ctl
		}
	}
	return nil
}

// notifyControl emits a control-change notification: to in-process
// watchers and, when enabled, to the D-Bus notification bus. Called
// from both user context and the HID IN completion context; it must
// not block
func (dev *Device) notifyControl(name string) {
	dev.statusLock.Lock()
	watchers := dev.ctlWatchers
	dev.statusLock.Unlock()

	for _, w := range watchers {
		select {
		case w <- name:
		default:
		}
	}

	if dev.notify != nil {
		dev.notify.ControlChanged(dev.info.Ident(), name)
	}
}

// WatchControls subscribes to control-change notifications. The
// returned channel receives element names; slow consumers lose
// events rather than blocking the completion path
func (dev *Device) WatchControls() <-chan string {
	w := make(chan string, 16)

	dev.statusLock.Lock()
	dev.ctlWatchers = append(dev.ctlWatchers, w)
	dev.statusLock.Unlock()

	return w
}
