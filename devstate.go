/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Per-device persistent state
 */

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// DevState manages the per-device persistent state: the last
// configured sample rate and output routing, restored at probe
type DevState struct {
	Ident      string  // Device identification
	SampleRate uint    // Last configured rate, 0 if never saved
	Routing    [3]byte // Last configured routing

	path string // Path to the disk file
}

// LoadDevState loads DevState from a disk file. A missing or
// damaged state file yields a zero state, not an error
func LoadDevState(ident string) *DevState {
	return loadDevStateFile(ident,
		filepath.Join(PathProgStateDev, ident+".state"))
}

// loadDevStateFile loads DevState from the given path
func loadDevStateFile(ident, path string) *DevState {
	state := &DevState{
		Ident: ident,
		Routing: [3]byte{
			SL3RouteUSB, SL3RouteUSB, SL3RouteUSB,
		},
	}
	state.path = path

	inifile, err := ini.Load(state.path)
	if err != nil {
		if !os.IsNotExist(err) {
			Log.Error('!', "STATE LOAD: %s", err)
		}
		return state
	}

	section, _ := inifile.GetSection("device")
	if section == nil {
		return state
	}

	if key, _ := section.GetKey("sample-rate"); key != nil {
		rate, err := key.Uint()
		if err == nil && (rate == 44100 || rate == 48000) {
			state.SampleRate = rate
		} else {
			Log.Error('!', "STATE LOAD: %s: bad sample-rate",
				state.path)
		}
	}

	names := []string{"routing-deck-a", "routing-deck-b", "routing-deck-c"}
	for i, name := range names {
		if key, _ := section.GetKey(name); key != nil {
			mode, err := key.Uint()
			if err == nil && mode <= 1 {
				state.Routing[i] = byte(mode)
			}
		}
	}

	return state
}

// SetRate updates the saved sample rate
func (state *DevState) SetRate(rate uint) {
	if state.SampleRate != rate {
		state.SampleRate = rate
		state.Save()
	}
}

// SetRouting updates the saved routing of one channel pair
func (state *DevState) SetRouting(pair int, mode byte) {
	if state.Routing[pair] != mode {
		state.Routing[pair] = mode
		state.Save()
	}
}

// Save writes the state to disk. Failures are logged but not
// propagated: persistent state is best-effort
func (state *DevState) Save() {
	if state.path == "" {
		return
	}

	os.MkdirAll(filepath.Dir(state.path), 0755)

	inifile := ini.Empty()
	section, err := inifile.NewSection("device")
	if err != nil {
		Log.Error('!', "STATE SAVE: %s", err)
		return
	}

	if state.SampleRate != 0 {
		section.NewKey("sample-rate",
			fmt.Sprintf("%d", state.SampleRate))
	}

	names := []string{"routing-deck-a", "routing-deck-b", "routing-deck-c"}
	for i, name := range names {
		section.NewKey(name, fmt.Sprintf("%d", state.Routing[i]))
	}

	err = inifile.SaveTo(state.path)
	if err != nil {
		Log.Error('!', "STATE SAVE: %s", err)
	}
}
