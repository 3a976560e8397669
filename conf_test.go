/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Tests for configuration loading
 */

package main

import (
	"testing"

	"gopkg.in/ini.v1"
)

// confSection builds an INI section for tests
func confSection(t *testing.T, key, value string) *ini.Section {
	inifile := ini.Empty()
	section, err := inifile.NewSection("test")
	if err != nil {
		t.Fatalf("NewSection: %s", err)
	}
	if _, err = section.NewKey(key, value); err != nil {
		t.Fatalf("NewKey: %s", err)
	}
	return section
}

// Test size values with K/M suffixes
func TestConfLoadSize(t *testing.T) {
	testData := []struct {
		value string
		out   int64
		ok    bool
	}{
		{"256", 256, true},
		{"256K", 256 * 1024, true},
		{"4k", 4 * 1024, true},
		{"1M", 1024 * 1024, true},
		{"2m", 2 * 1024 * 1024, true},
		{"-1", 0, false},
		{"64G", 0, false},
		{"bogus", 0, false},
	}

	for _, data := range testData {
		section := confSection(t, "max-file-size", data.value)

		var out int64
		err := confLoadSize(section, &out, "max-file-size")

		if data.ok {
			if err != nil {
				t.Errorf("%q: unexpected error %s",
					data.value, err)
			} else if out != data.out {
				t.Errorf("%q: got %d, expected %d",
					data.value, out, data.out)
			}
		} else if err == nil {
			t.Errorf("%q: error expected", data.value)
		}
	}
}

// Test sample rate validation
func TestConfLoadRate(t *testing.T) {
	testData := []struct {
		value string
		ok    bool
	}{
		{"44100", true},
		{"48000", true},
		{"96000", false},
		{"0", false},
		{"fast", false},
	}

	for _, data := range testData {
		section := confSection(t, "default-sample-rate", data.value)

		var out uint
		err := confLoadRate(section, &out, "default-sample-rate")

		if data.ok && err != nil {
			t.Errorf("%q: unexpected error %s", data.value, err)
		}
		if !data.ok && err == nil {
			t.Errorf("%q: error expected", data.value)
		}
	}
}

// Test log level names
func TestParseLogLevel(t *testing.T) {
	testData := []struct {
		value string
		level LogLevel
		ok    bool
	}{
		{"error", LogError, true},
		{"info", LogInfo, true},
		{"debug", LogDebug, true},
		{"trace", LogTrace, true},
		{"all", LogTrace, true},
		{"DEBUG", LogDebug, true},
		{"loud", 0, false},
	}

	for _, data := range testData {
		level, err := ParseLogLevel(data.value)

		if data.ok {
			if err != nil {
				t.Errorf("%q: unexpected error %s",
					data.value, err)
			} else if level != data.level {
				t.Errorf("%q: got %s, expected %s",
					data.value, level, data.level)
			}
		} else if err == nil {
			t.Errorf("%q: error expected", data.value)
		}
	}
}

// Test enable/disable values
func TestConfLoadBool(t *testing.T) {
	testData := []struct {
		value string
		out   bool
		ok    bool
	}{
		{"enable", true, true},
		{"disable", false, true},
		{"yes", true, true},
		{"no", false, true},
		{"maybe", false, false},
	}

	for _, data := range testData {
		section := confSection(t, "dbus", data.value)

		out := !data.out // Make sure the loader actually writes
		err := confLoadBool(section, &out, "dbus")

		if data.ok {
			if err != nil {
				t.Errorf("%q: unexpected error %s",
					data.value, err)
			} else if out != data.out {
				t.Errorf("%q: got %v, expected %v",
					data.value, out, data.out)
			}
		} else if err == nil {
			t.Errorf("%q: error expected", data.value)
		}
	}
}
