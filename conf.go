/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Program configuration
 */

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Configuration represents a program configuration
type Configuration struct {
	DefaultSampleRate uint     // Sample rate configured at probe
	LogMain           LogLevel // Main log level
	LogDevice         LogLevel // Per-device log level
	LogConsole        LogLevel // Console log level
	LogMaxFileSize    int64    // Maximum log file size
	LogMaxBackupFiles uint     // Count of files preserved during rotation
	DBusEnable        bool     // Enable D-Bus notifications
}

// Conf contains a global instance of program configuration
var Conf = Configuration{
	DefaultSampleRate: 48000,
	LogMain:           LogDebug,
	LogDevice:         LogDebug,
	LogConsole:        LogInfo,
	LogMaxFileSize:    256 * 1024,
	LogMaxBackupFiles: 5,
	DBusEnable:        true,
}

// ConfLoad loads the program configuration. A missing configuration
// file is not an error: defaults are used
func ConfLoad() error {
	inifile, err := ini.Load(PathConfFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%s: %s", PathConfFile, err)
	}

	if section, _ := inifile.GetSection("device"); section != nil {
		err = confLoadRate(section, &Conf.DefaultSampleRate,
			"default-sample-rate")
		if err != nil {
			return err
		}
	}

	if section, _ := inifile.GetSection("logging"); section != nil {
		err = confLoadLogLevel(section, &Conf.LogMain, "main-log")
		if err == nil {
			err = confLoadLogLevel(section, &Conf.LogDevice,
				"device-log")
		}
		if err == nil {
			err = confLoadLogLevel(section, &Conf.LogConsole,
				"console-log")
		}
		if err == nil {
			err = confLoadSize(section, &Conf.LogMaxFileSize,
				"max-file-size")
		}
		if err == nil {
			err = confLoadUint(section, &Conf.LogMaxBackupFiles,
				"max-backup-files")
		}
		if err != nil {
			return err
		}
	}

	if section, _ := inifile.GetSection("notify"); section != nil {
		err = confLoadBool(section, &Conf.DBusEnable, "dbus")
		if err != nil {
			return err
		}
	}

	return nil
}

// confLoadRate loads a sample rate value, which must be 44100 or 48000
func confLoadRate(section *ini.Section, out *uint, name string) error {
	key, _ := section.GetKey(name)
	if key == nil {
		return nil
	}

	rate, err := key.Uint()
	if err != nil {
		return confError(section, key, "%s", err)
	}

	if rate != 44100 && rate != 48000 {
		return confError(section, key, "must be 44100 or 48000")
	}

	*out = rate
	return nil
}

// confLoadLogLevel loads a LogLevel value
func confLoadLogLevel(section *ini.Section, out *LogLevel, name string) error {
	key, _ := section.GetKey(name)
	if key == nil {
		return nil
	}

	level, err := ParseLogLevel(key.String())
	if err != nil {
		return confError(section, key, "%s", err)
	}

	*out = level
	return nil
}

// confLoadSize loads a size value with an optional K/M suffix
func confLoadSize(section *ini.Section, out *int64, name string) error {
	key, _ := section.GetKey(name)
	if key == nil {
		return nil
	}

	s := strings.TrimSpace(key.String())
	multiplier := int64(1)

	if l := len(s); l > 0 {
		switch s[l-1] {
		case 'k', 'K':
			multiplier = 1024
			s = s[:l-1]
		case 'm', 'M':
			multiplier = 1024 * 1024
			s = s[:l-1]
		}
	}

	size, err := strconv.ParseInt(s, 10, 64)
	if err != nil || size < 0 {
		return confError(section, key, "invalid size")
	}

	*out = size * multiplier
	return nil
}

// confLoadUint loads an unsigned integer value
func confLoadUint(section *ini.Section, out *uint, name string) error {
	key, _ := section.GetKey(name)
	if key == nil {
		return nil
	}

	v, err := key.Uint()
	if err != nil {
		return confError(section, key, "%s", err)
	}

	*out = v
	return nil
}

// confLoadBool loads a enable/disable value
func confLoadBool(section *ini.Section, out *bool, name string) error {
	key, _ := section.GetKey(name)
	if key == nil {
		return nil
	}

	switch strings.ToLower(key.String()) {
	case "enable", "true", "yes", "1":
		*out = true
	case "disable", "false", "no", "0":
		*out = false
	default:
		return confError(section, key, "must be enable or disable")
	}

	return nil
}

// confError makes a configuration error
func confError(section *ini.Section, key *ini.Key,
	format string, args ...interface{}) error {

	detail := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: [%s] %s: %s",
		PathConfFile, section.Name(), key.Name(), detail)
}
