/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * The main function
 */

package main

import (
	"fmt"
	"os"
)

// Version is the program version
const Version = "0.1.0"

const usageText = `Usage:
    %s mode [options]

Modes are:
    standalone  - run forever, automatically discover Rane SL3
                  devices and serve them all
    udev        - like standalone, but exit when last Rane SL3
                  device is disconnected
    debug       - logs duplicated on console, -bg option is
                  ignored
    check       - check configuration and exit
    status      - print sl3-usb status and exit

Options are
    -bg         - run in background (ignored in debug mode)
`

// RunMode represents the program run mode
type RunMode int

// Run modes
const (
	RunDefault RunMode = iota
	RunStandalone
	RunUdev
	RunDebug
	RunCheck
	RunStatus
)

// String returns RunMode name
func (m RunMode) String() string {
	switch m {
	case RunDefault:
		return "default"
	case RunStandalone:
		return "standalone"
	case RunUdev:
		return "udev"
	case RunDebug:
		return "debug"
	case RunCheck:
		return "check"
	case RunStatus:
		return "status"
	}
	return fmt.Sprintf("RunMode(%d)", int(m))
}

// usage prints the usage text and exits
func usage() {
	fmt.Printf(usageText, os.Args[0])
	os.Exit(0)
}

// usageError prints an error message and the usage text, then exits
func usageError(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	usage()
}

// die prints an error message and exits
func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// statusPages are retrieved and printed by the status run mode,
// in this order
var statusPages = []string{
	"/status",
	"/overload",
	"/phono",
	"/usb-port",
	"/statistics",
}

func main() {
	// Parse arguments
	mode := RunDefault
	background := false

	for _, arg := range os.Args[1:] {
		switch arg {
		case "standalone":
			mode = RunStandalone
		case "udev":
			mode = RunUdev
		case "debug":
			mode = RunDebug
		case "check":
			mode = RunCheck
		case "status":
			mode = RunStatus
		case "-bg":
			background = true
		case "-h", "-help", "--help":
			usage()
		default:
			usageError("invalid argument %q", arg)
		}
	}

	if mode == RunDefault {
		usageError("run mode missed")
	}

	// Load configuration
	err := ConfLoad()
	if err != nil {
		die("%s", err)
	}

	Log.SetLevel(Conf.LogMain)
	Console.SetLevel(Conf.LogConsole)

	switch mode {
	case RunCheck:
		fmt.Printf("configuration OK\n")
		fmt.Printf("  default-sample-rate = %d\n", Conf.DefaultSampleRate)
		fmt.Printf("  main-log            = %s\n", Conf.LogMain)
		fmt.Printf("  device-log          = %s\n", Conf.LogDevice)
		fmt.Printf("  console-log         = %s\n", Conf.LogConsole)
		fmt.Printf("  max-file-size       = %d\n", Conf.LogMaxFileSize)
		fmt.Printf("  max-backup-files    = %d\n", Conf.LogMaxBackupFiles)
		fmt.Printf("  dbus                = %v\n", Conf.DBusEnable)
		return

	case RunStatus:
		for _, page := range statusPages {
			text, err := StatusRetrieve(page)
			if err != nil {
				die("%s", err)
			}
			os.Stdout.Write(text)
		}
		return

	case RunDebug:
		Log.Cc(Console)
		Console.SetLevel(LogTrace)
		background = false
	}

	// Go to background, if requested
	if background {
		err = Daemon()
		if err != nil {
			die("%s", err)
		}
		return
	}

	Log.Info(' ', "sl3-usb %s started in %s mode", Version, mode)

	// Initialize USB
	err = UsbInit()
	if err != nil {
		die("%s", err)
	}

	if mode == RunUdev && !UsbCheckSl3Devices() {
		Log.Info(' ', "no Rane SL3 devices present, exiting")
		return
	}

	// Start the control socket server
	err = CtrlsockStart()
	if err != nil {
		die("%s", err)
	}
	defer CtrlsockStop()

	// Connect to D-Bus
	var notify *NotifyBus
	if Conf.DBusEnable {
		notify, err = NewNotifyBus()
		if err != nil {
			Log.Info('?', "dbus: %s (notifications disabled)", err)
		} else {
			defer notify.Close()
		}
	}

	// Serve devices until shutdown
	PnPLoop(notify, mode == RunUdev)

	Log.Info(' ', "sl3-usb exiting")
}
