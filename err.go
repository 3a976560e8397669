/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Common errors
 */

package main

import (
	"errors"
)

// Error values for sl3-usb
var (
	ErrNoMemory       = errors.New("Not enough memory")
	ErrShutdown       = errors.New("Shutdown requested")
	ErrDisconnected   = errors.New("Device is not present")
	ErrBusy           = errors.New("Stream is running")
	ErrTimedOut       = errors.New("Device response timed out")
	ErrInvalidRate    = errors.New("Sample rate must be 44100 or 48000")
	ErrInvalidRouting = errors.New("Routing mode must be 0 (analog) or 1 (USB)")
	ErrNotRunning     = errors.New("Stream is not running")
	ErrNoDevice       = errors.New("Rane SL3 device not found")
	ErrNoSl3Usb       = errors.New("sl3-usb daemon not running")
	ErrAccess         = errors.New("Access denied")
)
