/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Common paths
 */

package main

const (
	// PathConfDir defines path to configuration directory
	PathConfDir = "/etc/sl3-usb"

	// PathConfFile defines path to the configuration file
	PathConfFile = PathConfDir + "/sl3-usb.conf"

	// PathProgState defines path to program state directory
	PathProgState = "/var/sl3-usb"

	// PathProgStateDev defines path to directory where per-device state
	// files are saved to
	PathProgStateDev = PathProgState + "/dev"

	// PathControlSocket defines path to the control socket
	PathControlSocket = PathProgState + "/sl3-usb.sock"

	// PathLogDir defines path to log directory
	PathLogDir = "/var/log/sl3-usb"

	// PathLogFile defines path to the main log file
	PathLogFile = PathLogDir + "/main.log"
)
