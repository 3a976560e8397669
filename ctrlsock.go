/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * Control socket handler
 *
 * sl3-usb runs a HTTP server on a top of the unix domain control
 * socket. It only serves human-readable status pages, but HTTP
 * costs us virtually nothing and this mechanism is well-extendable
 */

package main

import (
	"io/ioutil"
	"log"
	"net"
	"net/http"
	"os"
	"syscall"
)

var (
	// CtrlsockAddr contains control socket address in
	// a form of the net.UnixAddr structure
	CtrlsockAddr = &net.UnixAddr{Name: PathControlSocket, Net: "unix"}

	// ctrlsockServer is a HTTP server that runs on a top of
	// the control socket
	ctrlsockServer = http.Server{
		Handler: http.HandlerFunc(ctrlsockHandler),
	}

	// ctrlsockPages maps request paths to status formatters
	ctrlsockPages = map[string]func() []byte{
		"/status":     StatusFormat,
		"/overload":   StatusFormatOverload,
		"/phono":      StatusFormatPhono,
		"/usb-port":   StatusFormatUsbPort,
		"/statistics": StatusFormatStatistics,
	}
)

// ctrlsockHandler handles HTTP requests that come over the
// control socket
func ctrlsockHandler(w http.ResponseWriter, r *http.Request) {
	Log.Debug(' ', "ctrlsock: %s %s", r.Method, r.URL)

	// Catch panics to log
	defer func() {
		v := recover()
		if v != nil {
			Log.Panic(v)
		}
	}()

	// Check request method
	if r.Method != "GET" {
		http.Error(w, r.Method+": method not supported",
			http.StatusMethodNotAllowed)
		return
	}

	// Check request path
	page := ctrlsockPages[r.URL.Path]
	if page == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// Handle the request
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(page())
}

// CtrlsockStart starts control socket server
func CtrlsockStart() error {
	Log.Debug(' ', "ctrlsock: listening at %q", PathControlSocket)

	ctrlsockServer.ErrorLog = log.New(
		Log.LineWriter(LogError, '!'), "", 0)

	// Listen the socket
	os.MkdirAll(PathProgState, 0755)
	os.Remove(PathControlSocket)

	listener, err := net.ListenUnix("unix", CtrlsockAddr)
	if err != nil {
		return err
	}

	// Make socket accessible to everybody. Error is ignored,
	// it's not a reason to abort sl3-usb
	os.Chmod(PathControlSocket, 0777)

	// Start HTTP server on a top of the listening socket
	go func() {
		ctrlsockServer.Serve(listener)
	}()

	return nil
}

// CtrlsockStop stops the control socket server
func CtrlsockStop() {
	Log.Debug(' ', "ctrlsock: shutdown")
	ctrlsockServer.Close()
}

// CtrlsockDial connects to the control socket of the running
// sl3-usb daemon
func CtrlsockDial() (net.Conn, error) {
	conn, err := net.DialUnix("unix", nil, CtrlsockAddr)

	if err == nil {
		return conn, err
	}

	if neterr, ok := err.(*net.OpError); ok {
		if syserr, ok := neterr.Err.(*os.SyscallError); ok {
			switch syserr.Err {
			case syscall.ECONNREFUSED, syscall.ENOENT:
				err = ErrNoSl3Usb

			case syscall.EACCES, syscall.EPERM:
				err = ErrAccess
			}
		}
	}

	return nil, err
}

// StatusRetrieve connects to the running sl3-usb daemon, retrieves
// a status page and returns it as a printable text
func StatusRetrieve(page string) ([]byte, error) {
	t := &http.Transport{
		Dial: func(network, addr string) (net.Conn, error) {
			return CtrlsockDial()
		},
	}

	c := &http.Client{
		Transport: t,
	}

	rsp, err := c.Get("http://localhost" + page)
	if err != nil {
		return nil, err
	}

	defer rsp.Body.Close()

	return ioutil.ReadAll(rsp.Body)
}
