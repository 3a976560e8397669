/* sl3-usb - userspace audio driver for the Rane SL3 USB interface
 *
 * Copyright (C) 2025 and up by Nils Van Geele
 * See LICENSE for license terms and conditions
 *
 * USB low-level I/O. Cgo implementation on a top of libusb
 */

package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// #cgo pkg-config: libusb-1.0
// #include <stdlib.h>
// #include <string.h>
// #include <libusb.h>
//
// void sl3HotplugCallback (libusb_context *ctx, libusb_device *device,
//     libusb_hotplug_event event, void *user_data);
//
// void sl3TransferCallback (struct libusb_transfer *xfer);
//
// typedef struct libusb_device_descriptor libusb_device_descriptor_struct;
// typedef struct libusb_iso_packet_descriptor libusb_iso_packet_descriptor_struct;
import "C"

// UsbError represents USB error
type UsbError struct {
	Func string
	Code UsbErrCode
}

// Error describes a libusb error. It implements error interface
func (err UsbError) Error() string {
	return err.Func + ": " + err.Code.String()
}

// UsbErrCode represents USB I/O error code
type UsbErrCode int

// USB I/O error codes, as defined by libusb
const (
	UsbEIO           UsbErrCode = C.LIBUSB_ERROR_IO
	UsbEInval                   = C.LIBUSB_ERROR_INVALID_PARAM
	UsbEAccess                  = C.LIBUSB_ERROR_ACCESS
	UsbENoDev                   = C.LIBUSB_ERROR_NO_DEVICE
	UsbENotFound                = C.LIBUSB_ERROR_NOT_FOUND
	UsbEBusy                    = C.LIBUSB_ERROR_BUSY
	UsbETimeout                 = C.LIBUSB_ERROR_TIMEOUT
	UsbEOverflow                = C.LIBUSB_ERROR_OVERFLOW
	UsbEPipe                    = C.LIBUSB_ERROR_PIPE
	UsbEIntr                    = C.LIBUSB_ERROR_INTERRUPTED
	UsbENomem                   = C.LIBUSB_ERROR_NO_MEM
	UsbENotSupported            = C.LIBUSB_ERROR_NOT_SUPPORTED
	UsbEOther                   = C.LIBUSB_ERROR_OTHER
)

// String returns string representation of error code
func (err UsbErrCode) String() string {
	return C.GoString(C.libusb_strerror(C.int(err)))
}

// UsbAddr represents an USB device address
type UsbAddr struct {
	Bus     int // The bus on which device was connected
	Address int // Device address on the bus
}

// String returns a human-readable representation of UsbAddr
func (addr UsbAddr) String() string {
	return fmt.Sprintf("Bus %3.3d Device %3.3d", addr.Bus, addr.Address)
}

// Less defines an ordering of UsbAddr, for sorting
func (addr UsbAddr) Less(addr2 UsbAddr) bool {
	return addr.Bus < addr2.Bus ||
		(addr.Bus == addr2.Bus && addr.Address < addr2.Address)
}

var (
	// libusbContextPtr keeps a pointer to libusb_context.
	// It is initialized on demand
	libusbContextPtr *C.libusb_context

	// libusbContextLock protects libusbContextPtr initialization
	// in multithreaded context
	libusbContextLock sync.Mutex

	// Nonzero, if libusbContextPtr initialized
	libusbContextOk int32

	// UsbHotPlugChan receives USB hotplug event notifications
	UsbHotPlugChan = make(chan struct{}, 1)
)

// UsbInit initializes low-level USB I/O
func UsbInit() error {
	_, err := libusbContext()
	return err
}

// libusbContext returns libusb_context. It initializes the context
// on demand and starts the event thread, which also serves as the
// URB completion context
func libusbContext() (*C.libusb_context, error) {
	if atomic.LoadInt32(&libusbContextOk) != 0 {
		return libusbContextPtr, nil
	}

	libusbContextLock.Lock()
	defer libusbContextLock.Unlock()

	if atomic.LoadInt32(&libusbContextOk) != 0 {
		return libusbContextPtr, nil
	}

	rc := C.libusb_init(&libusbContextPtr)
	if rc != 0 {
		return nil, UsbError{"libusb_init", UsbErrCode(rc)}
	}

	// Subscribe to hotplug events
	C.libusb_hotplug_register_callback(
		libusbContextPtr, // libusb_context
		C.LIBUSB_HOTPLUG_EVENT_DEVICE_ARRIVED| // events mask
			C.LIBUSB_HOTPLUG_EVENT_DEVICE_LEFT,
		C.LIBUSB_HOTPLUG_NO_FLAGS,
		SL3VendorID,  // vendor_id
		SL3ProductID, // product_id
		C.LIBUSB_HOTPLUG_MATCH_ANY, // dev_class
		C.libusb_hotplug_callback_fn(unsafe.Pointer(C.sl3HotplugCallback)),
		nil, // callback's data
		nil, // deregister handle
	)

	// Start libusb event thread. URB completion callbacks and
	// hotplug notifications are delivered here
	go func() {
		for {
			C.libusb_handle_events(libusbContextPtr)
		}
	}()

	atomic.StoreInt32(&libusbContextOk, 1)
	return libusbContextPtr, nil
}

// Called by libusb on hotplug event
//
//export sl3HotplugCallback
func sl3HotplugCallback(ctx *C.libusb_context, dev *C.libusb_device,
	event C.libusb_hotplug_event, p unsafe.Pointer) {

	addr := UsbAddr{
		Bus:     int(C.libusb_get_bus_number(dev)),
		Address: int(C.libusb_get_device_address(dev)),
	}

	switch event {
	case C.LIBUSB_HOTPLUG_EVENT_DEVICE_ARRIVED:
		Log.Debug('+', "HOTPLUG: added %s", addr)
	case C.LIBUSB_HOTPLUG_EVENT_DEVICE_LEFT:
		Log.Debug('-', "HOTPLUG: removed %s", addr)
	}

	select {
	case UsbHotPlugChan <- struct{}{}:
	default:
	}
}

// UsbGetSl3DeviceDescs returns the list of Rane SL3 devices
// currently on the bus
func UsbGetSl3DeviceDescs() ([]UsbAddr, error) {
	ctx, err := libusbContext()
	if err != nil {
		return nil, err
	}

	var devlist **C.libusb_device
	cnt := C.libusb_get_device_list(ctx, &devlist)
	if cnt < 0 {
		return nil, UsbError{"libusb_get_device_list", UsbErrCode(cnt)}
	}
	defer C.libusb_free_device_list(devlist, 1)

	// Convert devlist to slice.
	// See https://github.com/golang/go/wiki/cgo#turning-c-arrays-into-go-slices
	devs := (*[1 << 28]*C.libusb_device)(unsafe.Pointer(devlist))[:cnt:cnt]

	var addrs []UsbAddr
	for _, dev := range devs {
		var desc C.libusb_device_descriptor_struct

		rc := C.libusb_get_device_descriptor(dev, &desc)
		if rc < 0 {
			continue
		}

		if uint16(desc.idVendor) == SL3VendorID &&
			uint16(desc.idProduct) == SL3ProductID {
			addrs = append(addrs, UsbAddr{
				Bus:     int(C.libusb_get_bus_number(dev)),
				Address: int(C.libusb_get_device_address(dev)),
			})
		}
	}

	return addrs, nil
}

// UsbCheckSl3Devices returns true if at least one Rane SL3
// is connected
func UsbCheckSl3Devices() bool {
	addrs, _ := UsbGetSl3DeviceDescs()
	return len(addrs) != 0
}

// UsbDeviceInfo describes an opened USB device
type UsbDeviceInfo struct {
	Vendor       uint16
	Product      uint16
	Manufacturer string
	ProductName  string
	SerialNumber string
}

// Ident returns a device identification string, suitable as a
// log or state file name
func (info UsbDeviceInfo) Ident() string {
	ident := "RaneSL3"
	if info.SerialNumber != "" {
		ident += "-" + info.SerialNumber
	}

	buf := []byte(ident)
	for i, c := range buf {
		switch {
		case '0' <= c && c <= '9':
		case 'a' <= c && c <= 'z':
		case 'A' <= c && c <= 'Z':
		case c == '-' || c == '_':
		default:
			buf[i] = '-'
		}
	}

	return string(buf)
}

// libusbXfer is the backend-private per-URB state: the C transfer,
// the C-side buffer and the in-flight bookkeeping
type libusbXfer struct {
	x        *C.struct_libusb_transfer
	cbuf     *C.uchar      // C-allocated transfer buffer
	cbufSize int           // Size of the C buffer
	id       uintptr       // Key in the backend handle table
	inflight bool          // Submitted, completion not yet seen
	drained  chan struct{} // Signalled by the completion callback
}

// libusbIO implements the usbIO interface on a top of an opened
// libusb device handle
type libusbIO struct {
	devhandle *C.libusb_device_handle
	addr      UsbAddr

	// lock protects the handle table. The completion callback
	// resolves URBs through this table; Close empties it, after
	// which late completions are ignored
	lock   sync.Mutex
	urbs   map[uintptr]*urb
	nextID uintptr
}

// libusbIOTable maps handle-table IDs to their backend, so that
// the exported completion callback can find its way back
var (
	libusbIOLock  sync.Mutex
	libusbIOTable = make(map[uintptr]*libusbIO)
	libusbIONext  uintptr = 1
)

// UsbOpenSl3Device opens a Rane SL3 at the given address and
// returns the usbIO backend for it together with device info
func UsbOpenSl3Device(addr UsbAddr) (usbIO, UsbDeviceInfo, error) {
	var info UsbDeviceInfo

	ctx, err := libusbContext()
	if err != nil {
		return nil, info, err
	}

	var devlist **C.libusb_device
	cnt := C.libusb_get_device_list(ctx, &devlist)
	if cnt < 0 {
		return nil, info, UsbError{"libusb_get_device_list", UsbErrCode(cnt)}
	}
	defer C.libusb_free_device_list(devlist, 1)

	devs := (*[1 << 28]*C.libusb_device)(unsafe.Pointer(devlist))[:cnt:cnt]

	for _, dev := range devs {
		bus := int(C.libusb_get_bus_number(dev))
		address := int(C.libusb_get_device_address(dev))

		if addr.Bus != bus || addr.Address != address {
			continue
		}

		var devhandle *C.libusb_device_handle
		rc := C.libusb_open(dev, &devhandle)
		if rc < 0 {
			return nil, info, UsbError{"libusb_open", UsbErrCode(rc)}
		}

		// Let libusb move kernel drivers out of the way
		// when interfaces are claimed
		C.libusb_set_auto_detach_kernel_driver(devhandle, 1)

		io := &libusbIO{
			devhandle: devhandle,
			addr:      addr,
			urbs:      make(map[uintptr]*urb),
		}

		info = io.deviceInfo(dev)
		return io, info, nil
	}

	return nil, info, ErrNoDevice
}

// deviceInfo decodes UsbDeviceInfo from device descriptor
func (io *libusbIO) deviceInfo(dev *C.libusb_device) UsbDeviceInfo {
	var desc C.libusb_device_descriptor_struct
	var info UsbDeviceInfo

	rc := C.libusb_get_device_descriptor(dev, &desc)
	if rc < 0 {
		return info
	}

	info.Vendor = uint16(desc.idVendor)
	info.Product = uint16(desc.idProduct)

	buf := make([]byte, 256)

	strings := []struct {
		idx C.uint8_t
		str *string
	}{
		{desc.iManufacturer, &info.Manufacturer},
		{desc.iProduct, &info.ProductName},
		{desc.iSerialNumber, &info.SerialNumber},
	}

	for _, s := range strings {
		rc := C.libusb_get_string_descriptor_ascii(
			io.devhandle,
			s.idx,
			(*C.uchar)(unsafe.Pointer(&buf[0])),
			C.int(len(buf)),
		)

		if rc > 0 {
			*s.str = string(buf[:rc])
		}
	}

	return info
}

// ClaimInterface claims an interface
func (io *libusbIO) ClaimInterface(ifnum int) error {
	rc := C.libusb_claim_interface(io.devhandle, C.int(ifnum))
	if rc < 0 {
		return UsbError{"libusb_claim_interface", UsbErrCode(rc)}
	}
	return nil
}

// ReleaseInterface releases a previously claimed interface
func (io *libusbIO) ReleaseInterface(ifnum int) error {
	rc := C.libusb_release_interface(io.devhandle, C.int(ifnum))
	if rc < 0 {
		return UsbError{"libusb_release_interface", UsbErrCode(rc)}
	}
	return nil
}

// SetAltSetting activates an alternate setting on an interface
func (io *libusbIO) SetAltSetting(ifnum, alt int) error {
	rc := C.libusb_set_interface_alt_setting(io.devhandle,
		C.int(ifnum), C.int(alt))
	if rc < 0 {
		return UsbError{"libusb_set_interface_alt_setting", UsbErrCode(rc)}
	}
	return nil
}

// ClearHalt clears an endpoint halt (stall) condition
func (io *libusbIO) ClearHalt(ep uint8) error {
	rc := C.libusb_clear_halt(io.devhandle, C.uchar(ep))
	if rc < 0 {
		return UsbError{"libusb_clear_halt", UsbErrCode(rc)}
	}
	return nil
}

// InterruptOut performs a synchronous interrupt OUT transfer
func (io *libusbIO) InterruptOut(ep uint8, data []byte,
	timeout time.Duration) (int, error) {

	var transferred C.int

	rc := C.libusb_interrupt_transfer(
		io.devhandle,
		C.uchar(ep),
		(*C.uchar)(unsafe.Pointer(&data[0])),
		C.int(len(data)),
		&transferred,
		C.uint(timeout/time.Millisecond),
	)

	if rc < 0 {
		return int(transferred),
			UsbError{"libusb_interrupt_transfer", UsbErrCode(rc)}
	}

	return int(transferred), nil
}

// xferFor returns (allocating on demand) the backend-private
// state of an URB
func (io *libusbIO) xferFor(u *urb) (*libusbXfer, error) {
	if u.xfer != nil {
		return u.xfer.(*libusbXfer), nil
	}

	isoPackets := 0
	if u.typ == urbTypeIso {
		isoPackets = len(u.packets)
	}

	x := C.libusb_alloc_transfer(C.int(isoPackets))
	if x == nil {
		return nil, ErrNoMemory
	}

	cbuf := (*C.uchar)(C.malloc(C.size_t(len(u.buffer))))
	if cbuf == nil {
		C.libusb_free_transfer(x)
		return nil, ErrNoMemory
	}

	xfer := &libusbXfer{
		x:        x,
		cbuf:     cbuf,
		cbufSize: len(u.buffer),
		drained:  make(chan struct{}, 1),
	}

	// Register in the handle table
	libusbIOLock.Lock()
	xfer.id = libusbIONext
	libusbIONext++
	libusbIOTable[xfer.id] = io
	libusbIOLock.Unlock()

	io.lock.Lock()
	io.urbs[xfer.id] = u
	io.lock.Unlock()

	x.dev_handle = io.devhandle
	x.endpoint = C.uchar(u.endpoint)
	x.buffer = (*C.uchar)(unsafe.Pointer(xfer.cbuf))
	x.user_data = unsafe.Pointer(xfer.id)
	x.callback = C.libusb_transfer_cb_fn(unsafe.Pointer(C.sl3TransferCallback))
	x.timeout = 0

	switch u.typ {
	case urbTypeIso:
		x._type = C.LIBUSB_TRANSFER_TYPE_ISOCHRONOUS
		x.num_iso_packets = C.int(isoPackets)
	case urbTypeInterrupt:
		x._type = C.LIBUSB_TRANSFER_TYPE_INTERRUPT
	}

	u.xfer = xfer
	return xfer, nil
}

// isoDescs returns the C iso packet descriptor array of a transfer
func isoDescs(x *C.struct_libusb_transfer) []C.libusb_iso_packet_descriptor_struct {
	n := int(x.num_iso_packets)
	return (*[SL3IsoPackets]C.libusb_iso_packet_descriptor_struct)(
		unsafe.Pointer(&x.iso_packet_desc))[:n:n]
}

// Submit hands an URB to libusb. For OUT endpoints the transfer
// buffer content is copied to the C side first
func (io *libusbIO) Submit(u *urb) error {
	xfer, err := io.xferFor(u)
	if err != nil {
		return err
	}

	x := xfer.x
	x.length = C.int(u.transferLength)

	if u.typ == urbTypeIso {
		descs := isoDescs(x)
		for i := range u.packets {
			descs[i].length = C.uint(u.packets[i].length)
		}
	}

	// OUT data travels through the C buffer
	if u.endpoint&0x80 == 0 {
		C.memcpy(unsafe.Pointer(xfer.cbuf),
			unsafe.Pointer(&u.buffer[0]),
			C.size_t(u.transferLength))
	}

	// Drain a stale Kill token left from a previous completion
	select {
	case <-xfer.drained:
	default:
	}

	io.lock.Lock()
	xfer.inflight = true
	io.lock.Unlock()

	rc := C.libusb_submit_transfer(x)
	if rc < 0 {
		io.lock.Lock()
		xfer.inflight = false
		io.lock.Unlock()
		if rc == C.LIBUSB_ERROR_NO_DEVICE {
			return ErrDisconnected
		}
		return UsbError{"libusb_submit_transfer", UsbErrCode(rc)}
	}

	return nil
}

// Kill cancels an in-flight URB and waits until its completion
// callback has run. Idle URBs are ignored
func (io *libusbIO) Kill(u *urb) {
	if u.xfer == nil {
		return
	}

	xfer := u.xfer.(*libusbXfer)

	io.lock.Lock()
	inflight := xfer.inflight
	io.lock.Unlock()

	if !inflight {
		return
	}

	C.libusb_cancel_transfer(xfer.x)
	<-xfer.drained
}

// Called by libusb when a transfer completes
//
//export sl3TransferCallback
func sl3TransferCallback(x *C.struct_libusb_transfer) {
	id := uintptr(x.user_data)

	libusbIOLock.Lock()
	io := libusbIOTable[id]
	libusbIOLock.Unlock()

	if io == nil {
		return // Backend already closed
	}

	io.lock.Lock()
	u := io.urbs[id]
	io.lock.Unlock()

	if u == nil {
		return
	}

	xfer := u.xfer.(*libusbXfer)

	// Decode completion status
	switch x.status {
	case C.LIBUSB_TRANSFER_COMPLETED:
		u.status = urbStatusOK
	case C.LIBUSB_TRANSFER_CANCELLED:
		u.status = urbStatusCancelled
	case C.LIBUSB_TRANSFER_NO_DEVICE:
		u.status = urbStatusNoDevice
	case C.LIBUSB_TRANSFER_STALL:
		u.status = urbStatusStall
	case C.LIBUSB_TRANSFER_OVERFLOW:
		u.status = urbStatusOverflow
	default:
		u.status = urbStatusError
	}

	// Copy IN data and per-packet actual lengths back
	if u.endpoint&0x80 != 0 && u.status == urbStatusOK {
		C.memcpy(unsafe.Pointer(&u.buffer[0]),
			unsafe.Pointer(xfer.cbuf),
			C.size_t(xfer.cbufSize))
	}

	switch u.typ {
	case urbTypeIso:
		descs := isoDescs(x)
		for i := range u.packets {
			if descs[i].status == C.LIBUSB_TRANSFER_COMPLETED {
				u.packets[i].actual = int(descs[i].actual_length)
			} else {
				u.packets[i].actual = 0
			}
		}
	case urbTypeInterrupt:
		u.actualLength = int(x.actual_length)
	}

	io.lock.Lock()
	xfer.inflight = false
	io.lock.Unlock()

	u.complete(u)

	// Release a Kill waiter, if any
	select {
	case xfer.drained <- struct{}{}:
	default:
	}
}

// Close releases the backend: the handle table is invalidated
// first, so that late completions cannot reach freed URBs.
// Safe to call more than once
func (io *libusbIO) Close() {
	if io.devhandle == nil {
		return
	}

	io.lock.Lock()
	ids := make([]uintptr, 0, len(io.urbs))
	for id, u := range io.urbs {
		ids = append(ids, id)

		if xfer, ok := u.xfer.(*libusbXfer); ok {
			C.free(unsafe.Pointer(xfer.cbuf))
			C.libusb_free_transfer(xfer.x)
		}
		u.xfer = nil
	}
	io.urbs = make(map[uintptr]*urb)
	io.lock.Unlock()

	libusbIOLock.Lock()
	for _, id := range ids {
		delete(libusbIOTable, id)
	}
	libusbIOLock.Unlock()

	C.libusb_close(io.devhandle)
	io.devhandle = nil
}
