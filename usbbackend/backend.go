/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * UsbBackend capability contract
 */

// Package usbbackend defines the minimal capability a host USB stack must
// satisfy for the transport core to run over it (UsbBackend), plus two
// implementations: a github.com/google/gousb-backed one for real hardware
// and a deterministic in-memory fake for tests. Following the "dynamic
// dispatch over transports" design note, every other package in this repo
// depends only on the Backend/Handle interfaces declared here, never on
// gousb or the fake directly.
package usbbackend

import (
	"time"

	"github.com/mtpcore/mtptransport/mtperr"
)

// DeviceIdentity is the immutable tuple identifying a physical USB
// attachment for the lifetime of that attachment.
type DeviceIdentity struct {
	VID          uint16
	PID          uint16
	BcdDevice    uint16
	Bus          uint8
	Address      uint8
	Manufacturer string
	Product      string
	Serial       string
}

// DeviceID returns the stable "{vid:04x}:{pid:04x}@{bus}:{addr}" string
// defines for logging and learned-profile lookup keys.
func (id DeviceIdentity) DeviceID() string {
	return hex4(id.VID) + ":" + hex4(id.PID) + "@" + itoa(int(id.Bus)) + ":" + itoa(int(id.Address))
}

func hex4(v uint16) string {
	const digits = "0123456789abcdef"
	b := [4]byte{
		digits[(v>>12)&0xF],
		digits[(v>>8)&0xF],
		digits[(v>>4)&0xF],
		digits[v&0xF],
	}
	return string(b[:])
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// EndpointAddr is a USB endpoint address; bit 0x80 marks an IN endpoint
// perInterfaceCandidate invariant.
type EndpointAddr uint8

// IsIn reports whether ep is an IN endpoint (bulk-in or interrupt-in).
func (ep EndpointAddr) IsIn() bool { return ep&0x80 != 0 }

// EndpointDesc describes one endpoint found on an interface/alt-setting.
type EndpointDesc struct {
	Addr           EndpointAddr
	Interrupt      bool // true for an interrupt endpoint rather than bulk
	MaxPacketSize  int
}

// InterfaceDesc describes one interface/alt-setting combination as
// reported by the device's configuration descriptor.
type InterfaceDesc struct {
	Number        int
	AltSetting    int
	Class         uint8
	SubClass      uint8
	Protocol      uint8
	InterfaceName string // from the iInterface string descriptor, if any
	Endpoints     []EndpointDesc
}

// ConfigDesc is the subset of a USB configuration descriptor the probe
// needs: every interface/alt-setting combination the device offers.
type ConfigDesc struct {
	ConfigValue int
	Interfaces  []InterfaceDesc
}

// DeviceHandle identifies one enumerated-but-not-yet-opened device.
type DeviceHandle interface {
	Identity() DeviceIdentity
	DeviceDescriptor() DeviceIdentity
	ActiveConfigDescriptor() (ConfigDesc, error)
	BusNumber() uint8
	DeviceAddress() uint8
}

// ControlTransfer carries the parameters of a USB control transfer.
type ControlTransfer struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Data        []byte // OUT payload, or the buffer to fill for an IN transfer
}

// UsbHandle is an opened USB device, claimed or unclaimed.
type UsbHandle interface {
	Close() error

	ClaimInterface(ifaceNum int) error
	ReleaseInterface(ifaceNum int) error
	SetInterfaceAltSetting(ifaceNum, alt int) error

	SetConfiguration(cfg int) error
	GetConfiguration() (int, error)
	DetachKernelDriver(ifaceNum int) error
	SetAutoDetachKernelDriver(enable bool) error

	ClearHalt(ep EndpointAddr) error
	ResetDevice() error

	// BulkTransfer moves at most len(buf) bytes across ep within
	// timeout. It may return (n, nil) with n < len(buf): the caller is
	// responsible for looping to complete the request. A zero-length buf
	// issues a ZLP.
	BulkTransfer(ep EndpointAddr, buf []byte, timeout time.Duration) (int, error)

	// ControlTransfer issues ct.Data as the OUT payload, or as the
	// destination buffer for an IN transfer (RequestType & 0x80 != 0),
	// and returns the number of bytes actually moved.
	ControlTransfer(ct ControlTransfer, timeout time.Duration) (int, error)

	GetStringDescriptorASCII(index int) (string, error)
	GetMaxPacketSize(ep EndpointAddr) (int, error)
}

// HotplugEvent distinguishes device arrival from departure.
type HotplugEvent int

// Hotplug event kinds.
const (
	HotplugArrived HotplugEvent = iota
	HotplugLeft
)

// HotplugCallback is invoked by the backend's external hotplug
// collaborator for every matching event; it must not block.
type HotplugCallback func(event HotplugEvent, summary DeviceIdentity)

// Backend is the capability contract the transport core needs from a host
// USB stack. Every component above the transport layer
// consumes a Backend, never a concrete library type.
type Backend interface {
	ListDevices() ([]DeviceHandle, error)
	Open(h DeviceHandle) (UsbHandle, error)

	// RegisterHotplug is supplied by the external collaborator that owns
	// device enumeration; the core only consumes the resulting events.
	// Implementations that don't support hotplug may return a
	// *mtperr.NotSupported error.
	RegisterHotplug(cb HotplugCallback) (unregister func(), err error)

	Close() error
}

// mapErr maps a gousb/backend-level error to the mtperr.TransportError
// taxonomy. Concrete backends call this at their own
// FFI boundary so every caller above sees one consistent taxonomy.
func mapErr(timeout, busy, access, noDevice, pipe bool, message string) error {
	switch {
	case timeout:
		return mtperr.ErrTimeout
	case busy:
		return mtperr.ErrBusy
	case access:
		return mtperr.ErrAccessDenied
	case noDevice:
		return mtperr.ErrNoDevice
	case pipe:
		return mtperr.ErrStall
	default:
		return &mtperr.Io{Message: message}
	}
}
