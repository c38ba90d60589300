/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Deterministic in-memory Backend fake, for tests
 */

package usbbackend

import (
	"sync"
	"time"

	"github.com/mtpcore/mtptransport/mtperr"
)

// FakeDevice is a scripted device a test wires into a FakeBackend: its
// configuration descriptor, string table, and a PeerFunc that plays the
// role of the device's firmware for every bulk/control transfer.
type FakeDevice struct {
	Identity DeviceIdentity
	Config   ConfigDesc
	Strings  map[int]string

	mu      sync.Mutex
	halted  map[EndpointAddr]bool
	claimed int // currently claimed interface, -1 if none
	cfgSet  int
	peer    PeerFunc
}

// PeerFunc implements one endpoint's worth of scripted device behavior: it
// receives the bytes written to an OUT endpoint, or is asked to produce
// bytes for an IN endpoint read of up to len(buf) bytes. Tests supply one
// PeerFunc per FakeDevice and dispatch on ep themselves.
type PeerFunc func(ep EndpointAddr, buf []byte, isWrite bool) (n int, err error)

// NewFakeDevice creates a FakeDevice with no endpoints halted and no
// configuration/interface claimed.
func NewFakeDevice(id DeviceIdentity, cfg ConfigDesc, peer PeerFunc) *FakeDevice {
	return &FakeDevice{
		Identity: id,
		Config:   cfg,
		Strings:  make(map[int]string),
		halted:   make(map[EndpointAddr]bool),
		claimed:  -1,
		peer:     peer,
	}
}

// FakeBackend is a Backend implementation over a fixed set of FakeDevices,
// used by probe/policy/txn/link tests in place of real hardware.
type FakeBackend struct {
	mu      sync.Mutex
	devices []*FakeDevice
}

// NewFakeBackend creates a FakeBackend listing devices.
func NewFakeBackend(devices ...*FakeDevice) *FakeBackend {
	return &FakeBackend{devices: devices}
}

func (b *FakeBackend) ListDevices() ([]DeviceHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]DeviceHandle, len(b.devices))
	for i, d := range b.devices {
		out[i] = &fakeDeviceHandle{dev: d}
	}
	return out, nil
}

func (b *FakeBackend) Open(h DeviceHandle) (UsbHandle, error) {
	fh, ok := h.(*fakeDeviceHandle)
	if !ok {
		return nil, mtperr.ErrNoDevice
	}
	return &fakeHandle{dev: fh.dev}, nil
}

func (b *FakeBackend) RegisterHotplug(cb HotplugCallback) (func(), error) {
	return func() {}, nil
}

func (b *FakeBackend) Close() error { return nil }

type fakeDeviceHandle struct {
	dev *FakeDevice
}

func (h *fakeDeviceHandle) Identity() DeviceIdentity         { return h.dev.Identity }
func (h *fakeDeviceHandle) DeviceDescriptor() DeviceIdentity { return h.dev.Identity }
func (h *fakeDeviceHandle) ActiveConfigDescriptor() (ConfigDesc, error) {
	return h.dev.Config, nil
}
func (h *fakeDeviceHandle) BusNumber() uint8     { return h.dev.Identity.Bus }
func (h *fakeDeviceHandle) DeviceAddress() uint8 { return h.dev.Identity.Address }

// fakeHandle is an opened FakeDevice; it implements UsbHandle by
// delegating bulk/control transfers to the device's PeerFunc.
type fakeHandle struct {
	dev *FakeDevice
}

func (h *fakeHandle) Close() error { return nil }

func (h *fakeHandle) ClaimInterface(ifaceNum int) error {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	h.dev.claimed = ifaceNum
	return nil
}

func (h *fakeHandle) ReleaseInterface(ifaceNum int) error {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	h.dev.claimed = -1
	return nil
}

func (h *fakeHandle) SetInterfaceAltSetting(ifaceNum, alt int) error { return nil }

func (h *fakeHandle) SetConfiguration(cfg int) error {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	h.dev.cfgSet = cfg
	return nil
}

func (h *fakeHandle) GetConfiguration() (int, error) {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	return h.dev.cfgSet, nil
}

func (h *fakeHandle) DetachKernelDriver(ifaceNum int) error     { return nil }
func (h *fakeHandle) SetAutoDetachKernelDriver(enable bool) error { return nil }

func (h *fakeHandle) ClearHalt(ep EndpointAddr) error {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	h.dev.halted[ep] = false
	return nil
}

func (h *fakeHandle) ResetDevice() error { return nil }

func (h *fakeHandle) BulkTransfer(ep EndpointAddr, buf []byte, timeout time.Duration) (int, error) {
	h.dev.mu.Lock()
	halted := h.dev.halted[ep]
	h.dev.mu.Unlock()
	if halted {
		return 0, mtperr.ErrStall
	}
	return h.dev.peer(ep, buf, !ep.IsIn())
}

func (h *fakeHandle) ControlTransfer(ct ControlTransfer, timeout time.Duration) (int, error) {
	return h.dev.peer(EndpointAddr(ct.Request), ct.Data, ct.RequestType&0x80 == 0)
}

func (h *fakeHandle) GetStringDescriptorASCII(index int) (string, error) {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	if s, ok := h.dev.Strings[index]; ok {
		return s, nil
	}
	return "", mtperr.ErrNoDevice
}

func (h *fakeHandle) GetMaxPacketSize(ep EndpointAddr) (int, error) {
	for _, iface := range h.dev.Config.Interfaces {
		for _, e := range iface.Endpoints {
			if e.Addr == ep {
				return e.MaxPacketSize, nil
			}
		}
	}
	return 64, nil
}

// Halt marks ep halted, as if the device had stalled it: BulkTransfer on
// ep then fails with mtperr.ErrStall until ClearHalt is called.
func (d *FakeDevice) Halt(ep EndpointAddr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.halted[ep] = true
}
