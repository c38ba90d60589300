/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * github.com/google/gousb-backed Backend implementation
 *
 * Grounded on the host stack's usbio_libusb.go claim/detach/configure sequence
 * and guiperry-HASHER's usb_device.go gousb.Context/Device/Config/Interface
 * open sequence, reworked against gousb's pure-Go API instead of cgo.
 */

package usbbackend

import (
	"context"
	"errors"
	"time"

	"github.com/google/gousb"
)


// GousbBackend is a Backend implementation over github.com/google/gousb.
// It owns the process-wide libusb context for its lifetime, modeled as a
// process-wide singleton with a background event-loop thread, which
// gousb.Context already provides internally.
type GousbBackend struct {
	ctx *gousb.Context
}

// NewGousbBackend creates a GousbBackend, initializing the underlying
// libusb context eagerly.
func NewGousbBackend() *GousbBackend {
	return &GousbBackend{ctx: gousb.NewContext()}
}

// Close releases the libusb context. Call only after every Link backed by
// this Backend has been closed.
func (b *GousbBackend) Close() error {
	return b.ctx.Close()
}

// ListDevices enumerates every USB device currently attached.
func (b *GousbBackend) ListDevices() ([]DeviceHandle, error) {
	var handles []DeviceHandle
	_, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		handles = append(handles, &gousbDeviceHandle{desc: desc})
		return false // never actually open here; caller opens explicitly
	})
	if err != nil {
		return nil, mapGousbErr(err)
	}
	return handles, nil
}

// Open claims a gousb.Device for h, matching it back up by bus/address
// since gousb only opens devices through its own enumeration callback.
func (b *GousbBackend) Open(h DeviceHandle) (UsbHandle, error) {
	want := h.Identity()

	var dev *gousb.Device
	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == int(want.Bus) && desc.Address == int(want.Address)
	})
	if err != nil {
		return nil, mapGousbErr(err)
	}
	if len(devs) == 0 {
		return nil, errors.New("usbbackend: device disappeared before open")
	}
	dev = devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}

	dev.SetAutoDetach(true)

	return &gousbHandle{dev: dev}, nil
}

// RegisterHotplug is not supported by gousb (it has no libusb hotplug
// binding without dropping to cgo, which this backend deliberately
// avoids); hotplug watching is an external collaborator's job.
func (b *GousbBackend) RegisterHotplug(cb HotplugCallback) (func(), error) {
	return nil, errors.New("usbbackend: hotplug not supported by the gousb backend")
}

type gousbDeviceHandle struct {
	desc *gousb.DeviceDesc
}

func (h *gousbDeviceHandle) Identity() DeviceIdentity {
	return DeviceIdentity{
		VID:       uint16(h.desc.Vendor),
		PID:       uint16(h.desc.Product),
		BcdDevice: uint16(h.desc.Device.Major())<<8 | uint16(h.desc.Device.Minor()),
		Bus:       uint8(h.desc.Bus),
		Address:   uint8(h.desc.Address),
	}
}

func (h *gousbDeviceHandle) DeviceDescriptor() DeviceIdentity { return h.Identity() }

func (h *gousbDeviceHandle) ActiveConfigDescriptor() (ConfigDesc, error) {
	var out ConfigDesc
	cfgNum := h.desc.Config
	cfg, ok := h.desc.Configs[cfgNum]
	if !ok {
		return out, errors.New("usbbackend: active configuration descriptor not found")
	}
	out.ConfigValue = cfgNum

	for _, iface := range cfg.Interfaces {
		for _, alt := range iface.AltSettings {
			ifd := InterfaceDesc{
				Number:     iface.Number,
				AltSetting: alt.Alternate,
				Class:      uint8(alt.Class),
				SubClass:   uint8(alt.SubClass),
				Protocol:   uint8(alt.Protocol),
			}
			for _, ep := range alt.Endpoints {
				ifd.Endpoints = append(ifd.Endpoints, EndpointDesc{
					Addr:          EndpointAddr(ep.Address),
					Interrupt:     ep.TransferType == gousb.TransferTypeInterrupt,
					MaxPacketSize: ep.MaxPacketSize,
				})
			}
			out.Interfaces = append(out.Interfaces, ifd)
		}
	}

	return out, nil
}

func (h *gousbDeviceHandle) BusNumber() uint8    { return uint8(h.desc.Bus) }
func (h *gousbDeviceHandle) DeviceAddress() uint8 { return uint8(h.desc.Address) }

// gousbHandle adapts an opened *gousb.Device to UsbHandle.
type gousbHandle struct {
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   map[EndpointAddr]*gousb.InEndpoint
	out  map[EndpointAddr]*gousb.OutEndpoint
}

func (h *gousbHandle) Close() error {
	if h.intf != nil {
		h.intf.Close()
	}
	if h.cfg != nil {
		h.cfg.Close()
	}
	return h.dev.Close()
}

func (h *gousbHandle) SetConfiguration(cfg int) error {
	if h.cfg != nil {
		h.cfg.Close()
		h.cfg = nil
	}
	c, err := h.dev.Config(cfg)
	if err != nil {
		return mapGousbErr(err)
	}
	h.cfg = c
	return nil
}

func (h *gousbHandle) GetConfiguration() (int, error) {
	cfg, err := h.dev.ActiveConfigNum()
	if err != nil {
		return 0, mapGousbErr(err)
	}
	return cfg, nil
}

func (h *gousbHandle) ClaimInterface(ifaceNum int) error {
	if h.cfg == nil {
		if err := h.SetConfiguration(h.dev.Desc.Config); err != nil {
			return err
		}
	}
	return nil // actual claim happens in SetInterfaceAltSetting, matching gousb's API shape
}

func (h *gousbHandle) ReleaseInterface(ifaceNum int) error {
	if h.intf != nil {
		h.intf.Close()
		h.intf = nil
		h.in = nil
		h.out = nil
	}
	return nil
}

func (h *gousbHandle) SetInterfaceAltSetting(ifaceNum, alt int) error {
	if h.cfg == nil {
		return errors.New("usbbackend: configuration not set")
	}
	if h.intf != nil {
		h.intf.Close()
	}

	intf, err := h.cfg.Interface(ifaceNum, alt)
	if err != nil {
		return mapGousbErr(err)
	}
	h.intf = intf
	h.in = make(map[EndpointAddr]*gousb.InEndpoint)
	h.out = make(map[EndpointAddr]*gousb.OutEndpoint)
	return nil
}

func (h *gousbHandle) DetachKernelDriver(ifaceNum int) error {
	// gousb's SetAutoDetach(true), set at Open time, handles this for
	// every claimed interface; nothing further to do here, but the
	// operation is kept as a no-op rather than removed so probe's claim
	// sequence doesn't need a backend-specific
	// branch.
	return nil
}

func (h *gousbHandle) SetAutoDetachKernelDriver(enable bool) error {
	return h.dev.SetAutoDetach(enable)
}

func (h *gousbHandle) ClearHalt(ep EndpointAddr) error {
	// gousb does not expose ClearHalt directly; reopening the endpoint
	// object is sufficient to clear a software-side halt flag, and a
	// genuine device-side STALL is cleared by the control transfer
	// gousb issues internally on the next transfer. We still offer a
	// best-effort explicit clear via a standard CLEAR_FEATURE request.
	const (
		reqTypeEndpointOut = 0x02
		reqClearFeature    = 0x01
		featureEndpointHalt = 0x00
	)
	_, err := h.dev.Control(reqTypeEndpointOut, reqClearFeature, featureEndpointHalt, uint16(ep), nil)
	if err != nil {
		return mapGousbErr(err)
	}
	return nil
}

func (h *gousbHandle) ResetDevice() error {
	return h.dev.Reset()
}

func (h *gousbHandle) BulkTransfer(ep EndpointAddr, buf []byte, timeout time.Duration) (int, error) {
	if h.intf == nil {
		return 0, errors.New("usbbackend: no interface claimed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if ep.IsIn() {
		in, err := h.inEndpoint(ep)
		if err != nil {
			return 0, err
		}
		n, err := in.ReadContext(ctx, buf)
		if err != nil {
			return n, mapGousbErr(err)
		}
		return n, nil
	}

	out, err := h.outEndpoint(ep)
	if err != nil {
		return 0, err
	}
	n, err := out.WriteContext(ctx, buf)
	if err != nil {
		return n, mapGousbErr(err)
	}
	return n, nil
}

func (h *gousbHandle) ControlTransfer(ct ControlTransfer, timeout time.Duration) (int, error) {
	n, err := h.dev.Control(ct.RequestType, ct.Request, ct.Value, ct.Index, ct.Data)
	if err != nil {
		return n, mapGousbErr(err)
	}
	return n, nil
}

func (h *gousbHandle) GetStringDescriptorASCII(index int) (string, error) {
	s, err := h.dev.GetStringDescriptor(index)
	if err != nil {
		return "", mapGousbErr(err)
	}
	return s, nil
}

func (h *gousbHandle) GetMaxPacketSize(ep EndpointAddr) (int, error) {
	if ep.IsIn() {
		in, err := h.inEndpoint(ep)
		if err != nil {
			return 0, err
		}
		return in.Desc.MaxPacketSize, nil
	}
	out, err := h.outEndpoint(ep)
	if err != nil {
		return 0, err
	}
	return out.Desc.MaxPacketSize, nil
}

func (h *gousbHandle) inEndpoint(ep EndpointAddr) (*gousb.InEndpoint, error) {
	if e, ok := h.in[ep]; ok {
		return e, nil
	}
	e, err := h.intf.InEndpoint(int(ep) &^ 0x80)
	if err != nil {
		return nil, mapGousbErr(err)
	}
	h.in[ep] = e
	return e, nil
}

func (h *gousbHandle) outEndpoint(ep EndpointAddr) (*gousb.OutEndpoint, error) {
	if e, ok := h.out[ep]; ok {
		return e, nil
	}
	e, err := h.intf.OutEndpoint(int(ep))
	if err != nil {
		return nil, mapGousbErr(err)
	}
	h.out[ep] = e
	return e, nil
}

// mapGousbErr maps a gousb error to the mtperr.TransportError taxonomy.
func mapGousbErr(err error) error {
	if err == nil {
		return nil
	}

	var usbErr *gousb.Error
	if errors.As(err, &usbErr) {
		switch *usbErr {
		case gousb.ErrorTimeout:
			return mapErr(true, false, false, false, false, "")
		case gousb.ErrorBusy:
			return mapErr(false, true, false, false, false, "")
		case gousb.ErrorAccess:
			return mapErr(false, false, true, false, false, "")
		case gousb.ErrorNoDevice, gousb.ErrorNotFound:
			return mapErr(false, false, false, true, false, "")
		case gousb.ErrorPipe:
			return mapErr(false, false, false, false, true, "")
		}
	}

	return mapErr(false, false, false, false, false, err.Error())
}
