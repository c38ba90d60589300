/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Link lifecycle and high-level operations
 *
 * Grounded on the host stack's device.go lifecycle (a handle owned by one
 * object, closed exactly once, every public operation checked against a
 * small state machine before it touches the wire).
 */

// Package link exposes the high-level, session-oriented PTP operations a
// caller actually wants (open a session, list storages, read/write
// objects) on top of the txn package's raw transaction engine.
package link

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/mtpcore/mtptransport/events"
	"github.com/mtpcore/mtptransport/mtperr"
	"github.com/mtpcore/mtptransport/policy"
	"github.com/mtpcore/mtptransport/probe"
	"github.com/mtpcore/mtptransport/ptpdataset"
	"github.com/mtpcore/mtptransport/ptpwire"
	"github.com/mtpcore/mtptransport/txn"
	"github.com/mtpcore/mtptransport/usbbackend"
)

// State is one of a Link's lifecycle states.
type State int

// Link lifecycle states.
const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Link owns an opened, claimed USB interface and the transaction engine
// running over it, together with the DevicePolicy that resolved its
// tuning and quirk flags.
type Link struct {
	h        usbbackend.UsbHandle
	engine   *txn.Engine
	ifaceNum int
	policy   policy.DevicePolicy
	sink     events.Sink

	mu    sync.Mutex
	state State

	sessionID uint32

	// enumDisabled records, that GetObjectPropList failed
	// with OperationNotSupported once already this session; further
	// enumerate calls skip straight to the handles_then_info rung.
	enumDisabled bool

	cachedDeviceInfo []byte
}

// New wires a claimed handle, engine and resolved policy into a Link in
// the Open state. sink may be nil, in which case Link events are
// discarded.
func New(h usbbackend.UsbHandle, ifaceNum int, engine *txn.Engine, pol policy.DevicePolicy, cachedDeviceInfo []byte, sink events.Sink) *Link {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Link{
		h:                h,
		engine:           engine,
		ifaceNum:         ifaceNum,
		policy:           pol,
		sink:             sink,
		state:            StateOpen,
		cachedDeviceInfo: cachedDeviceInfo,
	}
}

func (l *Link) checkOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		return nil
	case StateClosing:
		return mtperr.ErrLinkClosing
	default:
		return mtperr.ErrLinkClosed
	}
}

// OpenSession opens a PTP session. A device responding
// SessionAlreadyOpen is treated as success.
func (l *Link) OpenSession(ctx context.Context, id uint32) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	resp, err := l.engine.Execute(ctx, txn.Request{
		Opcode: ptpwire.OpOpenSession,
		Params: []uint32{id},
	})
	if err != nil {
		return err
	}

	if resp.Code == ptpwire.RespOK || resp.Code == ptpwire.RespSessionAlreadyOpen {
		l.sessionID = id
		return nil
	}

	return mtperr.FromResponseCode(resp.Code)
}

// CloseSession closes the current session. Errors are swallowed, since
// this is also called from Close, where the session may already be gone.
func (l *Link) CloseSession(ctx context.Context) {
	l.engine.Execute(ctx, txn.Request{Opcode: ptpwire.OpCloseSession})
}

// GetDeviceInfo returns the device's DeviceInfo dataset. If the live
// transaction fails, it falls back to the DeviceInfo bytes captured
// during probing.
func (l *Link) GetDeviceInfo(ctx context.Context) (ptpdataset.DeviceInfo, error) {
	if err := l.checkOpen(); err != nil {
		return ptpdataset.DeviceInfo{}, err
	}

	var buf bytes.Buffer
	resp, err := l.engine.Execute(ctx, txn.Request{
		Opcode: ptpwire.OpGetDeviceInfo,
		DataIn: func(chunk []byte) error { buf.Write(chunk); return nil },
	})

	if err == nil && resp.Code == ptpwire.RespOK {
		return ptpdataset.DecodeDeviceInfo(buf.Bytes()), nil
	}

	if l.cachedDeviceInfo != nil {
		return ptpdataset.DecodeDeviceInfo(l.cachedDeviceInfo), nil
	}

	if err != nil {
		return ptpdataset.DeviceInfo{}, err
	}
	return ptpdataset.DeviceInfo{}, mtperr.FromResponseCode(resp.Code)
}

// GetStorageIDs returns every storage ID the device reports.
func (l *Link) GetStorageIDs(ctx context.Context) ([]uint32, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	resp, err := l.execDataIn(ctx, ptpwire.OpGetStorageIDs, nil, &buf)
	if err != nil {
		return nil, err
	}
	if resp.Code != ptpwire.RespOK {
		return nil, mtperr.FromResponseCode(resp.Code)
	}

	ids, _ := decodeU32Array(buf.Bytes())
	return ids, nil
}

// GetStorageInfo returns the StorageInfo dataset for one storage ID.
func (l *Link) GetStorageInfo(ctx context.Context, storageID uint32) (ptpdataset.StorageInfo, error) {
	if err := l.checkOpen(); err != nil {
		return ptpdataset.StorageInfo{}, err
	}

	var buf bytes.Buffer
	resp, err := l.execDataIn(ctx, ptpwire.OpGetStorageInfo, []uint32{storageID}, &buf)
	if err != nil {
		return ptpdataset.StorageInfo{}, err
	}
	if resp.Code != ptpwire.RespOK {
		return ptpdataset.StorageInfo{}, mtperr.FromResponseCode(resp.Code)
	}

	return ptpdataset.DecodeStorageInfo(buf.Bytes()), nil
}

// GetObjectHandles lists the object handles directly under parent (or
// every object on storage, if parent is nil) - opcode 0x1007.
func (l *Link) GetObjectHandles(ctx context.Context, storage uint32, parent *uint32) ([]uint32, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	parentParam := uint32(0x00000000)
	if parent != nil {
		parentParam = *parent
	}

	var buf bytes.Buffer
	resp, err := l.execDataIn(ctx, ptpwire.OpGetObjectHandles, []uint32{storage, 0, parentParam}, &buf)
	if err != nil {
		return nil, err
	}
	if resp.Code != ptpwire.RespOK {
		return nil, mtperr.FromResponseCode(resp.Code)
	}

	handles, _ := decodeU32Array(buf.Bytes())
	return handles, nil
}

// GetObjectInfo returns the ObjectInfo dataset for one object handle.
func (l *Link) GetObjectInfo(ctx context.Context, handle uint32) (ptpdataset.ObjectInfo, error) {
	if err := l.checkOpen(); err != nil {
		return ptpdataset.ObjectInfo{}, err
	}

	var buf bytes.Buffer
	resp, err := l.execDataIn(ctx, ptpwire.OpGetObjectInfo, []uint32{handle}, &buf)
	if err != nil {
		return ptpdataset.ObjectInfo{}, err
	}
	if resp.Code != ptpwire.RespOK {
		return ptpdataset.ObjectInfo{}, mtperr.FromResponseCode(resp.Code)
	}

	return ptpdataset.DecodeObjectInfo(buf.Bytes()), nil
}

// GetObject streams an object's full data into consumer - opcode 0x1009.
func (l *Link) GetObject(ctx context.Context, handle uint32, consumer txn.DataInConsumer) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	resp, err := l.engine.Execute(ctx, txn.Request{
		Opcode: ptpwire.OpGetObject,
		Params: []uint32{handle},
		DataIn: consumer,
	})
	if err != nil {
		return err
	}
	if resp.Code != ptpwire.RespOK {
		return mtperr.FromResponseCode(resp.Code)
	}
	return nil
}

// GetPartialObject64 streams length bytes of an object starting at offset
// into consumer, using the vendor-extension 64-bit partial-read opcode
// Android devices accept.
func (l *Link) GetPartialObject64(ctx context.Context, handle uint32, offset uint64, length uint32, consumer txn.DataInConsumer) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	resp, err := l.engine.Execute(ctx, txn.Request{
		Opcode: ptpwire.OpGetPartialObject64,
		Params: []uint32{handle, uint32(offset), uint32(offset >> 32), length},
		DataIn: consumer,
	})
	if err != nil {
		return err
	}
	if resp.Code != ptpwire.RespOK {
		return mtperr.FromResponseCode(resp.Code)
	}
	return nil
}

// SendObjectInfo announces the object about to be written - opcode 0x100C.
func (l *Link) SendObjectInfo(ctx context.Context, storage uint32, parent uint32, info ptpdataset.ObjectInfo) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	payload := ptpdataset.EncodeObjectInfo(info)
	sent := false

	resp, err := l.engine.Execute(ctx, txn.Request{
		Opcode:        ptpwire.OpSendObjectInfo,
		Params:        []uint32{storage, parent},
		DataOutLength: uint32(len(payload)),
		DataOut: func(buf []byte) (int, error) {
			if sent {
				return 0, nil
			}
			n := copy(buf, payload)
			sent = true
			return n, nil
		},
	})
	if err != nil {
		return err
	}
	if resp.Code != ptpwire.RespOK {
		return mtperr.FromResponseCode(resp.Code)
	}
	return nil
}

// SendObject writes an object's data, previously announced via
// SendObjectInfo - opcode 0x100D.
func (l *Link) SendObject(ctx context.Context, dataLength uint32, producer txn.DataOutProducer) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	resp, err := l.engine.Execute(ctx, txn.Request{
		Opcode:        ptpwire.OpSendObject,
		DataOutLength: dataLength,
		DataOut:       producer,
	})
	if err != nil {
		return err
	}
	if resp.Code != ptpwire.RespOK {
		return mtperr.FromResponseCode(resp.Code)
	}
	return nil
}

// DeleteObject deletes one object handle - opcode 0x100B.
func (l *Link) DeleteObject(ctx context.Context, handle uint32) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	resp, err := l.engine.Execute(ctx, txn.Request{
		Opcode: ptpwire.OpDeleteObject,
		Params: []uint32{handle},
	})
	if err != nil {
		return err
	}
	if resp.Code != ptpwire.RespOK {
		return mtperr.FromResponseCode(resp.Code)
	}
	return nil
}

// ResetDevice issues the class-specific device reset control transfer and
// waits for the device to become ready again.
func (l *Link) ResetDevice(ctx context.Context) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	_, err := l.h.ControlTransfer(usbbackend.ControlTransfer{
		RequestType: ptpwire.ReqTypeResetDevice,
		Request:     ptpwire.ReqResetDevice,
	}, time.Duration(l.policy.Tuning.IoTimeoutMs)*time.Millisecond)
	if err != nil {
		return err
	}

	budget := time.Duration(l.policy.Tuning.HandshakeTimeoutMs) * time.Millisecond
	return probe.WaitForReady(l.h, budget)
}

// Close transitions the Link Open->Closing->Closed, releasing every
// resource it owns. It never fails and is safe to call more than once.
func (l *Link) Close(ctx context.Context) {
	l.mu.Lock()
	if l.state != StateOpen {
		l.mu.Unlock()
		return
	}
	l.state = StateClosing
	l.mu.Unlock()

	l.engine.StopPump()
	l.CloseSession(ctx)
	l.h.ReleaseInterface(l.ifaceNum)
	l.h.Close()

	l.mu.Lock()
	l.state = StateClosed
	l.mu.Unlock()
}

// execDataIn is the common shape behind the simple "one opcode, collect
// the whole Data phase into a buffer" operations above.
func (l *Link) execDataIn(ctx context.Context, opcode uint16, params []uint32, into *bytes.Buffer) (txn.Response, error) {
	return l.engine.Execute(ctx, txn.Request{
		Opcode: opcode,
		Params: params,
		DataIn: func(chunk []byte) error { into.Write(chunk); return nil },
	})
}

// decodeU32Array decodes a u32 count followed by that many little-endian
// u32 values, the shape GetStorageIDs and GetObjectHandles both return
//. It never reads past len(data).
func decodeU32Array(data []byte) ([]uint32, bool) {
	if len(data) < 4 {
		return nil, false
	}
	count := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]

	avail := uint32(len(data) / 4)
	n := count
	if n > avail {
		n = avail
	}

	out := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, binary.LittleEndian.Uint32(data[4*i:]))
	}

	return out, count <= avail
}
