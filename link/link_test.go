/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Tests for Link
 */

package link

import (
	"context"
	"testing"
	"time"

	"github.com/mtpcore/mtptransport/policy"
	"github.com/mtpcore/mtptransport/ptpwire"
	"github.com/mtpcore/mtptransport/txn"
	"github.com/mtpcore/mtptransport/usbbackend"
)

const (
	testBulkIn  usbbackend.EndpointAddr = 0x81
	testBulkOut usbbackend.EndpointAddr = 0x02
)

func newTestLink(t *testing.T, peer usbbackend.PeerFunc) *Link {
	cfg := usbbackend.ConfigDesc{
		Interfaces: []usbbackend.InterfaceDesc{{
			Number: 0,
			Endpoints: []usbbackend.EndpointDesc{
				{Addr: testBulkIn, MaxPacketSize: 512},
				{Addr: testBulkOut, MaxPacketSize: 512},
			},
		}},
	}
	dev := usbbackend.NewFakeDevice(usbbackend.DeviceIdentity{}, cfg, peer)
	backend := usbbackend.NewFakeBackend(dev)
	handles, err := backend.ListDevices()
	if err != nil || len(handles) != 1 {
		t.Fatalf("ListDevices: %v", err)
	}
	h, err := backend.Open(handles[0])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	engine := txn.NewEngine(h, txn.Config{BulkIn: testBulkIn, BulkOut: testBulkOut, IoTimeout: time.Second}, nil)
	return New(h, 0, engine, policy.DevicePolicy{Tuning: policy.TuningProfile{IoTimeoutMs: 1000, HandshakeTimeoutMs: 1000}}, nil, nil)
}

func respondOK(params ...uint32) usbbackend.PeerFunc {
	var lastTxid uint32
	return func(ep usbbackend.EndpointAddr, buf []byte, isWrite bool) (int, error) {
		if isWrite {
			if hdr, ok := ptpwire.DecodeHeader(buf); ok && hdr.Kind == ptpwire.KindCommand {
				lastTxid = hdr.Txid
			}
			return len(buf), nil
		}
		resp := ptpwire.EncodeResponse(ptpwire.RespOK, lastTxid, params...)
		return copy(buf, resp), nil
	}
}

func TestOpenSessionTreatsSessionAlreadyOpenAsSuccess(t *testing.T) {
	var lastTxid uint32
	peer := func(ep usbbackend.EndpointAddr, buf []byte, isWrite bool) (int, error) {
		if isWrite {
			if hdr, ok := ptpwire.DecodeHeader(buf); ok {
				lastTxid = hdr.Txid
			}
			return len(buf), nil
		}
		resp := ptpwire.EncodeResponse(ptpwire.RespSessionAlreadyOpen, lastTxid)
		return copy(buf, resp), nil
	}

	l := newTestLink(t, peer)
	if err := l.OpenSession(context.Background(), 1); err != nil {
		t.Fatalf("expected SessionAlreadyOpen to be treated as success, got %v", err)
	}
}

func TestLinkRejectsOperationsAfterClose(t *testing.T) {
	l := newTestLink(t, respondOK())
	l.Close(context.Background())

	if err := l.OpenSession(context.Background(), 1); err == nil {
		t.Fatalf("expected an error after Close, got nil")
	}
}

func TestGetStorageIDsDecodesCountPrefixedArray(t *testing.T) {
	var lastTxid uint32
	ids := []uint32{0x00010001, 0x00010002}

	peer := func(ep usbbackend.EndpointAddr, buf []byte, isWrite bool) (int, error) {
		if isWrite {
			if hdr, ok := ptpwire.DecodeHeader(buf); ok && hdr.Kind == ptpwire.KindCommand {
				lastTxid = hdr.Txid
			}
			return len(buf), nil
		}

		payload := encodeU32Array(ids)
		dataHdr := ptpwire.EncodeDataHeader(uint32(12+len(payload)), ptpwire.OpGetStorageIDs, lastTxid)
		resp := ptpwire.EncodeResponse(ptpwire.RespOK, lastTxid)
		out := append(append(dataHdr[:], payload...), resp...)
		return copy(buf, out), nil
	}

	l := newTestLink(t, peer)
	got, err := l.GetStorageIDs(context.Background())
	if err != nil {
		t.Fatalf("GetStorageIDs: %v", err)
	}
	if len(got) != 2 || got[0] != ids[0] || got[1] != ids[1] {
		t.Errorf("expected %v, got %v", ids, got)
	}
}

func encodeU32Array(ids []uint32) []byte {
	out := make([]byte, 4+4*len(ids))
	putU32LE(out, uint32(len(ids)))
	for i, id := range ids {
		putU32LE(out[4+4*i:], id)
	}
	return out
}

func putU32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func TestEnumerateFallsBackToHandlesThenInfoWhenPropListUnsupported(t *testing.T) {
	var lastCmd ptpwire.Header
	handles := []uint32{1, 2}
	objectInfoCalls := 0

	peer := func(ep usbbackend.EndpointAddr, buf []byte, isWrite bool) (int, error) {
		if isWrite {
			if hdr, ok := ptpwire.DecodeHeader(buf); ok && hdr.Kind == ptpwire.KindCommand {
				lastCmd = hdr
			}
			return len(buf), nil
		}

		switch lastCmd.Code {
		case ptpwire.OpGetObjectPropList:
			resp := ptpwire.EncodeResponse(ptpwire.RespOperationNotSupported, lastCmd.Txid)
			return copy(buf, resp), nil
		case ptpwire.OpGetObjectHandles:
			payload := encodeU32Array(handles)
			dataHdr := ptpwire.EncodeDataHeader(uint32(12+len(payload)), ptpwire.OpGetObjectHandles, lastCmd.Txid)
			resp := ptpwire.EncodeResponse(ptpwire.RespOK, lastCmd.Txid)
			out := append(append(dataHdr[:], payload...), resp...)
			return copy(buf, out), nil
		case ptpwire.OpGetObjectInfo:
			objectInfoCalls++
			info := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32, 33, 34, 35, 36, 37, 38}
			dataHdr := ptpwire.EncodeDataHeader(uint32(12+len(info)), ptpwire.OpGetObjectInfo, lastCmd.Txid)
			resp := ptpwire.EncodeResponse(ptpwire.RespOK, lastCmd.Txid)
			out := append(append(dataHdr[:], info...), resp...)
			return copy(buf, out), nil
		}
		resp := ptpwire.EncodeResponse(ptpwire.RespOK, lastCmd.Txid)
		return copy(buf, resp), nil
	}

	l := newTestLink(t, peer)
	out, err := l.Enumerate(context.Background(), 1, nil, 0)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(out) != len(handles) {
		t.Fatalf("expected %d objects, got %d", len(handles), len(out))
	}
	if objectInfoCalls != len(handles) {
		t.Errorf("expected %d GetObjectInfo calls, got %d", len(handles), objectInfoCalls)
	}
	if !l.enumDisabledNow() {
		t.Errorf("expected PropList fast path to be disabled after OperationNotSupported")
	}
}
