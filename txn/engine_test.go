/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Tests for the transaction engine
 */

package txn

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mtpcore/mtptransport/ptpwire"
	"github.com/mtpcore/mtptransport/usbbackend"
)

const (
	testBulkIn  usbbackend.EndpointAddr = 0x81
	testBulkOut usbbackend.EndpointAddr = 0x02
)

func testConfig() Config {
	return Config{
		BulkIn:    testBulkIn,
		BulkOut:   testBulkOut,
		IoTimeout: time.Second,
	}
}

// noDataPeer answers any command with an immediate Response(OK).
func noDataPeer(t *testing.T) usbbackend.PeerFunc {
	return func(ep usbbackend.EndpointAddr, buf []byte, isWrite bool) (int, error) {
		if isWrite {
			if ep != testBulkOut {
				t.Fatalf("unexpected write endpoint %v", ep)
			}
			return len(buf), nil
		}
		hdr, ok := ptpwire.DecodeHeader(lastCommand)
		if !ok {
			t.Fatalf("no command seen yet")
		}
		resp := ptpwire.EncodeResponse(ptpwire.RespOK, hdr.Txid)
		n := copy(buf, resp)
		return n, nil
	}
}

// lastCommand is set by a capturing peer wrapper; kept package-level for
// test simplicity since each test uses one Engine at a time.
var lastCommand []byte

func capturingPeer(inner usbbackend.PeerFunc) usbbackend.PeerFunc {
	return func(ep usbbackend.EndpointAddr, buf []byte, isWrite bool) (int, error) {
		if isWrite && ep == testBulkOut {
			if hdr, ok := ptpwire.DecodeHeader(buf); ok && hdr.Kind == ptpwire.KindCommand {
				lastCommand = append([]byte(nil), buf...)
			}
		}
		return inner(ep, buf, isWrite)
	}
}

func newTestEngine(t *testing.T, peer usbbackend.PeerFunc) (*Engine, *usbbackend.FakeDevice) {
	cfg := usbbackend.ConfigDesc{
		Interfaces: []usbbackend.InterfaceDesc{{
			Number: 0,
			Endpoints: []usbbackend.EndpointDesc{
				{Addr: testBulkIn, MaxPacketSize: 512},
				{Addr: testBulkOut, MaxPacketSize: 512},
			},
		}},
	}
	dev := usbbackend.NewFakeDevice(usbbackend.DeviceIdentity{}, cfg, capturingPeer(peer))
	backend := usbbackend.NewFakeBackend(dev)
	handles, err := backend.ListDevices()
	if err != nil || len(handles) != 1 {
		t.Fatalf("ListDevices: %v", err)
	}
	h, err := backend.Open(handles[0])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	return NewEngine(h, testConfig(), nil), dev
}

func TestExecuteNoDataTransaction(t *testing.T) {
	eng, _ := newTestEngine(t, noDataPeer(t))

	resp, err := eng.Execute(context.Background(), Request{Opcode: ptpwire.OpGetStorageIDs})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Code != ptpwire.RespOK {
		t.Errorf("expected RespOK, got 0x%04x", resp.Code)
	}
}

func TestExecuteOpenSessionAlwaysUsesTxidZero(t *testing.T) {
	eng, _ := newTestEngine(t, noDataPeer(t))

	if _, err := eng.Execute(context.Background(), Request{Opcode: ptpwire.OpOpenSession, Params: []uint32{7}}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	hdr, ok := ptpwire.DecodeHeader(lastCommand)
	if !ok {
		t.Fatalf("expected a decodable command header")
	}
	if hdr.Txid != 0 {
		t.Errorf("expected OpenSession to be sent with txid=0, got %d", hdr.Txid)
	}
}

func TestExecuteDataInPhase(t *testing.T) {
	payload := []byte("hello world")

	peer := func(ep usbbackend.EndpointAddr, buf []byte, isWrite bool) (int, error) {
		if isWrite {
			return len(buf), nil
		}
		hdr, ok := ptpwire.DecodeHeader(lastCommand)
		if !ok {
			t.Fatalf("no command seen yet")
		}
		dataHdr := ptpwire.EncodeDataHeader(uint32(12+len(payload)), hdr.Code, hdr.Txid)
		resp := ptpwire.EncodeResponse(ptpwire.RespOK, hdr.Txid)
		out := append(append(dataHdr[:], payload...), resp...)
		return copy(buf, out), nil
	}

	eng, _ := newTestEngine(t, peer)

	var got bytes.Buffer
	resp, err := eng.Execute(context.Background(), Request{
		Opcode: ptpwire.OpGetDeviceInfo,
		DataIn: func(chunk []byte) error { got.Write(chunk); return nil },
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Code != ptpwire.RespOK {
		t.Errorf("expected RespOK, got 0x%04x", resp.Code)
	}
	if got.String() != string(payload) {
		t.Errorf("expected payload %q, got %q", payload, got.String())
	}
}

func TestExecuteDataOutPhase(t *testing.T) {
	var written bytes.Buffer
	writeCount := 0

	peer := func(ep usbbackend.EndpointAddr, buf []byte, isWrite bool) (int, error) {
		if isWrite {
			writeCount++
			switch {
			case writeCount == 1:
				// the Command container itself
			case writeCount == 2:
				// the Data container header
			default:
				written.Write(buf)
			}
			return len(buf), nil
		}
		hdr, ok := ptpwire.DecodeHeader(lastCommand)
		if !ok {
			t.Fatalf("no command seen yet")
		}
		resp := ptpwire.EncodeResponse(ptpwire.RespOK, hdr.Txid)
		return copy(buf, resp), nil
	}

	eng, _ := newTestEngine(t, peer)

	payload := []byte("abcdef")
	offset := 0
	resp, err := eng.Execute(context.Background(), Request{
		Opcode:        ptpwire.OpSendObject,
		DataOutLength: uint32(len(payload)),
		DataOut: func(buf []byte) (int, error) {
			if offset >= len(payload) {
				return 0, nil
			}
			n := copy(buf, payload[offset:])
			offset += n
			return n, nil
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Code != ptpwire.RespOK {
		t.Errorf("expected RespOK, got 0x%04x", resp.Code)
	}
	if written.String() != string(payload) {
		t.Errorf("expected device to receive %q, got %q", payload, written.String())
	}
}

func TestExecuteCancellation(t *testing.T) {
	block := make(chan struct{})
	peer := func(ep usbbackend.EndpointAddr, buf []byte, isWrite bool) (int, error) {
		if isWrite {
			return len(buf), nil
		}
		// The device never answers, but reads must not block: the
		// cancellation drain reads bulk-in before Execute returns.
		select {
		case <-block:
		default:
		}
		return 0, nil
	}

	eng, _ := newTestEngine(t, peer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Execute(ctx, Request{Opcode: ptpwire.OpGetStorageIDs})
	close(block)

	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}
