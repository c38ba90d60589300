/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Tests for the interface probe
 */

package probe

import (
	"testing"
	"time"

	"github.com/mtpcore/mtptransport/ptpwire"
	"github.com/mtpcore/mtptransport/usbbackend"
)

func ptpCameraConfig() usbbackend.ConfigDesc {
	return usbbackend.ConfigDesc{
		ConfigValue: 1,
		Interfaces: []usbbackend.InterfaceDesc{
			{
				Number:   0,
				Class:    0x06,
				SubClass: 0x01,
				Endpoints: []usbbackend.EndpointDesc{
					{Addr: 0x81, MaxPacketSize: 512},
					{Addr: 0x02, MaxPacketSize: 512},
					{Addr: 0x83, Interrupt: true, MaxPacketSize: 64},
				},
			},
		},
	}
}

func TestEnumerateCandidatesScoresPTPInterfaceHighest(t *testing.T) {
	cands := EnumerateCandidates(ptpCameraConfig())
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	if cands[0].Score != 105 {
		t.Errorf("expected score 100+5, got %d", cands[0].Score)
	}
	if !cands[0].HasInterrupt {
		t.Errorf("expected interrupt-in endpoint to be detected")
	}
}

func TestEnumerateCandidatesDropsLowScoringAndADB(t *testing.T) {
	cfg := usbbackend.ConfigDesc{
		ConfigValue: 1,
		Interfaces: []usbbackend.InterfaceDesc{
			{
				Number:        1,
				Class:         0xFF,
				SubClass:      0x42,
				InterfaceName: "adb",
				Endpoints: []usbbackend.EndpointDesc{
					{Addr: 0x82, MaxPacketSize: 512},
					{Addr: 0x01, MaxPacketSize: 512},
				},
			},
			{
				Number: 2,
				Class:  0xFF,
				Endpoints: []usbbackend.EndpointDesc{
					{Addr: 0x84, MaxPacketSize: 512},
					{Addr: 0x03, MaxPacketSize: 512},
				},
			},
		},
	}

	cands := EnumerateCandidates(cfg)
	if len(cands) != 0 {
		t.Fatalf("expected both candidates dropped (adb penalty / no class match), got %d", len(cands))
	}
}

func TestEnumerateCandidatesTieBreaksByIfaceThenAlt(t *testing.T) {
	cfg := usbbackend.ConfigDesc{
		Interfaces: []usbbackend.InterfaceDesc{
			{Number: 1, AltSetting: 0, Class: 0x06, SubClass: 0x01, Endpoints: []usbbackend.EndpointDesc{{Addr: 0x81}, {Addr: 0x01}}},
			{Number: 0, AltSetting: 1, Class: 0x06, SubClass: 0x01, Endpoints: []usbbackend.EndpointDesc{{Addr: 0x82}, {Addr: 0x02}}},
			{Number: 0, AltSetting: 0, Class: 0x06, SubClass: 0x01, Endpoints: []usbbackend.EndpointDesc{{Addr: 0x83}, {Addr: 0x03}}},
		},
	}

	cands := EnumerateCandidates(cfg)
	if len(cands) != 3 {
		t.Fatalf("expected 3 equally-scored candidates, got %d", len(cands))
	}
	if cands[0].IfaceNum != 0 || cands[0].AltSetting != 0 {
		t.Errorf("expected iface 0/alt 0 first, got iface %d/alt %d", cands[0].IfaceNum, cands[0].AltSetting)
	}
	if cands[1].IfaceNum != 0 || cands[1].AltSetting != 1 {
		t.Errorf("expected iface 0/alt 1 second, got iface %d/alt %d", cands[1].IfaceNum, cands[1].AltSetting)
	}
	if cands[2].IfaceNum != 1 {
		t.Errorf("expected iface 1 last, got iface %d", cands[2].IfaceNum)
	}
}

// deviceInfoPeer replies to a sessionless GetDeviceInfo with a Data
// container immediately followed by a Response(OK) container, concatenated
// into the single bulk-in read the probe performs.
func deviceInfoPeer(t *testing.T, bulkIn, bulkOut usbbackend.EndpointAddr) usbbackend.PeerFunc {
	return func(ep usbbackend.EndpointAddr, buf []byte, isWrite bool) (int, error) {
		if isWrite {
			if ep != bulkOut {
				t.Fatalf("unexpected write endpoint %v", ep)
			}
			hdr, ok := ptpwire.DecodeHeader(buf)
			if !ok || hdr.Code != ptpwire.OpGetDeviceInfo {
				t.Fatalf("expected GetDeviceInfo command, got %+v", hdr)
			}
			return len(buf), nil
		}

		if ep != bulkIn {
			t.Fatalf("unexpected read endpoint %v", ep)
		}

		dataset := []byte{0xAA, 0xBB, 0xCC, 0xDD}
		dataHdr := ptpwire.EncodeDataHeader(uint32(12+len(dataset)), ptpwire.OpGetDeviceInfo, 1)
		resp := ptpwire.EncodeResponse(ptpwire.RespOK, 1)

		out := append(append(dataHdr[:], dataset...), resp...)
		n := copy(buf, out)
		return n, nil
	}
}

func TestProbeSucceedsOnFirstCandidate(t *testing.T) {
	cfg := ptpCameraConfig()
	peer := deviceInfoPeer(t, 0x81, 0x02)
	dev := usbbackend.NewFakeDevice(usbbackend.DeviceIdentity{}, cfg, peer)

	backend := usbbackend.NewFakeBackend(dev)
	handles, err := backend.ListDevices()
	if err != nil || len(handles) != 1 {
		t.Fatalf("ListDevices: %v, %d handles", err, len(handles))
	}

	h, err := backend.Open(handles[0])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cands := EnumerateCandidates(cfg)
	result, err := Probe(h, cands, Options{PostClaimStabilize: time.Millisecond, IoTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if len(result.CachedDeviceInfo) != 4 {
		t.Errorf("expected 4-byte cached DeviceInfo payload, got %d bytes", len(result.CachedDeviceInfo))
	}
}
