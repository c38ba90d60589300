/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * DeviceInfo dataset decoder
 */

// Package ptpdataset implements the fuzz-safe dataset decoders that the
// transaction engine and Link use to turn raw Data-phase bytes from an
// untrusted device into structured records: DeviceInfo, StorageInfo,
// ObjectInfo and PropList. Every decoder here follows the same discipline
// as the host stack's IPP message decoder: check every read's error/bounds
// before trusting the next field, and never allocate proportional to an
// untrusted count before confirming enough bytes remain.
package ptpdataset

import (
	"encoding/binary"

	"github.com/mtpcore/mtptransport/ptpwire"
)

// DeviceInfo is the parsed result of opcode 0x1001's Data phase.
type DeviceInfo struct {
	StandardVersion    uint16
	VendorExtensionID  uint32
	VendorExtVersion   uint16
	FunctionalMode     uint16
	OperationsSupported []uint16
	EventsSupported      []uint16
	DevicePropsSupported []uint16
	CaptureFormats       []uint16
	PlaybackFormats      []uint16
	Manufacturer string
	Model        string
	DeviceVersion string
	SerialNumber string

	// Truncated is set when the input ran out before every declared
	// field could be decoded; Truncated never reflects partial/garbage
	// data, only that decoding stopped early and the prefix above is
	// everything that could be safely recovered.
	Truncated bool
}

type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) remaining() []byte {
	if r.off > len(r.data) {
		return nil
	}
	return r.data[r.off:]
}

func (r *byteReader) u16() (uint16, bool) {
	rem := r.remaining()
	if len(rem) < 2 {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(rem)
	r.off += 2
	return v, true
}

func (r *byteReader) u32() (uint32, bool) {
	rem := r.remaining()
	if len(rem) < 4 {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(rem)
	r.off += 4
	return v, true
}

// u16Array reads a PTP array of u16 (u32 count + count little-endian u16
// elements), never allocating more than the input can actually back.
func (r *byteReader) u16Array() ([]uint16, bool) {
	count, ok := r.u32()
	if !ok {
		return nil, false
	}

	rem := r.remaining()
	need := uint64(count) * 2
	if need > uint64(len(rem)) {
		return nil, false
	}

	out := make([]uint16, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(rem[2*i:])
	}
	r.off += int(need)

	return out, true
}

func (r *byteReader) str() (string, bool) {
	s, n, ok := ptpwire.DecodeString(r.remaining())
	if !ok {
		return "", false
	}
	r.off += n
	return s, true
}

// DecodeDeviceInfo parses a DeviceInfo dataset from data. On success,
// Truncated is false and every field was fully decoded. If the input runs
// out partway through, the fields decoded so far are returned with
// Truncated set to true rather than an error: the available prefix is
// decoded and reported as truncated instead of failing outright.
func DecodeDeviceInfo(data []byte) DeviceInfo {
	r := &byteReader{data: data}
	var info DeviceInfo

	fields := []func() bool{
		func() bool { v, ok := r.u16(); info.StandardVersion = v; return ok },
		func() bool { v, ok := r.u32(); info.VendorExtensionID = v; return ok },
		func() bool { v, ok := r.u16(); info.VendorExtVersion = v; return ok },
		func() bool { _, ok := r.str(); return ok }, // VendorExtensionDesc, not kept
		func() bool { v, ok := r.u16(); info.FunctionalMode = v; return ok },
		func() bool { v, ok := r.u16Array(); info.OperationsSupported = v; return ok },
		func() bool { v, ok := r.u16Array(); info.EventsSupported = v; return ok },
		func() bool { v, ok := r.u16Array(); info.DevicePropsSupported = v; return ok },
		func() bool { v, ok := r.u16Array(); info.CaptureFormats = v; return ok },
		func() bool { v, ok := r.u16Array(); info.PlaybackFormats = v; return ok },
		func() bool { v, ok := r.str(); info.Manufacturer = v; return ok },
		func() bool { v, ok := r.str(); info.Model = v; return ok },
		func() bool { v, ok := r.str(); info.DeviceVersion = v; return ok },
		func() bool { v, ok := r.str(); info.SerialNumber = v; return ok },
	}

	for _, f := range fields {
		if !f() {
			info.Truncated = true
			return info
		}
	}

	return info
}
