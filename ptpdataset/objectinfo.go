/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * ObjectInfo dataset decoder
 */

package ptpdataset

import (
	"encoding/binary"

	"github.com/mtpcore/mtptransport/ptpwire"
)

// ObjectInfo is the parsed result of opcode 0x1008's Data phase.
type ObjectInfo struct {
	StorageID         uint32
	ObjectFormat      uint16
	ProtectionStatus  uint16
	ObjectCompressedSize uint32
	ThumbFormat       uint16
	ThumbCompressedSize uint32
	ThumbPixWidth     uint32
	ThumbPixHeight    uint32
	ImagePixWidth     uint32
	ImagePixHeight    uint32
	ImageBitDepth     uint32
	ParentObject      uint32
	AssociationType   uint16
	AssociationDesc   uint32
	SequenceNumber    uint32
	Filename          string
	CaptureDate       string
	ModificationDate  string
	Keywords          string

	Truncated bool
}

// DecodeObjectInfo parses an ObjectInfo dataset, per the same
// decode-what-you-can / report-truncated discipline as DecodeDeviceInfo.
func DecodeObjectInfo(data []byte) ObjectInfo {
	r := &byteReader{data: data}
	var info ObjectInfo

	fields := []func() bool{
		func() bool { v, ok := r.u32(); info.StorageID = v; return ok },
		func() bool { v, ok := r.u16(); info.ObjectFormat = v; return ok },
		func() bool { v, ok := r.u16(); info.ProtectionStatus = v; return ok },
		func() bool { v, ok := r.u32(); info.ObjectCompressedSize = v; return ok },
		func() bool { v, ok := r.u16(); info.ThumbFormat = v; return ok },
		func() bool { v, ok := r.u32(); info.ThumbCompressedSize = v; return ok },
		func() bool { v, ok := r.u32(); info.ThumbPixWidth = v; return ok },
		func() bool { v, ok := r.u32(); info.ThumbPixHeight = v; return ok },
		func() bool { v, ok := r.u32(); info.ImagePixWidth = v; return ok },
		func() bool { v, ok := r.u32(); info.ImagePixHeight = v; return ok },
		func() bool { v, ok := r.u32(); info.ImageBitDepth = v; return ok },
		func() bool { v, ok := r.u32(); info.ParentObject = v; return ok },
		func() bool { v, ok := r.u16(); info.AssociationType = v; return ok },
		func() bool { v, ok := r.u32(); info.AssociationDesc = v; return ok },
		func() bool { v, ok := r.u32(); info.SequenceNumber = v; return ok },
		func() bool { v, ok := r.str(); info.Filename = v; return ok },
		func() bool { v, ok := r.str(); info.CaptureDate = v; return ok },
		func() bool { v, ok := r.str(); info.ModificationDate = v; return ok },
		func() bool { v, ok := r.str(); info.Keywords = v; return ok },
	}

	for _, f := range fields {
		if !f() {
			info.Truncated = true
			return info
		}
	}

	return info
}

// EncodeObjectInfo serializes info into the dataset opcode 0x100C expects
// as its Data phase, mirroring the field order DecodeObjectInfo reads.
func EncodeObjectInfo(info ObjectInfo) []byte {
	buf := make([]byte, 0, 64)

	var u32buf [4]byte
	var u16buf [2]byte

	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32buf[:], v)
		buf = append(buf, u32buf[:]...)
	}
	putU16 := func(v uint16) {
		binary.LittleEndian.PutUint16(u16buf[:], v)
		buf = append(buf, u16buf[:]...)
	}

	putU32(info.StorageID)
	putU16(info.ObjectFormat)
	putU16(info.ProtectionStatus)
	putU32(info.ObjectCompressedSize)
	putU16(info.ThumbFormat)
	putU32(info.ThumbCompressedSize)
	putU32(info.ThumbPixWidth)
	putU32(info.ThumbPixHeight)
	putU32(info.ImagePixWidth)
	putU32(info.ImagePixHeight)
	putU32(info.ImageBitDepth)
	putU32(info.ParentObject)
	putU16(info.AssociationType)
	putU32(info.AssociationDesc)
	putU32(info.SequenceNumber)
	buf = append(buf, ptpwire.EncodeString(info.Filename)...)
	buf = append(buf, ptpwire.EncodeString(info.CaptureDate)...)
	buf = append(buf, ptpwire.EncodeString(info.ModificationDate)...)
	buf = append(buf, ptpwire.EncodeString(info.Keywords)...)

	return buf
}
