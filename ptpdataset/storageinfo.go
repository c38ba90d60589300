/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * StorageInfo dataset decoder
 */

package ptpdataset

// StorageInfo is the parsed result of opcode 0x1005's Data phase.
type StorageInfo struct {
	StorageType       uint16
	FilesystemType    uint16
	AccessCapability  uint16
	MaxCapacity       uint64
	FreeSpaceInBytes  uint64
	FreeSpaceInObjects uint32
	StorageDescription string
	VolumeLabel        string

	Truncated bool
}

// DecodeStorageInfo parses a StorageInfo dataset, per the same
// decode-what-you-can / report-truncated discipline as DecodeDeviceInfo.
func DecodeStorageInfo(data []byte) StorageInfo {
	r := &byteReader{data: data}
	var info StorageInfo

	fields := []func() bool{
		func() bool { v, ok := r.u16(); info.StorageType = v; return ok },
		func() bool { v, ok := r.u16(); info.FilesystemType = v; return ok },
		func() bool { v, ok := r.u16(); info.AccessCapability = v; return ok },
		func() bool {
			lo, ok := r.u32()
			if !ok {
				return false
			}
			hi, ok := r.u32()
			if !ok {
				return false
			}
			info.MaxCapacity = uint64(hi)<<32 | uint64(lo)
			return true
		},
		func() bool {
			lo, ok := r.u32()
			if !ok {
				return false
			}
			hi, ok := r.u32()
			if !ok {
				return false
			}
			info.FreeSpaceInBytes = uint64(hi)<<32 | uint64(lo)
			return true
		},
		func() bool { v, ok := r.u32(); info.FreeSpaceInObjects = v; return ok },
		func() bool { v, ok := r.str(); info.StorageDescription = v; return ok },
		func() bool { v, ok := r.str(); info.VolumeLabel = v; return ok },
	}

	for _, f := range fields {
		if !f() {
			info.Truncated = true
			return info
		}
	}

	return info
}
