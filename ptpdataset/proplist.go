/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * PropList dataset decoder
 */

package ptpdataset

import "github.com/mtpcore/mtptransport/ptpwire"

// PropListEntry is one entry of a GetObjectPropList result.
type PropListEntry struct {
	ObjectHandle uint32
	PropertyCode uint16
	DataType     uint16
	Value        ptpwire.Value
}

// PropList is the parsed result of opcode 0x9805's Data phase: a u32 count
// followed by that many entries.
type PropList struct {
	Entries   []PropListEntry
	Truncated bool
}

// DecodePropList parses a PropList dataset. The declared count is treated
// as an upper bound only: decoding stops (with Truncated set) the moment
// input runs out, rather than allocating len(Entries) == count up front
// and risking an out-of-memory on a hostile/corrupt count field.
func DecodePropList(data []byte) PropList {
	r := &byteReader{data: data}

	count, ok := r.u32()
	if !ok {
		return PropList{Truncated: true}
	}

	var list PropList
	list.Entries = make([]PropListEntry, 0, clampCapacityHint(count))

	for i := uint32(0); i < count; i++ {
		handle, ok := r.u32()
		if !ok {
			list.Truncated = true
			return list
		}
		propCode, ok := r.u16()
		if !ok {
			list.Truncated = true
			return list
		}
		dataType, ok := r.u16()
		if !ok {
			list.Truncated = true
			return list
		}

		v, n, ok := ptpwire.DecodeValue(dataType, r.remaining())
		if !ok {
			list.Truncated = true
			return list
		}
		r.off += n

		list.Entries = append(list.Entries, PropListEntry{
			ObjectHandle: handle,
			PropertyCode: propCode,
			DataType:     dataType,
			Value:        v,
		})
	}

	return list
}

// clampCapacityHint bounds the initial slice capacity hint derived from an
// untrusted count field, so a declared count of e.g. 2^32-1 cannot be used
// to force a huge up-front allocation before any data backing it has been
// verified to exist.
func clampCapacityHint(count uint32) int {
	const maxHint = 4096
	if count > maxHint {
		return maxHint
	}
	return int(count)
}
