/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * PTP string encoding
 */

package ptpwire

import "unicode/utf16"

// MaxStringUnits is the largest number of UTF-16 code units (excluding the
// terminating NUL) a PTP string can carry, since the length prefix is a
// single byte and must also leave room for the NUL.
const MaxStringUnits = 254

// EncodeString encodes s as a PTP string: a u8 length (in UTF-16 code units
// including the terminating NUL) followed by that many little-endian u16
// code units. Strings longer than MaxStringUnits code units are truncated;
// the empty string encodes as a single zero length byte with no trailing
// units.
func EncodeString(s string) []byte {
	if s == "" {
		return []byte{0}
	}

	units := utf16.Encode([]rune(s))
	if len(units) > MaxStringUnits {
		units = units[:MaxStringUnits]
	}

	buf := make([]byte, 1+2*(len(units)+1))
	buf[0] = byte(len(units) + 1) // +1 for the terminating NUL

	off := 1
	for _, u := range units {
		buf[off] = byte(u)
		buf[off+1] = byte(u >> 8)
		off += 2
	}
	// Trailing NUL code unit; buf was zero-initialized so nothing to write.

	return buf
}

// DecodeString parses a PTP string from the front of data, returning the
// decoded string, the number of bytes consumed, and ok=false if data is
// shorter than the length byte declares.
func DecodeString(data []byte) (s string, consumed int, ok bool) {
	if len(data) < 1 {
		return "", 0, false
	}

	units := int(data[0])
	need := 1 + 2*units
	if len(data) < need {
		return "", 0, false
	}

	if units == 0 {
		return "", 1, true
	}

	u16 := make([]uint16, units)
	off := 1
	for i := 0; i < units; i++ {
		u16[i] = uint16(data[off]) | uint16(data[off+1])<<8
		off += 2
	}

	// Strip the trailing NUL code unit the wire format always includes.
	if u16[len(u16)-1] == 0 {
		u16 = u16[:len(u16)-1]
	}

	return string(utf16.Decode(u16)), need, true
}
