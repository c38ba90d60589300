/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * PtpValue tagged union over PTP data-type codes
 */

package ptpwire

import "encoding/binary"

// PTP data-type codes (a subset; the ones the transport core's dataset
// parsers actually decode).
const (
	TypeInt8    uint16 = 0x0001
	TypeUInt8   uint16 = 0x0002
	TypeInt16   uint16 = 0x0003
	TypeUInt16  uint16 = 0x0004
	TypeInt32   uint16 = 0x0005
	TypeUInt32  uint16 = 0x0006
	TypeInt64   uint16 = 0x0007
	TypeUInt64  uint16 = 0x0008
	TypeInt128  uint16 = 0x0009
	TypeUInt128 uint16 = 0x000A
	TypeString  uint16 = 0xFFFF
)

// isArrayType reports whether the high nibble marks t as an array-of-scalar
// type code, per PTP's 0x4xxx convention. This check must never be applied
// before the TypeString special case is ruled out: 0xFFFF & 0x4000 != 0
// would otherwise misclassify a string as an array.
func isArrayType(t uint16) bool {
	return t&0x4000 != 0
}

// Kind identifies which variant a Value holds.
type Kind int

// Value kinds.
const (
	KindScalar Kind = iota
	KindString
	KindArray
)

// Value is a tagged union over the PTP data types a dataset parser may
// encounter: a fixed-width signed/unsigned integer, a PTP string, or an
// array of elements of some other PTP type. Modeled as an enum-like struct
// with a fixed set of fields rather than an interface{} or string-keyed
// map, per"tagged unions for PtpValue" design note.
type Value struct {
	Kind      Kind
	ScalarU64 uint64 // valid when Kind == KindScalar; holds the raw bits, sign-extension is the caller's job given TypeCode
	Str       string // valid when Kind == KindString
	Elems     []Value
	TypeCode  uint16
}

// ScalarSize returns the width in bytes of a fixed-size PTP scalar type, or
// 0 if t is not a recognized fixed-size scalar (e.g. it is TypeString or an
// array type).
func ScalarSize(t uint16) int {
	switch t {
	case TypeInt8, TypeUInt8:
		return 1
	case TypeInt16, TypeUInt16:
		return 2
	case TypeInt32, TypeUInt32:
		return 4
	case TypeInt64, TypeUInt64:
		return 8
	case TypeInt128, TypeUInt128:
		return 16
	}
	return 0
}

// DecodeValue reads one PtpValue of type code t from the front of data,
// returning the value, bytes consumed, and ok=false on short input. The
// 0xFFFF-is-a-string special case is checked before the array-bit test, as
// requires: a naive "array bit" check alone would
// misclassify TypeString as an array, since 0xFFFF & 0x4000 != 0.
func DecodeValue(t uint16, data []byte) (v Value, consumed int, ok bool) {
	if t == TypeString {
		s, n, ok := DecodeString(data)
		if !ok {
			return Value{}, 0, false
		}
		return Value{Kind: KindString, Str: s, TypeCode: t}, n, true
	}

	if isArrayType(t) {
		elemType := t &^ 0x4000
		if len(data) < 4 {
			return Value{}, 0, false
		}
		count := binary.LittleEndian.Uint32(data[0:4])

		elemSize := ScalarSize(elemType)
		if elemSize == 0 {
			// Unknown/unsupported element type inside an array: bail out
			// rather than guess a stride and read garbage.
			return Value{}, 0, false
		}

		need := uint64(4) + uint64(count)*uint64(elemSize)
		if need > uint64(len(data)) {
			return Value{}, 0, false
		}

		elems := make([]Value, 0, count)
		off := 4
		for i := uint32(0); i < count; i++ {
			ev, n, ok := DecodeValue(elemType, data[off:])
			if !ok {
				return Value{}, 0, false
			}
			elems = append(elems, ev)
			off += n
		}

		return Value{Kind: KindArray, Elems: elems, TypeCode: t}, off, true
	}

	size := ScalarSize(t)
	if size == 0 || len(data) < size {
		return Value{}, 0, false
	}

	var scalar uint64
	switch size {
	case 1:
		scalar = uint64(data[0])
	case 2:
		scalar = uint64(binary.LittleEndian.Uint16(data[:2]))
	case 4:
		scalar = uint64(binary.LittleEndian.Uint32(data[:4]))
	case 8:
		scalar = binary.LittleEndian.Uint64(data[:8])
	case 16:
		// PTP Int128/UInt128 are rare in practice (vendor extensions);
		// keep only the low 64 bits, which is sufficient for every
		// property this core actually interprets, and record the type
		// code so callers needing the high bits can re-read the raw
		// bytes themselves.
		scalar = binary.LittleEndian.Uint64(data[:8])
	}

	return Value{Kind: KindScalar, ScalarU64: scalar, TypeCode: t}, size, true
}
