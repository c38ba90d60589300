/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Tests for value.go
 */

package ptpwire

import "testing"

func TestDecodeValueStringNotMisreadAsArray(t *testing.T) {
	// 0xFFFF & 0x4000 != 0, so a naive array-bit check would misclassify
	// this as an array. It must decode as a string.
	data := EncodeString("hello")
	v, n, ok := DecodeValue(TypeString, data)
	if !ok {
		t.Fatal("DecodeValue(TypeString) failed")
	}
	if v.Kind != KindString || v.Str != "hello" {
		t.Fatalf("got kind=%v str=%q, want KindString \"hello\"", v.Kind, v.Str)
	}
	if n != len(data) {
		t.Fatalf("consumed %d, want %d", n, len(data))
	}
}

func TestDecodeValueScalarUInt32(t *testing.T) {
	data := []byte{0x78, 0x56, 0x34, 0x12, 0xFF}
	v, n, ok := DecodeValue(TypeUInt32, data)
	if !ok || n != 4 {
		t.Fatalf("got n=%d ok=%v", n, ok)
	}
	if v.Kind != KindScalar || v.ScalarU64 != 0x12345678 {
		t.Fatalf("got %+v", v)
	}
}

func TestDecodeValueArrayOfUInt16(t *testing.T) {
	arrType := uint16(0x4000) | TypeUInt16
	data := []byte{
		3, 0, 0, 0, // count = 3
		1, 0,
		2, 0,
		3, 0,
	}
	v, n, ok := DecodeValue(arrType, data)
	if !ok {
		t.Fatal("DecodeValue array failed")
	}
	if n != len(data) {
		t.Fatalf("consumed %d, want %d", n, len(data))
	}
	if v.Kind != KindArray || len(v.Elems) != 3 {
		t.Fatalf("got %+v", v)
	}
	for i, want := range []uint64{1, 2, 3} {
		if v.Elems[i].ScalarU64 != want {
			t.Fatalf("elem %d: got %d, want %d", i, v.Elems[i].ScalarU64, want)
		}
	}
}

func TestDecodeValueArrayShortInput(t *testing.T) {
	arrType := uint16(0x4000) | TypeUInt32
	data := []byte{5, 0, 0, 0} // declares 5 elements, provides none
	if _, _, ok := DecodeValue(arrType, data); ok {
		t.Fatal("DecodeValue should fail when array elements are missing")
	}
}

func TestDecodeValueNeverOverreadsFuzzLike(t *testing.T) {
	types := []uint16{
		TypeInt8, TypeUInt8, TypeInt16, TypeUInt16, TypeInt32, TypeUInt32,
		TypeInt64, TypeUInt64, TypeString, 0x4000 | TypeUInt16, 0x4000 | TypeUInt32,
	}

	for _, ty := range types {
		for n := 0; n < 40; n++ {
			data := make([]byte, n)
			for i := range data {
				data[i] = byte(i * 7)
			}
			_, consumed, ok := DecodeValue(ty, data)
			if ok && consumed > len(data) {
				t.Fatalf("type=0x%04x len=%d: consumed %d, overread", ty, n, consumed)
			}
		}
	}
}
