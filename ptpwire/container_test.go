/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Tests for container.go
 */

package ptpwire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	tests := []Header{
		{Length: 12, Kind: KindCommand, Code: 0x1001, Txid: 1},
		{Length: 0, Kind: 0, Code: 0, Txid: 0},
		{Length: 0xFFFFFFFF, Kind: 0xFFFF, Code: 0xFFFF, Txid: 0xFFFFFFFF},
	}

	for _, h := range tests {
		buf := make([]byte, HeaderSize)
		putHeader(buf, h)

		got, ok := DecodeHeader(buf)
		if !ok {
			t.Fatalf("DecodeHeader(%v) returned ok=false", h)
		}
		if got != h {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
		}
	}
}

func TestDecodeHeaderShortInput(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		if _, ok := DecodeHeader(make([]byte, n)); ok {
			t.Fatalf("DecodeHeader accepted %d-byte input, want ok=false", n)
		}
	}
}

func TestDecodeHeaderMisalignedOffset(t *testing.T) {
	h := Header{Length: 42, Kind: KindData, Code: 0x1009, Txid: 7}

	buf := make([]byte, HeaderSize+5)
	putHeader(buf[5:], h)

	got, ok := DecodeHeader(buf[5:])
	if !ok {
		t.Fatal("DecodeHeader at non-zero offset failed")
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestEncodeCommand(t *testing.T) {
	buf := EncodeCommand(0x1001, 1)
	want := []byte{0x0C, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x10, 0x01, 0x00, 0x00, 0x00}
	if !bytes.Equal(buf, want) {
		t.Fatalf("got % x, want % x", buf, want)
	}
}

func TestEncodeCommandTooManyParams(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("EncodeCommand with 6 params did not panic")
		}
	}()
	EncodeCommand(0x1001, 1, 0, 0, 0, 0, 0, 0)
}

func TestDecodeParamsTruncatesToWholeWords(t *testing.T) {
	data := []byte{1, 0, 0, 0, 2, 0, 0, 0, 0xAA}
	params := DecodeParams(data)
	if len(params) != 2 || params[0] != 1 || params[1] != 2 {
		t.Fatalf("got %v, want [1 2]", params)
	}
}

func TestDecodeParamsCapsAtMax(t *testing.T) {
	data := make([]byte, 4*8)
	params := DecodeParams(data)
	if len(params) != MaxCommandParams {
		t.Fatalf("got %d params, want %d", len(params), MaxCommandParams)
	}
}

func TestResponseMatchesTxid(t *testing.T) {
	type testCase struct {
		name         string
		sentOpcode   uint16
		sentTxid     uint32
		observedTxid uint32
		want         bool
	}

	tests := []testCase{
		{"exact match", 0x1001, 5, 5, true},
		{"mismatch, non-OpenSession", 0x1001, 5, 0, false},
		{"OpenSession echoes zero", 0x1002, 0, 0, true},
		{"OpenSession echoes sent txid", 0x1002, 0, 0, true},
		{"non-OpenSession never matches zero unless sent zero", 0x1008, 3, 0, false},
	}

	for _, tc := range tests {
		got := ResponseMatchesTxid(tc.sentOpcode, tc.sentTxid, tc.observedTxid)
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
