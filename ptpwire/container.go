/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * PTP-over-USB container framing
 */

// Package ptpwire implements the PTP-over-USB wire format: the 12-byte
// little-endian container header, PTP strings, and the PtpValue tagged
// union used by dataset decoders. Every reader here is bounds-checked and
// returns ok=false on short input instead of panicking, following the
// discipline of the host stack's IPP message decoder (bounds-checked reads,
// explicit errors, no panics) even though the wire format itself -
// little-endian fixed headers rather than big-endian TLV attributes - is
// unrelated to IPP.
package ptpwire

import "encoding/binary"

// Container kinds.
const (
	KindCommand  uint16 = 1
	KindData     uint16 = 2
	KindResponse uint16 = 3
	KindEvent    uint16 = 4
)

// HeaderSize is the fixed length of a PTP-over-USB container header.
const HeaderSize = 12

// MaxCommandParams is the maximum number of parameters a Command container
// may carry.
const MaxCommandParams = 5

// Header is the 12-byte container header common to every PTP container.
type Header struct {
	Length uint32
	Kind   uint16
	Code   uint16
	Txid   uint32
}

// EncodeCommand builds a Command container: header followed by up to
// MaxCommandParams little-endian u32 parameters. It panics if more than
// MaxCommandParams are supplied, since that is a caller (ProtocolMisuse)
// bug, not a recoverable runtime condition - matching guidance to
// reserve panics for truly unrecoverable caller errors.
func EncodeCommand(opcode uint16, txid uint32, params ...uint32) []byte {
	if len(params) > MaxCommandParams {
		panic("ptpwire: too many command parameters")
	}

	buf := make([]byte, HeaderSize+4*len(params))
	putHeader(buf, Header{
		Length: uint32(len(buf)),
		Kind:   KindCommand,
		Code:   opcode,
		Txid:   txid,
	})

	for i, p := range params {
		binary.LittleEndian.PutUint32(buf[HeaderSize+4*i:], p)
	}

	return buf
}

// EncodeDataHeader writes only the 12-byte header for a Data container; the
// caller streams the payload separately across one or more bulk transfers.
func EncodeDataHeader(totalLength uint32, opcode uint16, txid uint32) [HeaderSize]byte {
	var buf [HeaderSize]byte
	putHeader(buf[:], Header{
		Length: totalLength,
		Kind:   KindData,
		Code:   opcode,
		Txid:   txid,
	})
	return buf
}

// EncodeResponse builds a Response container with the given response code,
// txid and trailing parameters (used by tests that emulate a device peer).
func EncodeResponse(code uint16, txid uint32, params ...uint32) []byte {
	if len(params) > MaxCommandParams {
		panic("ptpwire: too many response parameters")
	}

	buf := make([]byte, HeaderSize+4*len(params))
	putHeader(buf, Header{
		Length: uint32(len(buf)),
		Kind:   KindResponse,
		Code:   code,
		Txid:   txid,
	})

	for i, p := range params {
		binary.LittleEndian.PutUint32(buf[HeaderSize+4*i:], p)
	}

	return buf
}

func putHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint16(buf[4:6], h.Kind)
	binary.LittleEndian.PutUint16(buf[6:8], h.Code)
	binary.LittleEndian.PutUint32(buf[8:12], h.Txid)
}

// DecodeHeader parses a 12-byte container header. It returns ok=false,
// never an error or panic, if fewer than HeaderSize bytes are available -
// callers decide how to react to a short read.
func DecodeHeader(data []byte) (h Header, ok bool) {
	if len(data) < HeaderSize {
		return Header{}, false
	}

	h.Length = binary.LittleEndian.Uint32(data[0:4])
	h.Kind = binary.LittleEndian.Uint16(data[4:6])
	h.Code = binary.LittleEndian.Uint16(data[6:8])
	h.Txid = binary.LittleEndian.Uint32(data[8:12])

	return h, true
}

// DecodeParams reads up to MaxCommandParams trailing u32 parameters from a
// Command or Response container, given the payload that follows the
// header. It never reads past len(data) and silently stops at whichever
// comes first: MaxCommandParams params, or the end of data truncated to a
// whole number of 4-byte words.
func DecodeParams(data []byte) []uint32 {
	n := len(data) / 4
	if n > MaxCommandParams {
		n = MaxCommandParams
	}

	params := make([]uint32, n)
	for i := 0; i < n; i++ {
		params[i] = binary.LittleEndian.Uint32(data[4*i:])
	}

	return params
}

// ResponseMatchesTxid implements the documented device-compatibility
// txid-matching rule verbatim: a Response matches the Command it answers
// if the txids are equal, or - the one PTP exception - the command was
// OpenSession (which is always sent with txid=0) and the device echoed
// txid=0 regardless of what was sent. This is deliberately not "fixed"
// any further; see DESIGN.md.
func ResponseMatchesTxid(sentOpcode uint16, sentTxid, observedTxid uint32) bool {
	if observedTxid == sentTxid {
		return true
	}
	return sentOpcode == OpOpenSession && observedTxid == 0
}
