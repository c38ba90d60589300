/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Transaction engine
 *
 * Grounded on the host stack's usbtransport.go retry-on-short-read shape
 * and usbConnState's atomic read/write bookkeeping, reworked into the
 * Command/Data/Response state machine below; the event pump is grounded
 * on the same file's read-loop pattern, feeding a lossy-newest channel
 * instead of a blocking one.
 */

// Package txn implements the PTP transaction state machine: one public
// Execute operation per transaction, a dedicated event-pump goroutine for
// the interrupt-in endpoint, and cooperative cancellation via context.
package txn

import (
	"context"
	"sync"
	"time"

	"github.com/mtpcore/mtptransport/events"
	"github.com/mtpcore/mtptransport/mtperr"
	"github.com/mtpcore/mtptransport/ptpwire"
	"github.com/mtpcore/mtptransport/usbbackend"
)

// DataOutProducer supplies the next chunk of a data-out payload into buf,
// returning the number of bytes written; it returns (0, nil) to signal
// end-of-stream.
type DataOutProducer func(buf []byte) (int, error)

// DataInConsumer receives one chunk of a data-in payload at a time.
type DataInConsumer func(chunk []byte) error

// Request describes one PTP transaction.
type Request struct {
	Opcode        uint16
	Params        []uint32
	DataOutLength uint32 // 0 if DataOut is nil
	DataOut       DataOutProducer
	DataIn        DataInConsumer
}

// Response is a completed transaction's Response container.
type Response struct {
	Code   uint16
	Txid   uint32
	Params []uint32
}

// DeviceEvent is a decoded interrupt-in Event container, distinct from
// the events package's observability Events.
type DeviceEvent struct {
	Code   uint16
	Txid   uint32
	Params []uint32
}

// Config configures one Engine's endpoints and timing budgets. Zero
// fields take the package's Default* constants.
type Config struct {
	BulkIn, BulkOut usbbackend.EndpointAddr

	HasInterruptIn   bool
	InterruptIn      usbbackend.EndpointAddr
	DisableEventPump bool

	MaxChunkBytes    int
	IoTimeout        time.Duration
	HandshakeTimeout time.Duration
	OverallDeadline  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxChunkBytes == 0 {
		c.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if c.IoTimeout == 0 {
		c.IoTimeout = DefaultIoTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.OverallDeadline == 0 {
		c.OverallDeadline = DefaultOverallDeadline
	}
	return c
}

// Engine executes PTP transactions over a claimed interface, serializing
// them through a single mutex.
type Engine struct {
	h    usbbackend.UsbHandle
	cfg  Config
	sink events.Sink

	mu       sync.Mutex
	nextTxid uint32

	events   chan DeviceEvent
	stopPump chan struct{}
	pumpDone chan struct{}
}

// NewEngine creates an Engine and, if cfg has an interrupt-in endpoint and
// the event pump isn't disabled, starts the pump goroutine. sink may be
// nil.
func NewEngine(h usbbackend.UsbHandle, cfg Config, sink events.Sink) *Engine {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = events.NopSink{}
	}

	e := &Engine{h: h, cfg: cfg, sink: sink, nextTxid: 2}

	if cfg.HasInterruptIn && !cfg.DisableEventPump {
		e.events = make(chan DeviceEvent, eventChannelCapacity)
		e.stopPump = make(chan struct{})
		e.pumpDone = make(chan struct{})
		go e.runPump()
	}

	return e
}

// Events returns the channel device events are published on, or nil if
// the event pump isn't running.
func (e *Engine) Events() <-chan DeviceEvent {
	return e.events
}

// StopPump halts the event-pump goroutine, if any, and waits for it to
// exit.
func (e *Engine) StopPump() {
	if e.stopPump == nil {
		return
	}
	select {
	case <-e.stopPump:
		// already stopped
	default:
		close(e.stopPump)
	}
	<-e.pumpDone
}

func (e *Engine) runPump() {
	defer close(e.pumpDone)

	buf := make([]byte, 4096)
	for {
		select {
		case <-e.stopPump:
			return
		default:
		}

		n, err := e.h.BulkTransfer(e.cfg.InterruptIn, buf, eventPumpReadTimeout)
		if err != nil {
			if err == mtperr.ErrTimeout {
				continue
			}
			e.sink.Emit(events.PumpStopped{Err: err})
			return
		}
		if n < ptpwire.HeaderSize {
			continue
		}

		hdr, ok := ptpwire.DecodeHeader(buf[:n])
		if !ok || hdr.Kind != ptpwire.KindEvent {
			continue
		}

		params := ptpwire.DecodeParams(buf[ptpwire.HeaderSize:n])
		e.sink.Emit(events.PumpEvent{Bytes: n})
		e.publish(DeviceEvent{Code: hdr.Code, Txid: hdr.Txid, Params: params})
	}
}

// publish delivers de, dropping the oldest queued event if the channel is
// full.
func (e *Engine) publish(de DeviceEvent) {
	select {
	case e.events <- de:
		return
	default:
	}
	select {
	case <-e.events:
	default:
	}
	select {
	case e.events <- de:
	default:
	}
}

// Execute runs one PTP transaction to completion, serialized against every
// other call on this Engine.
func (e *Engine) Execute(ctx context.Context, req Request) (Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	txid := e.assignTxid(req.Opcode)
	e.sink.Emit(events.TransactionBegin{Opcode: req.Opcode, Txid: txid})

	start := time.Now()
	resp, bytesIn, bytesOut, err := e.run(ctx, req, txid)

	e.sink.Emit(events.TransactionEnd{
		Txid:     txid,
		Outcome:  classifyOutcome(err),
		Duration: time.Since(start),
		BytesIn:  bytesIn,
		BytesOut: bytesOut,
	})

	return resp, err
}

func (e *Engine) assignTxid(opcode uint16) uint32 {
	if opcode == ptpwire.OpOpenSession {
		return 0
	}
	t := e.nextTxid
	e.nextTxid++
	if e.nextTxid == 0 {
		e.nextTxid = 1
	}
	return t
}

func classifyOutcome(err error) events.Outcome {
	switch {
	case err == nil:
		return events.OutcomeOK
	case err == mtperr.ErrCancelled:
		return events.OutcomeCancelled
	case err == mtperr.ErrTimeout:
		return events.OutcomeTransportError
	default:
		if _, ok := err.(*mtperr.TimeoutInPhase); ok {
			return events.OutcomeTransportError
		}
		if _, ok := err.(*mtperr.ProtocolError); ok {
			return events.OutcomeProtocolError
		}
		return events.OutcomeTransportError
	}
}

// run executes the Command/Data/Response state machine for one
// transaction.
func (e *Engine) run(ctx context.Context, req Request, txid uint32) (Response, int64, int64, error) {
	var bytesIn, bytesOut int64
	overallDeadline := time.Now().Add(e.cfg.OverallDeadline)

	// --- Command phase ---
	cmd := ptpwire.EncodeCommand(req.Opcode, txid, req.Params...)
	n, err := e.writeWithNoProgressRetry(ctx, e.cfg.BulkOut, cmd)
	bytesOut += int64(n)
	if err != nil {
		return Response{}, bytesIn, bytesOut, err
	}

	if err := e.checkCancel(ctx); err != nil {
		return Response{}, bytesIn, bytesOut, err
	}

	// --- Data-out phase ---
	if req.DataOut != nil {
		n, err := e.runDataOut(ctx, req, txid)
		bytesOut += n
		if err != nil {
			return Response{}, bytesIn, bytesOut, err
		}
	}

	// --- Data-in phase / Response phase ---
	var stashed []byte

	if req.DataIn != nil {
		n, stash, err := e.runDataIn(ctx, req, overallDeadline)
		bytesIn += n
		if err != nil {
			return Response{}, bytesIn, bytesOut, err
		}
		stashed = stash
	}

	resp, n, err := e.runResponse(ctx, stashed, overallDeadline)
	bytesIn += n
	if err != nil {
		return Response{}, bytesIn, bytesOut, err
	}

	return resp, bytesIn, bytesOut, nil
}

// writeWithNoProgressRetry writes buf in full, looping over partial
// writes. A timeout with zero bytes sent on the very first attempt is
// retried once;
// anything else propagates.
func (e *Engine) writeWithNoProgressRetry(ctx context.Context, ep usbbackend.EndpointAddr, buf []byte) (int, error) {
	sent := 0
	triedRecovery := false

	for sent < len(buf) {
		if err := e.checkCancel(ctx); err != nil {
			return sent, err
		}

		n, err := e.h.BulkTransfer(ep, buf[sent:], e.cfg.IoTimeout)
		if err != nil {
			if sent == 0 && !triedRecovery && err == mtperr.ErrTimeout {
				triedRecovery = true
				continue
			}
			return sent, err
		}
		sent += n
	}

	return sent, nil
}

// runDataOut implements step 2.
func (e *Engine) runDataOut(ctx context.Context, req Request, txid uint32) (int64, error) {
	hdr := ptpwire.EncodeDataHeader(12+req.DataOutLength, req.Opcode, txid)
	if _, err := e.writeWithNoProgressRetry(ctx, e.cfg.BulkOut, hdr[:]); err != nil {
		return 0, err
	}

	chunkSize := e.cfg.MaxChunkBytes
	if chunkSize > 64*1024 {
		chunkSize = 64 * 1024
	}
	scratch := make([]byte, chunkSize)

	var total int64

	for {
		if err := e.checkCancel(ctx); err != nil {
			return total, err
		}

		n, err := req.DataOut(scratch)
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}

		wn, err := e.writeWithNoProgressRetry(ctx, e.cfg.BulkOut, scratch[:n])
		total += int64(wn)
		if err != nil {
			return total, err
		}
	}

	maxPacket, err := e.h.GetMaxPacketSize(e.cfg.BulkOut)
	if err == nil && maxPacket > 0 && total > 0 && total%int64(maxPacket) == 0 {
		if _, err := e.h.BulkTransfer(e.cfg.BulkOut, nil, e.cfg.IoTimeout); err != nil {
			return total, err
		}
	}

	return total, nil
}

// runDataIn implements step 3, returning any trailing
// bytes that turned out to belong to the Response container instead.
// deadline bounds the whole transaction; the wait for the first byte of
// the Data phase is additionally bounded by its own, shorter
// handshake deadline (whichever elapses first wins).
func (e *Engine) runDataIn(ctx context.Context, req Request, deadline time.Time) (int64, []byte, error) {
	buf := make([]byte, 64*1024)
	handshakeDeadline := time.Now().Add(e.cfg.HandshakeTimeout)

	var n int
	var err error
	for {
		if err := e.checkCancel(ctx); err != nil {
			return 0, nil, err
		}
		now := time.Now()
		if now.After(handshakeDeadline) || now.After(deadline) {
			return 0, nil, &mtperr.TimeoutInPhase{Phase: mtperr.PhaseBulkIn}
		}

		n, err = e.h.BulkTransfer(e.cfg.BulkIn, buf, e.cfg.IoTimeout)
		if err != nil {
			return 0, nil, err
		}
		if n > 0 {
			break
		}
	}

	hdr, ok := ptpwire.DecodeHeader(buf[:n])
	if !ok {
		return 0, nil, &mtperr.Io{Message: "data phase: short header"}
	}

	if hdr.Kind == ptpwire.KindResponse {
		return 0, append([]byte(nil), buf[:n]...), nil
	}

	// bytesAfterHeader may include bytes belonging to the Response
	// container that the device concatenated onto the same bulk read;
	// only the prefix up to the Data container's own declared length
	// is payload, the rest is handed to the Response phase as a seed.
	bytesAfterHeader := int64(n - ptpwire.HeaderSize)
	dataLen := int64(hdr.Length) - ptpwire.HeaderSize
	if dataLen < 0 {
		dataLen = 0
	}

	available := bytesAfterHeader
	if available > dataLen {
		available = dataLen
	}

	if available > 0 {
		if err := req.DataIn(buf[ptpwire.HeaderSize : int64(ptpwire.HeaderSize)+available]); err != nil {
			return available, nil, err
		}
	}

	var seed []byte
	if bytesAfterHeader > available {
		seed = append([]byte(nil), buf[int64(ptpwire.HeaderSize)+available:n]...)
	}

	remaining := dataLen - available
	total := available

	for remaining > 0 {
		if err := e.checkCancel(ctx); err != nil {
			return total, nil, err
		}
		if time.Now().After(deadline) {
			return total, nil, &mtperr.TimeoutInPhase{Phase: mtperr.PhaseBulkIn}
		}

		want := remaining
		if want > dataInChunkCap {
			want = dataInChunkCap
		}
		chunk := buf
		if int64(len(chunk)) < want {
			chunk = make([]byte, want)
		}

		n, err := e.h.BulkTransfer(e.cfg.BulkIn, chunk[:want], e.cfg.IoTimeout)
		if err != nil {
			return total, nil, err
		}
		if n == 0 {
			return total, nil, &mtperr.TimeoutInPhase{Phase: mtperr.PhaseBulkIn}
		}

		if err := req.DataIn(chunk[:n]); err != nil {
			return total, nil, err
		}

		total += int64(n)
		remaining -= int64(n)
	}

	return total, seed, nil
}

// runResponse implements step 4. seed holds any bytes
// already read (by the Data phase finding a Response container up
// front, or its concatenated-read leftover) that belong to
// the Response container; it may be nil, partial, or a complete
// container.
func (e *Engine) runResponse(ctx context.Context, seed []byte, deadline time.Time) (Response, int64, error) {
	buf := append([]byte(nil), seed...)
	var bytesRead int64

	for len(buf) < ptpwire.HeaderSize {
		if err := e.checkCancel(ctx); err != nil {
			return Response{}, bytesRead, err
		}
		if time.Now().After(deadline) {
			return Response{}, bytesRead, &mtperr.TimeoutInPhase{Phase: mtperr.PhaseResponseWait}
		}

		more := make([]byte, ptpwire.HeaderSize-len(buf))
		n, err := e.h.BulkTransfer(e.cfg.BulkIn, more, e.cfg.IoTimeout)
		if err != nil {
			return Response{}, bytesRead, err
		}
		bytesRead += int64(n)
		buf = append(buf, more[:n]...)
	}

	hdr, ok := ptpwire.DecodeHeader(buf)
	if !ok {
		return Response{}, bytesRead, &mtperr.Io{Message: "response phase: short header"}
	}

	total := int(hdr.Length)
	if total < ptpwire.HeaderSize {
		total = ptpwire.HeaderSize
	}
	if total > ptpwire.HeaderSize+4*ptpwire.MaxCommandParams {
		total = ptpwire.HeaderSize + 4*ptpwire.MaxCommandParams
	}

	for len(buf) < total {
		if err := e.checkCancel(ctx); err != nil {
			return Response{}, bytesRead, err
		}
		if time.Now().After(deadline) {
			return Response{}, bytesRead, &mtperr.TimeoutInPhase{Phase: mtperr.PhaseResponseWait}
		}

		more := make([]byte, total-len(buf))
		n, err := e.h.BulkTransfer(e.cfg.BulkIn, more, e.cfg.IoTimeout)
		if err != nil {
			return Response{}, bytesRead, err
		}
		bytesRead += int64(n)
		buf = append(buf, more[:n]...)
	}

	return Response{
		Code:   hdr.Code,
		Txid:   hdr.Txid,
		Params: ptpwire.DecodeParams(buf[ptpwire.HeaderSize:total]),
	}, bytesRead, nil
}

// checkCancel reports whether ctx has been cancelled; if so it performs
// the the "Cancellation" recovery (ClearHalt both bulk endpoints, drain
// bulk-in) before returning mtperr.ErrCancelled.
func (e *Engine) checkCancel(ctx context.Context) error {
	select {
	case <-ctx.Done():
	default:
		return nil
	}

	e.h.ClearHalt(e.cfg.BulkIn)
	e.h.ClearHalt(e.cfg.BulkOut)

	drain := make([]byte, 4096)
	for i := 0; i < cancelDrainAttempts; i++ {
		n, err := e.h.BulkTransfer(e.cfg.BulkIn, drain, cancelDrainInterval)
		if err != nil || n == 0 {
			break
		}
	}

	return mtperr.ErrCancelled
}
