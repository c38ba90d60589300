/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Interface probe
 *
 * Grounded on the host stack's usbio_libusb.go claim/detach/configure sequence
 * and usbtransport.go's bulk-read retry shape, reworked against the
 * usbbackend.UsbHandle capability contract instead of direct cgo calls.
 */

// Package probe finds which interface/alt-setting on a USB device speaks
// PTP, claims it, and exercises a sessionless GetDeviceInfo to confirm the
// device actually answers before a Link is built on top of it.
package probe

import (
	"strconv"
	"strings"
	"time"

	"github.com/mtpcore/mtptransport/events"
	"github.com/mtpcore/mtptransport/fallback"
	"github.com/mtpcore/mtptransport/mtperr"
	"github.com/mtpcore/mtptransport/ptpwire"
	"github.com/mtpcore/mtptransport/usbbackend"
)

// Candidate is one scored interface/alt-setting combination.
type Candidate struct {
	IfaceNum      int
	AltSetting    int
	Score         int
	BulkIn        usbbackend.EndpointAddr
	BulkOut       usbbackend.EndpointAddr
	InterruptIn   usbbackend.EndpointAddr
	HasInterrupt  bool
	ConfigValue   int
}

// EnumerateCandidates scores every interface/alt-setting in cfg that offers
// both a bulk-in and bulk-out endpoint, drops anything scoring below 60,
// and returns the survivors sorted best-first.
func EnumerateCandidates(cfg usbbackend.ConfigDesc) []Candidate {
	var out []Candidate

	for _, iface := range cfg.Interfaces {
		var bulkIn, bulkOut, interruptIn usbbackend.EndpointAddr
		var haveBulkIn, haveBulkOut, haveInterruptIn bool

		for _, ep := range iface.Endpoints {
			switch {
			case ep.Interrupt && ep.Addr.IsIn():
				interruptIn = ep.Addr
				haveInterruptIn = true
			case ep.Addr.IsIn():
				bulkIn = ep.Addr
				haveBulkIn = true
			default:
				bulkOut = ep.Addr
				haveBulkOut = true
			}
		}

		if !haveBulkIn || !haveBulkOut {
			continue
		}

		score := scoreInterface(iface, haveInterruptIn)
		if score < 60 {
			continue
		}

		out = append(out, Candidate{
			IfaceNum:     iface.Number,
			AltSetting:   iface.AltSetting,
			Score:        score,
			BulkIn:       bulkIn,
			BulkOut:      bulkOut,
			InterruptIn:  interruptIn,
			HasInterrupt: haveInterruptIn,
			ConfigValue:  cfg.ConfigValue,
		})
	}

	sortCandidates(out)
	return out
}

func scoreInterface(iface usbbackend.InterfaceDesc, hasInterruptIn bool) int {
	score := 0
	name := strings.ToLower(iface.InterfaceName)

	if iface.Class == 0x06 && iface.SubClass == 0x01 {
		score += 100
	}
	if iface.Class == 0xFF && (strings.Contains(name, "mtp") || strings.Contains(name, "ptp")) {
		score += 60
	}
	if hasInterruptIn {
		score += 5
	}
	if (iface.Class == 0xFF && iface.SubClass == 0x42) || strings.Contains(name, "adb") {
		score -= 200
	}

	return score
}

func sortCandidates(c []Candidate) {
	// Insertion sort: candidate lists are always small (a handful of
	// interfaces per device), and this keeps the tie-break rule
	// (score desc, then iface_num asc, then alt_setting asc) explicit.
	for i := 1; i < len(c); i++ {
		j := i
		for j > 0 && less(c[j], c[j-1]) {
			c[j], c[j-1] = c[j-1], c[j]
			j--
		}
	}
}

func less(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.IfaceNum != b.IfaceNum {
		return a.IfaceNum < b.IfaceNum
	}
	return a.AltSetting < b.AltSetting
}

// Options tunes the probe's claim sequence and transaction timeouts.
type Options struct {
	PostClaimStabilize time.Duration // default 100ms
	IoTimeout          time.Duration // default 5s
	Force              bool          // force set_configuration even if already active
}

func (o Options) withDefaults() Options {
	if o.PostClaimStabilize == 0 {
		o.PostClaimStabilize = 100 * time.Millisecond
	}
	if o.IoTimeout == 0 {
		o.IoTimeout = 5 * time.Second
	}
	return o
}

// Result is a successfully probed candidate, ready to be handed to a Link.
type Result struct {
	Candidate        Candidate
	CachedDeviceInfo []byte
}

// Probe tries each candidate in order, claiming it and exercising a
// sessionless GetDeviceInfo, and returns the first one that answers
// successfully. sink may be nil.
func Probe(h usbbackend.UsbHandle, candidates []Candidate, opts Options, sink events.Sink) (*Result, error) {
	opts = opts.withDefaults()
	if sink == nil {
		sink = events.NopSink{}
	}

	var attempts []fallback.Attempt

	for _, cand := range candidates {
		start := time.Now()
		info, err := claimAndProbeOne(h, cand, opts)
		dur := time.Since(start)

		sink.Emit(events.ProbeAttempt{
			IfaceNum:  cand.IfaceNum,
			Score:     cand.Score,
			Succeeded: err == nil,
			Duration:  dur,
		})

		if err == nil {
			return &Result{Candidate: cand, CachedDeviceInfo: info}, nil
		}

		attempts = append(attempts, fallback.Attempt{Name: ifaceAttemptName(cand), Err: err})
		drainAfterFailure(h, cand, opts)
		h.ReleaseInterface(cand.IfaceNum)
	}

	return nil, &fallback.AllFailed{Attempts: attempts}
}

func ifaceAttemptName(c Candidate) string {
	return "iface:" + strconv.Itoa(c.IfaceNum) + "/" + strconv.Itoa(c.AltSetting)
}

// claimAndProbeOne executes the step 2 claim sequence followed by the
// step 3 probe transaction for a single candidate.
func claimAndProbeOne(h usbbackend.UsbHandle, cand Candidate, opts Options) ([]byte, error) {
	if err := h.DetachKernelDriver(cand.IfaceNum); err != nil {
		if !isNotFound(err) {
			return nil, err
		}
	}

	if opts.Force {
		if err := h.SetConfiguration(cand.ConfigValue); err != nil {
			return nil, err
		}
	} else {
		current, err := h.GetConfiguration()
		if err != nil {
			return nil, err
		}
		if current != cand.ConfigValue {
			if err := h.SetConfiguration(cand.ConfigValue); err != nil {
				return nil, err
			}
		}
	}

	if err := h.ClaimInterface(cand.IfaceNum); err != nil {
		return nil, err
	}

	if err := h.SetInterfaceAltSetting(cand.IfaceNum, cand.AltSetting); err != nil {
		return nil, err
	}

	time.Sleep(opts.PostClaimStabilize)

	// Always clear halt unconditionally: Chrome/WebUSB is known to leave
	// these endpoints halted on Pixel-class devices.
	if err := h.ClearHalt(cand.BulkIn); err != nil {
		return nil, err
	}
	if err := h.ClearHalt(cand.BulkOut); err != nil {
		return nil, err
	}

	return probeGetDeviceInfo(h, cand, opts.IoTimeout)
}

// probeGetDeviceInfo sends a sessionless GetDeviceInfo with txid=1 and
// reads until a matching Response is seen, handling the case where Data
// and Response arrive concatenated in a single bulk read.
func probeGetDeviceInfo(h usbbackend.UsbHandle, cand Candidate, timeout time.Duration) ([]byte, error) {
	const probeTxid = 1

	cmd := ptpwire.EncodeCommand(ptpwire.OpGetDeviceInfo, probeTxid)
	if _, err := writeAll(h, cand.BulkOut, cmd, timeout); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 16*1024)

	var dataPayload []byte
	var respCode uint16
	gotResponse := false

	for !gotResponse {
		n, err := h.BulkTransfer(cand.BulkIn, chunk, timeout)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, &mtperr.TimeoutInPhase{Phase: mtperr.PhaseBulkIn}
		}
		buf = append(buf, chunk[:n]...)

		for len(buf) >= ptpwire.HeaderSize {
			hdr, ok := ptpwire.DecodeHeader(buf)
			if !ok {
				break
			}
			if uint32(len(buf)) < hdr.Length {
				break // this container isn't fully buffered yet
			}

			body := buf[ptpwire.HeaderSize:hdr.Length]
			switch hdr.Kind {
			case ptpwire.KindData:
				dataPayload = append([]byte(nil), body...)
			case ptpwire.KindResponse:
				if ptpwire.ResponseMatchesTxid(ptpwire.OpGetDeviceInfo, probeTxid, hdr.Txid) {
					respCode = hdr.Code
					gotResponse = true
				}
			}

			buf = buf[hdr.Length:]
		}
	}

	if respCode != ptpwire.RespOK {
		return nil, &mtperr.ProtocolError{Code: respCode, Message: "probe GetDeviceInfo failed"}
	}

	return dataPayload, nil
}

func writeAll(h usbbackend.UsbHandle, ep usbbackend.EndpointAddr, buf []byte, timeout time.Duration) (int, error) {
	sent := 0
	for sent < len(buf) {
		n, err := h.BulkTransfer(ep, buf[sent:], timeout)
		if err != nil {
			if sent == 0 {
				// no-progress recovery: retry the write once
				n2, err2 := h.BulkTransfer(ep, buf[sent:], timeout)
				if err2 != nil {
					return sent, err2
				}
				sent += n2
				continue
			}
			return sent, err
		}
		sent += n
	}
	return sent, nil
}

// drainAfterFailure drains the bulk-in endpoint so a poisoned candidate
// doesn't corrupt the next one.
func drainAfterFailure(h usbbackend.UsbHandle, cand Candidate, opts Options) {
	buf := make([]byte, 4096)
	for i := 0; i < 5; i++ {
		n, err := h.BulkTransfer(cand.BulkIn, buf, 50*time.Millisecond)
		if err != nil || n == 0 {
			break
		}
	}
	h.ClearHalt(cand.BulkIn)
}

func isNotFound(err error) bool {
	return err == mtperr.ErrNoDevice
}

// WaitForReady polls the class-specific GetDeviceStatus request every
// 200ms until the response code word equals 0x2001, or budget elapses
//.
func WaitForReady(h usbbackend.UsbHandle, budget time.Duration) error {
	deadline := time.Now().Add(budget)
	resp := make([]byte, 64)

	for {
		ct := usbbackend.ControlTransfer{
			RequestType: ptpwire.ReqTypeGetDeviceStatus,
			Request:     ptpwire.ReqGetDeviceStatus,
			Value:       0,
			Index:       0,
			Data:        resp,
		}
		n, err := h.ControlTransfer(ct, 1*time.Second)
		if err == nil && n >= 4 {
			code := uint16(resp[2]) | uint16(resp[3])<<8
			if code == ptpwire.RespOK {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return &mtperr.TimeoutInPhase{Phase: mtperr.PhaseResponseWait}
		}
		time.Sleep(200 * time.Millisecond)
	}
}
