/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Device registry, adapted from the host stack's pnp.go + device.go: the
 * same "diff the device list, open what's new, close what's gone" loop,
 * but polling usbbackend.Backend.ListDevices instead of a cgo libusb
 * hotplug callback (see DESIGN.md -- hotplug.go is dropped, its cgo
 * dependency is exactly what picking gousb over usbio_libusb.go avoids),
 * and opening a transport-core Link instead of an HTTP reverse-proxy
 * Device.
 */

package main

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mtpcore/mtptransport/events"
	"github.com/mtpcore/mtptransport/link"
	"github.com/mtpcore/mtptransport/mtpconf"
	"github.com/mtpcore/mtptransport/policy"
	"github.com/mtpcore/mtptransport/probe"
	"github.com/mtpcore/mtptransport/txn"
	"github.com/mtpcore/mtptransport/usbbackend"
	"github.com/mtpcore/mtptransport/xlog"
)

// entry is one currently-open device tracked by the registry.
type entry struct {
	identity usbbackend.DeviceIdentity
	ifaceNum int
	score    int
	h        usbbackend.UsbHandle
	link     *link.Link
}

// Registry tracks every currently-attached, successfully-opened MTP
// device. It is the mtpctl analogue of device.go's package-level device
// table, scoped to one struct instead of globals so "debug"/"watch" mode
// and the control socket can share it without import cycles.
type Registry struct {
	backend usbbackend.Backend

	mu      sync.Mutex
	byKey   map[string]*entry
}

// NewRegistry creates an empty registry bound to backend.
func NewRegistry(backend usbbackend.Backend) *Registry {
	return &Registry{
		backend: backend,
		byKey:   make(map[string]*entry),
	}
}

func deviceKey(id usbbackend.DeviceIdentity) string {
	return id.DeviceID()
}

// Rescan lists currently attached devices, opens any new one that probes
// as an MTP/PTP interface, and closes any tracked device that is no
// longer present. It returns the device keys that were added/removed,
// mirroring pnp.go's UsbAddrList.Diff.
func (r *Registry) Rescan() (added, removed []string) {
	handles, err := r.backend.ListDevices()
	if err != nil {
		xlog.Log.Error('!', "registry: list devices: %s", err)
		return nil, nil
	}

	seen := make(map[string]bool, len(handles))

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range handles {
		id := h.Identity()
		key := deviceKey(id)
		seen[key] = true

		if _, ok := r.byKey[key]; ok {
			continue
		}

		e, err := r.open(h)
		if err != nil {
			xlog.Log.Debug(' ', "registry: %s: %s", key, err)
			continue
		}

		r.byKey[key] = e
		added = append(added, key)
		xlog.Log.Info('+', "registry: %s: opened, iface=%d score=%d", key, e.ifaceNum, e.score)
	}

	for key, e := range r.byKey {
		if !seen[key] {
			r.closeLocked(e)
			delete(r.byKey, key)
			removed = append(removed, key)
			xlog.Log.Info('-', "registry: %s: removed", key)
		}
	}

	return added, removed
}

// open runs the probe -> policy -> link pipeline for one enumerated
// device.
func (r *Registry) open(dh usbbackend.DeviceHandle) (*entry, error) {
	identity := dh.Identity()

	h, err := r.backend.Open(dh)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	cfg, err := dh.ActiveConfigDescriptor()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("config descriptor: %w", err)
	}

	candidates := probe.EnumerateCandidates(cfg)
	if len(candidates) == 0 {
		h.Close()
		return nil, fmt.Errorf("no PTP-capable interface")
	}

	sink := events.FuncSink(func(ev events.Event) {
		xlog.Log.Debug(' ', "event: %#v", ev)
	})

	result, err := probe.Probe(h, candidates, probe.Options{}, sink)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("probe: %w", err)
	}

	ifaceClass := ifaceClassOf(cfg, result.Candidate)

	ident := policy.Ident{
		VID:           identity.VID,
		PID:           identity.PID,
		BcdDevice:     identity.BcdDevice,
		IfaceClass:    ifaceClass.class,
		IfaceSubclass: ifaceClass.subclass,
		IfaceProtocol: ifaceClass.protocol,
	}

	store := mtpconf.OpenProfileStore(ident)
	learned := store.Load()

	supportsEvents := result.Candidate.HasInterrupt
	probed := &policy.ProbedCapabilities{SupportsEvents: &supportsEvents}

	overrides := mtpconf.Conf.Tuning

	pol := policy.BuildPolicy(ident, ifaceClass.class, mtpconf.Conf.Quirks, learned, probed, &overrides)

	sink.Emit(events.PolicyResolved{Sources: sourcesAsStrings(pol.Sources)})

	engine := txn.NewEngine(h, txn.Config{
		BulkIn:           result.Candidate.BulkIn,
		BulkOut:          result.Candidate.BulkOut,
		HasInterruptIn:   result.Candidate.HasInterrupt,
		InterruptIn:      result.Candidate.InterruptIn,
		DisableEventPump: pol.Flags.DisableEventPump,
		MaxChunkBytes:    pol.Tuning.MaxChunkBytes,
		IoTimeout:        time.Duration(pol.Tuning.IoTimeoutMs) * time.Millisecond,
		HandshakeTimeout: time.Duration(pol.Tuning.HandshakeTimeoutMs) * time.Millisecond,
		OverallDeadline:  time.Duration(pol.Tuning.OverallDeadlineMs) * time.Millisecond,
	}, sink)

	l := link.New(h, result.Candidate.IfaceNum, engine, pol, result.CachedDeviceInfo, sink)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(pol.Tuning.HandshakeTimeoutMs)*time.Millisecond)
	defer cancel()
	if err := l.OpenSession(ctx, 1); err != nil {
		l.Close(context.Background())
		return nil, fmt.Errorf("open session: %w", err)
	}

	return &entry{
		identity: identity,
		ifaceNum: result.Candidate.IfaceNum,
		score:    result.Candidate.Score,
		h:        h,
		link:     l,
	}, nil
}

func (r *Registry) closeLocked(e *entry) {
	e.link.Close(context.Background())
}

// CloseAll closes every tracked device. Safe to call more than once.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.byKey {
		r.closeLocked(e)
		delete(r.byKey, key)
	}
}

// Snapshot returns a stable, sorted copy of currently tracked devices for
// status reporting.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.byKey))
	for key, e := range r.byKey {
		out = append(out, fmt.Sprintf("%s  iface=%d score=%d", key, e.ifaceNum, e.score))
	}
	sort.Strings(out)
	return out
}

type ifaceClassTuple struct {
	class, subclass, protocol uint8
}

func ifaceClassOf(cfg usbbackend.ConfigDesc, c probe.Candidate) ifaceClassTuple {
	for _, iface := range cfg.Interfaces {
		if iface.Number == c.IfaceNum && iface.AltSetting == c.AltSetting {
			return ifaceClassTuple{iface.Class, iface.SubClass, iface.Protocol}
		}
	}
	return ifaceClassTuple{}
}

func sourcesAsStrings(src map[string]policy.Source) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v.String()
	}
	return out
}

// registryStatusText is consumed by ctrlsock.go's /status handler.
var globalRegistry *Registry

func registryStatusText() []byte {
	if globalRegistry == nil {
		return []byte("mtpctl: no registry running\n")
	}

	lines := globalRegistry.Snapshot()
	var buf bytes.Buffer
	if len(lines) == 0 {
		buf.WriteString("no MTP devices attached\n")
	}
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
