/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * build_policy: the six-layer precedence merge
 */

package policy

import (
	"strconv"
	"strings"
)

// ProbedCapabilities are observations layer 5 contributes, collected by
// the interface probe (e.g. whether an event-in endpoint was found).
type ProbedCapabilities struct {
	SupportsEvents *bool
}

// LearnedProfile is the historical, per-fingerprint tuning layer 4
// contributes (persisted across sessions; see the mtpconf package).
type LearnedProfile struct {
	MaxChunkBytes       *int
	IoTimeoutMs         *int
	HandshakeTimeoutMs  *int
	InactivityTimeoutMs *int
}

// UserOverrides is the highest-precedence scalar override layer (layer 6),
// parsed from a comma-separated "key=value" list (an env var or a config
// file's [tuning] section). Unrecognised keys are silently ignored.
type UserOverrides struct {
	MaxChunkBytes       *int
	IoTimeoutMs         *int
	HandshakeTimeoutMs  *int
	InactivityTimeoutMs *int
	OverallDeadlineMs   *int
	StabilizeMs         *int
	DisablePartialRead  *bool
	DisablePartialWrite *bool
}

// ParseUserOverrides parses s ("key=value,key=value,...") into
// UserOverrides. Malformed pairs and unrecognised keys are silently
// ignored — unlike the static quirk DB, which rejects unknown keys as a
// file-format error.
func ParseUserOverrides(s string) UserOverrides {
	var u UserOverrides

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}

		key := strings.TrimSpace(part[:eq])
		value := strings.TrimSpace(part[eq+1:])

		switch key {
		case "maxChunkBytes":
			if v, ok := atoiOK(value); ok {
				u.MaxChunkBytes = &v
			}
		case "ioTimeoutMs":
			if v, ok := atoiOK(value); ok {
				u.IoTimeoutMs = &v
			}
		case "handshakeTimeoutMs":
			if v, ok := atoiOK(value); ok {
				u.HandshakeTimeoutMs = &v
			}
		case "inactivityTimeoutMs":
			if v, ok := atoiOK(value); ok {
				u.InactivityTimeoutMs = &v
			}
		case "overallDeadlineMs":
			if v, ok := atoiOK(value); ok {
				u.OverallDeadlineMs = &v
			}
		case "stabilizeMs":
			if v, ok := atoiOK(value); ok {
				u.StabilizeMs = &v
			}
		case "disablePartialRead":
			if v, ok := atobOK(value); ok {
				u.DisablePartialRead = &v
			}
		case "disablePartialWrite":
			if v, ok := atobOK(value); ok {
				u.DisablePartialWrite = &v
			}
		}
	}

	return u
}

func atoiOK(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func atobOK(s string) (bool, bool) {
	switch s {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// field names, used as keys into DevicePolicy.Sources.
const (
	fieldMaxChunkBytes         = "max_chunk_bytes"
	fieldIoTimeoutMs           = "io_timeout_ms"
	fieldHandshakeTimeoutMs    = "handshake_timeout_ms"
	fieldInactivityTimeoutMs   = "inactivity_timeout_ms"
	fieldOverallDeadlineMs     = "overall_deadline_ms"
	fieldStabilizeMs           = "stabilize_ms"
	fieldPostClaimStabilizeMs  = "post_claim_stabilize_ms"

	fieldSupportsGetObjectPropList       = "supports_get_object_prop_list"
	fieldSupportsPartialRead64           = "supports_partial_read_64"
	fieldSupportsPartialWrite            = "supports_partial_write"
	fieldRequiresKernelDetach            = "requires_kernel_detach"
	fieldResetOnOpen                     = "reset_on_open"
	fieldDisableEventPump                = "disable_event_pump"
	fieldNeedsShortReads                 = "needs_short_reads"
	fieldSkipPtpReset                    = "skip_ptp_reset"
	fieldRequiresSessionBeforeDeviceInfo = "requires_session_before_device_info"
	fieldNeedsLongerOpenTimeout          = "needs_longer_open_timeout"

	fieldEnumeration = "fallback_enumeration"
	fieldRead        = "fallback_read"
	fieldWrite        = "fallback_write"
)

// builder accumulates a DevicePolicy plus a per-field "winning weight" so
// static-quirk-layer entries can be merged with quirks.go's specificity
// rule while every other layer simply overwrites unconditionally (layers
// are already precedence-ordered, so last-write-wins is correct for them).
type builder struct {
	policy  DevicePolicy
	weights map[string]int
}

func newBuilder() *builder {
	return &builder{
		policy:  DevicePolicy{Sources: make(map[string]Source)},
		weights: make(map[string]int),
	}
}

func (b *builder) setInt(field string, dst *int, v int, src Source) {
	*dst = v
	b.policy.Sources[field] = src
}

func (b *builder) setBool(field string, dst *bool, v bool, src Source) {
	*dst = v
	b.policy.Sources[field] = src
}

// setIntWeighted applies v to *dst only if weight >= the best weight seen
// so far for field, per quirks.go's prioritizeAndSave (iterating entries
// in ascending LoadOrder means a later equal-weight entry still wins,
// since >= overwrites on ties).
func (b *builder) setIntWeighted(field string, dst *int, v int, weight int) {
	if weight >= b.weights[field] {
		*dst = v
		b.weights[field] = weight
		b.policy.Sources[field] = SourceQuirk
	}
}

func (b *builder) setBoolWeighted(field string, dst *bool, v bool, weight int) {
	if weight >= b.weights[field] {
		*dst = v
		b.weights[field] = weight
		b.policy.Sources[field] = SourceQuirk
	}
}

// BuildPolicy merges all six layers into a frozen DevicePolicy. ifaceClass
// is the claimed interface's bInterfaceClass, used by the class heuristic
// (layer 2) and as part of the match identity for the static quirk DB
// (layer 3).
func BuildPolicy(
	id Ident,
	ifaceClass uint8,
	quirks QuirksDB,
	learned *LearnedProfile,
	probed *ProbedCapabilities,
	overrides *UserOverrides,
) DevicePolicy {
	b := newBuilder()

	// Layer 1: conservative defaults.
	t := defaultTuning()
	b.policy.Tuning = t
	for _, field := range []string{
		fieldMaxChunkBytes, fieldIoTimeoutMs, fieldHandshakeTimeoutMs,
		fieldInactivityTimeoutMs, fieldOverallDeadlineMs, fieldStabilizeMs,
		fieldPostClaimStabilizeMs,
	} {
		b.policy.Sources[field] = SourceDefault
	}
	for _, field := range []string{
		fieldSupportsGetObjectPropList, fieldSupportsPartialRead64,
		fieldSupportsPartialWrite, fieldRequiresKernelDetach, fieldResetOnOpen,
		fieldDisableEventPump, fieldNeedsShortReads, fieldSkipPtpReset,
		fieldRequiresSessionBeforeDeviceInfo, fieldNeedsLongerOpenTimeout,
	} {
		b.policy.Sources[field] = SourceDefault
	}
	b.policy.Fallbacks = FallbackSelections{
		Enumeration: EnumProplist5,
		Read:        ReadPartial64,
		Write:       WritePartial,
	}
	b.policy.Sources[fieldEnumeration] = SourceDefault
	b.policy.Sources[fieldRead] = SourceDefault
	b.policy.Sources[fieldWrite] = SourceDefault

	// Layer 2: class heuristic.
	if ifaceClass == 0x06 {
		b.setBool(fieldSupportsGetObjectPropList, &b.policy.Flags.SupportsGetObjectPropList, true, SourceClassHeuristic)
		b.setBool(fieldRequiresKernelDetach, &b.policy.Flags.RequiresKernelDetach, false, SourceClassHeuristic)
		b.setInt(fieldStabilizeMs, &b.policy.Tuning.StabilizeMs, 0, SourceClassHeuristic)
	}

	// Layer 3: static quirk DB, specificity-weighted per field.
	matches := quirks.Match(id)
	for _, e := range matches {
		weight := e.Match.specificity()
		applyQuirkFlags(b, e, weight)
		applyQuirkTuning(b, e, weight)
		applyQuirkFallbacks(b, e, weight)
	}

	// Layer 4: learned profile, present-only merge.
	if learned != nil {
		if learned.MaxChunkBytes != nil {
			b.setInt(fieldMaxChunkBytes, &b.policy.Tuning.MaxChunkBytes, *learned.MaxChunkBytes, SourceLearned)
		}
		if learned.IoTimeoutMs != nil {
			b.setInt(fieldIoTimeoutMs, &b.policy.Tuning.IoTimeoutMs, *learned.IoTimeoutMs, SourceLearned)
		}
		if learned.HandshakeTimeoutMs != nil {
			b.setInt(fieldHandshakeTimeoutMs, &b.policy.Tuning.HandshakeTimeoutMs, *learned.HandshakeTimeoutMs, SourceLearned)
		}
		if learned.InactivityTimeoutMs != nil {
			b.setInt(fieldInactivityTimeoutMs, &b.policy.Tuning.InactivityTimeoutMs, *learned.InactivityTimeoutMs, SourceLearned)
		}
	}

	// Layer 5: probed capabilities.
	supportsEvents := false
	if probed != nil && probed.SupportsEvents != nil {
		supportsEvents = *probed.SupportsEvents
		b.setBool(fieldDisableEventPump, &b.policy.Flags.DisableEventPump, !supportsEvents, SourceProbe)
	}

	// Layer 6: user overrides, highest precedence.
	if overrides != nil {
		if overrides.MaxChunkBytes != nil {
			b.setInt(fieldMaxChunkBytes, &b.policy.Tuning.MaxChunkBytes, *overrides.MaxChunkBytes, SourceUserOverride)
		}
		if overrides.IoTimeoutMs != nil {
			b.setInt(fieldIoTimeoutMs, &b.policy.Tuning.IoTimeoutMs, *overrides.IoTimeoutMs, SourceUserOverride)
		}
		if overrides.HandshakeTimeoutMs != nil {
			b.setInt(fieldHandshakeTimeoutMs, &b.policy.Tuning.HandshakeTimeoutMs, *overrides.HandshakeTimeoutMs, SourceUserOverride)
		}
		if overrides.InactivityTimeoutMs != nil {
			b.setInt(fieldInactivityTimeoutMs, &b.policy.Tuning.InactivityTimeoutMs, *overrides.InactivityTimeoutMs, SourceUserOverride)
		}
		if overrides.OverallDeadlineMs != nil {
			b.setInt(fieldOverallDeadlineMs, &b.policy.Tuning.OverallDeadlineMs, *overrides.OverallDeadlineMs, SourceUserOverride)
		}
		if overrides.StabilizeMs != nil {
			b.setInt(fieldStabilizeMs, &b.policy.Tuning.StabilizeMs, *overrides.StabilizeMs, SourceUserOverride)
		}
		if overrides.DisablePartialRead != nil && *overrides.DisablePartialRead {
			b.setBool(fieldSupportsPartialRead64, &b.policy.Flags.SupportsPartialRead64, false, SourceUserOverride)
		}
		if overrides.DisablePartialWrite != nil && *overrides.DisablePartialWrite {
			b.setBool(fieldSupportsPartialWrite, &b.policy.Flags.SupportsPartialWrite, false, SourceUserOverride)
		}
	}

	clampTuning(&b.policy.Tuning)

	return b.policy
}

func applyQuirkFlags(b *builder, e *QuirkEntry, weight int) {
	f := &e.Flags
	if f.SupportsGetObjectPropList != nil {
		b.setBoolWeighted(fieldSupportsGetObjectPropList, &b.policy.Flags.SupportsGetObjectPropList, *f.SupportsGetObjectPropList, weight)
	}
	if f.SupportsPartialRead64 != nil {
		b.setBoolWeighted(fieldSupportsPartialRead64, &b.policy.Flags.SupportsPartialRead64, *f.SupportsPartialRead64, weight)
	}
	if f.SupportsPartialWrite != nil {
		b.setBoolWeighted(fieldSupportsPartialWrite, &b.policy.Flags.SupportsPartialWrite, *f.SupportsPartialWrite, weight)
	}
	if f.RequiresKernelDetach != nil {
		b.setBoolWeighted(fieldRequiresKernelDetach, &b.policy.Flags.RequiresKernelDetach, *f.RequiresKernelDetach, weight)
	}
	if f.ResetOnOpen != nil {
		b.setBoolWeighted(fieldResetOnOpen, &b.policy.Flags.ResetOnOpen, *f.ResetOnOpen, weight)
	}
	if f.DisableEventPump != nil {
		b.setBoolWeighted(fieldDisableEventPump, &b.policy.Flags.DisableEventPump, *f.DisableEventPump, weight)
	}
	if f.NeedsShortReads != nil {
		b.setBoolWeighted(fieldNeedsShortReads, &b.policy.Flags.NeedsShortReads, *f.NeedsShortReads, weight)
	}
	if f.SkipPtpReset != nil {
		b.setBoolWeighted(fieldSkipPtpReset, &b.policy.Flags.SkipPtpReset, *f.SkipPtpReset, weight)
	}
	if f.RequiresSessionBeforeDeviceInfo != nil {
		b.setBoolWeighted(fieldRequiresSessionBeforeDeviceInfo, &b.policy.Flags.RequiresSessionBeforeDeviceInfo, *f.RequiresSessionBeforeDeviceInfo, weight)
	}
	if f.NeedsLongerOpenTimeout != nil {
		b.setBoolWeighted(fieldNeedsLongerOpenTimeout, &b.policy.Flags.NeedsLongerOpenTimeout, *f.NeedsLongerOpenTimeout, weight)
	}
}

func applyQuirkTuning(b *builder, e *QuirkEntry, weight int) {
	t := &e.Tuning
	if t.MaxChunkBytes != nil {
		b.setIntWeighted(fieldMaxChunkBytes, &b.policy.Tuning.MaxChunkBytes, *t.MaxChunkBytes, weight)
	}
	if t.IoTimeoutMs != nil {
		b.setIntWeighted(fieldIoTimeoutMs, &b.policy.Tuning.IoTimeoutMs, *t.IoTimeoutMs, weight)
	}
	if t.HandshakeTimeoutMs != nil {
		b.setIntWeighted(fieldHandshakeTimeoutMs, &b.policy.Tuning.HandshakeTimeoutMs, *t.HandshakeTimeoutMs, weight)
	}
	if t.InactivityTimeoutMs != nil {
		b.setIntWeighted(fieldInactivityTimeoutMs, &b.policy.Tuning.InactivityTimeoutMs, *t.InactivityTimeoutMs, weight)
	}
	if t.OverallDeadlineMs != nil {
		b.setIntWeighted(fieldOverallDeadlineMs, &b.policy.Tuning.OverallDeadlineMs, *t.OverallDeadlineMs, weight)
	}
	if t.StabilizeMs != nil {
		b.setIntWeighted(fieldStabilizeMs, &b.policy.Tuning.StabilizeMs, *t.StabilizeMs, weight)
	}
	if t.PostClaimStabilizeMs != nil {
		b.setIntWeighted(fieldPostClaimStabilizeMs, &b.policy.Tuning.PostClaimStabilizeMs, *t.PostClaimStabilizeMs, weight)
	}
}

func applyQuirkFallbacks(b *builder, e *QuirkEntry, weight int) {
	f := &e.Fallbacks
	if f.Enumeration != nil && weight >= b.weights[fieldEnumeration] {
		b.policy.Fallbacks.Enumeration = *f.Enumeration
		b.weights[fieldEnumeration] = weight
		b.policy.Sources[fieldEnumeration] = SourceQuirk
	}
	if f.Read != nil && weight >= b.weights[fieldRead] {
		b.policy.Fallbacks.Read = *f.Read
		b.weights[fieldRead] = weight
		b.policy.Sources[fieldRead] = SourceQuirk
	}
	if f.Write != nil && weight >= b.weights[fieldWrite] {
		b.policy.Fallbacks.Write = *f.Write
		b.weights[fieldWrite] = weight
		b.policy.Sources[fieldWrite] = SourceQuirk
	}
}

// clampTuning clamps every tuning field to its documented bounds after
// merging, and rounds max_chunk_bytes down to the nearest power of two
// within bounds.
func clampTuning(t *TuningProfile) {
	t.MaxChunkBytes = clampInt(t.MaxChunkBytes, MinMaxChunkBytes, MaxMaxChunkBytes)
	t.MaxChunkBytes = floorPow2(t.MaxChunkBytes)
	if t.MaxChunkBytes < MinMaxChunkBytes {
		t.MaxChunkBytes = MinMaxChunkBytes
	}

	t.IoTimeoutMs = clampInt(t.IoTimeoutMs, MinIoTimeoutMs, MaxIoTimeoutMs)
	t.HandshakeTimeoutMs = clampInt(t.HandshakeTimeoutMs, MinHandshakeTimeoutMs, MaxHandshakeTimeoutMs)
	t.InactivityTimeoutMs = clampInt(t.InactivityTimeoutMs, MinInactivityTimeoutMs, MaxInactivityTimeoutMs)
	t.OverallDeadlineMs = clampInt(t.OverallDeadlineMs, MinOverallDeadlineMs, MaxOverallDeadlineMs)
	t.StabilizeMs = clampInt(t.StabilizeMs, MinStabilizeMs, MaxStabilizeMs)
	t.PostClaimStabilizeMs = clampInt(t.PostClaimStabilizeMs, MinPostClaimStabilizeMs, MaxPostClaimStabilizeMs)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// floorPow2 rounds v down to the nearest power of two, v >= 1.
func floorPow2(v int) int {
	if v <= 1 {
		return 1
	}
	p := 1
	for p*2 <= v {
		p *= 2
	}
	return p
}
