/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Quirk/policy resolver
 */

// Package policy resolves a DevicePolicy for a freshly probed device by
// merging six layers of increasing precedence: conservative defaults, a
// class heuristic, the static quirk database, a learned profile, probed
// capabilities and finally user overrides. The merge algorithm and its
// specificity-weighted quirk matching are ported from the host stack's
// quirks.go, which solves the same "most specific match wins" problem for
// IPP-over-USB device quirks.
package policy

// QuirkFlags are capability/behavior bits a policy layer can set.
type QuirkFlags struct {
	SupportsGetObjectPropList       bool
	SupportsPartialRead64           bool
	SupportsPartialWrite            bool
	RequiresKernelDetach            bool
	ResetOnOpen                     bool
	DisableEventPump                bool
	NeedsShortReads                 bool
	SkipPtpReset                    bool
	RequiresSessionBeforeDeviceInfo bool
	NeedsLongerOpenTimeout          bool
}

// TuningProfile holds the integer tuning parameters, each bounded
type TuningProfile struct {
	MaxChunkBytes         int
	IoTimeoutMs           int
	HandshakeTimeoutMs    int
	InactivityTimeoutMs   int
	OverallDeadlineMs     int
	StabilizeMs           int
	PostClaimStabilizeMs  int
}

// Bounds for TuningProfile fields.
const (
	MinMaxChunkBytes = 4 * 1024
	MaxMaxChunkBytes = 16 * 1024 * 1024

	MinIoTimeoutMs = 1000
	MaxIoTimeoutMs = 120000

	MinHandshakeTimeoutMs = 1000
	MaxHandshakeTimeoutMs = 60000

	MinInactivityTimeoutMs = 1000
	MaxInactivityTimeoutMs = 60000

	MinOverallDeadlineMs = 1000
	MaxOverallDeadlineMs = 300000

	MinStabilizeMs = 0
	MaxStabilizeMs = 5000

	MinPostClaimStabilizeMs = 0
	MaxPostClaimStabilizeMs = 1000
)

// EnumerationStrategy selects how Link.enumerate lists objects.
type EnumerationStrategy int

const (
	EnumProplist5 EnumerationStrategy = iota
	EnumProplist3
	EnumHandlesThenInfo
)

// ReadStrategy selects how Link.get_object reads an object's data.
type ReadStrategy int

const (
	ReadPartial64 ReadStrategy = iota
	ReadPartial32
	ReadWholeObject
)

// WriteStrategy selects how Link.send_object writes an object's data.
type WriteStrategy int

const (
	WritePartial WriteStrategy = iota
	WriteWholeObject
)

// FallbackSelections records which rung of each fallback ladder is
// currently preferred.
type FallbackSelections struct {
	Enumeration EnumerationStrategy
	Read        ReadStrategy
	Write       WriteStrategy
}

// Source identifies which policy layer contributed a field's value.
type Source int

const (
	SourceDefault Source = iota
	SourceClassHeuristic
	SourceQuirk
	SourceLearned
	SourceUserOverride
	SourceProbe
)

func (s Source) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceClassHeuristic:
		return "class_heuristic"
	case SourceQuirk:
		return "quirk"
	case SourceLearned:
		return "learned"
	case SourceUserOverride:
		return "user_override"
	case SourceProbe:
		return "probe"
	}
	return "unknown"
}

// DevicePolicy is the frozen, merged policy a Link operates under for its
// whole lifetime.
type DevicePolicy struct {
	Tuning    TuningProfile
	Flags     QuirkFlags
	Fallbacks FallbackSelections
	Sources   map[string]Source
}

// defaultTuning returns the conservative, middle-of-the-road tuning
// profile every build starts from (layer 1).
func defaultTuning() TuningProfile {
	return TuningProfile{
		MaxChunkBytes:        1 * 1024 * 1024,
		IoTimeoutMs:          5000,
		HandshakeTimeoutMs:   5000,
		InactivityTimeoutMs:  10000,
		OverallDeadlineMs:    60000,
		StabilizeMs:          0,
		PostClaimStabilizeMs: 100,
	}
}
