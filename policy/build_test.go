/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Tests for the policy builder
 */

package policy

import "testing"

func u16p(v uint16) *uint16 { return &v }
func u8p(v uint8) *uint8    { return &v }

// TestQuirkPrioritizationMoreSpecificWins mirrors quirks_test.go's
// TestQuirksPrioritization: a vid+pid match must beat a vid-only match
// regardless of load order.
func TestQuirkPrioritizationMoreSpecificWins(t *testing.T) {
	id := Ident{VID: 0x05ac, PID: 0x12a8}

	broad := &QuirkEntry{
		Match:     QuirkMatch{VID: u16p(0x05ac)},
		LoadOrder: 0,
	}
	broad.Flags.ResetOnOpen = boolPtr(true)

	narrow := &QuirkEntry{
		Match:     QuirkMatch{VID: u16p(0x05ac), PID: u16p(0x12a8)},
		LoadOrder: 1,
	}
	narrow.Flags.ResetOnOpen = boolPtr(false)

	for _, db := range []QuirksDB{{broad, narrow}, {narrow, broad}} {
		policy := BuildPolicy(id, 0x06, db, nil, nil, nil)
		if policy.Flags.ResetOnOpen {
			t.Errorf("expected the more specific (vid+pid) entry to win regardless of order, got ResetOnOpen=true")
		}
		if policy.Sources[fieldResetOnOpen] != SourceQuirk {
			t.Errorf("expected source=quirk, got %s", policy.Sources[fieldResetOnOpen])
		}
	}
}

// TestQuirkPrioritizationTieBreakByLoadOrder mirrors the "equal match,
// later loaded wins" cases of TestQuirksPrioritization.
func TestQuirkPrioritizationTieBreakByLoadOrder(t *testing.T) {
	id := Ident{VID: 0x05ac, PID: 0x12a8}

	first := &QuirkEntry{Match: QuirkMatch{VID: u16p(0x05ac)}, LoadOrder: 0}
	first.Flags.ResetOnOpen = boolPtr(true)

	second := &QuirkEntry{Match: QuirkMatch{VID: u16p(0x05ac)}, LoadOrder: 1}
	second.Flags.ResetOnOpen = boolPtr(false)

	db := QuirksDB{first, second}
	policy := BuildPolicy(id, 0x06, db, nil, nil, nil)
	if policy.Flags.ResetOnOpen {
		t.Errorf("expected the later-loaded equal-specificity entry to win, got ResetOnOpen=true")
	}
}

func TestClassHeuristicPTPDefaults(t *testing.T) {
	policy := BuildPolicy(Ident{}, 0x06, nil, nil, nil, nil)
	if !policy.Flags.SupportsGetObjectPropList {
		t.Error("expected SupportsGetObjectPropList=true for class 0x06")
	}
	if policy.Flags.RequiresKernelDetach {
		t.Error("expected RequiresKernelDetach=false for class 0x06")
	}
	if policy.Sources[fieldSupportsGetObjectPropList] != SourceClassHeuristic {
		t.Errorf("expected source=class_heuristic, got %s", policy.Sources[fieldSupportsGetObjectPropList])
	}

	other := BuildPolicy(Ident{}, 0xFF, nil, nil, nil, nil)
	if other.Flags.SupportsGetObjectPropList {
		t.Error("expected SupportsGetObjectPropList=false for non-PTP class")
	}
}

func TestLearnedProfileOverridesDefaultsAndQuirks(t *testing.T) {
	quirk := &QuirkEntry{Match: QuirkMatch{VID: u16p(0x05ac)}}
	quirk.Tuning.MaxChunkBytes = intPtr(2 * 1024 * 1024)

	learnedChunk := 8 * 1024 * 1024
	learned := &LearnedProfile{MaxChunkBytes: &learnedChunk}

	id := Ident{VID: 0x05ac}
	policy := BuildPolicy(id, 0x06, QuirksDB{quirk}, learned, nil, nil)

	if policy.Tuning.MaxChunkBytes != learnedChunk {
		t.Errorf("expected learned profile to win over quirk+default, got %d", policy.Tuning.MaxChunkBytes)
	}
	if policy.Sources[fieldMaxChunkBytes] != SourceLearned {
		t.Errorf("expected source=learned, got %s", policy.Sources[fieldMaxChunkBytes])
	}
}

func TestUserOverrideWinsOverEverything(t *testing.T) {
	quirk := &QuirkEntry{Match: QuirkMatch{VID: u16p(0x05ac), PID: u16p(0x1234)}}
	quirk.Tuning.MaxChunkBytes = intPtr(2 * 1024 * 1024)

	learnedChunk := 8 * 1024 * 1024
	learned := &LearnedProfile{MaxChunkBytes: &learnedChunk}

	overrideChunk := 64 * 1024
	overrides := &UserOverrides{MaxChunkBytes: &overrideChunk}

	id := Ident{VID: 0x05ac, PID: 0x1234}
	policy := BuildPolicy(id, 0x06, QuirksDB{quirk}, learned, nil, overrides)

	if policy.Tuning.MaxChunkBytes != overrideChunk {
		t.Errorf("expected user override to win, got %d", policy.Tuning.MaxChunkBytes)
	}
	if policy.Sources[fieldMaxChunkBytes] != SourceUserOverride {
		t.Errorf("expected source=user_override, got %s", policy.Sources[fieldMaxChunkBytes])
	}
}

func TestClampingHappensAfterMerge(t *testing.T) {
	tooBig := 1 << 30 // 1 GiB, far above MaxMaxChunkBytes
	overrides := &UserOverrides{MaxChunkBytes: &tooBig}

	policy := BuildPolicy(Ident{}, 0x06, nil, nil, nil, overrides)
	if policy.Tuning.MaxChunkBytes != MaxMaxChunkBytes {
		t.Errorf("expected clamp to %d, got %d", MaxMaxChunkBytes, policy.Tuning.MaxChunkBytes)
	}

	notPow2 := 5 * 1024 * 1024 // clamps fine, but not a power of two
	overrides2 := &UserOverrides{MaxChunkBytes: &notPow2}
	policy2 := BuildPolicy(Ident{}, 0x06, nil, nil, nil, overrides2)
	if policy2.Tuning.MaxChunkBytes != 4*1024*1024 {
		t.Errorf("expected floor-to-power-of-two 4MiB, got %d", policy2.Tuning.MaxChunkBytes)
	}
}

func TestBuildPolicyDeterministic(t *testing.T) {
	id := Ident{VID: 0x05ac, PID: 0x12a8}
	quirk := &QuirkEntry{Match: QuirkMatch{VID: u16p(0x05ac)}}
	quirk.Tuning.IoTimeoutMs = intPtr(9000)
	db := QuirksDB{quirk}

	a := BuildPolicy(id, 0x06, db, nil, nil, nil)
	b := BuildPolicy(id, 0x06, db, nil, nil, nil)

	if a.Tuning != b.Tuning || a.Flags != b.Flags || a.Fallbacks != b.Fallbacks {
		t.Error("BuildPolicy is not deterministic for identical inputs")
	}
}

func TestParseUserOverrides(t *testing.T) {
	u := ParseUserOverrides("maxChunkBytes=65536,disablePartialRead=true,bogusKey=x,stabilizeMs=250")

	if u.MaxChunkBytes == nil || *u.MaxChunkBytes != 65536 {
		t.Errorf("maxChunkBytes not parsed: %v", u.MaxChunkBytes)
	}
	if u.DisablePartialRead == nil || !*u.DisablePartialRead {
		t.Errorf("disablePartialRead not parsed: %v", u.DisablePartialRead)
	}
	if u.StabilizeMs == nil || *u.StabilizeMs != 250 {
		t.Errorf("stabilizeMs not parsed: %v", u.StabilizeMs)
	}
	if u.IoTimeoutMs != nil {
		t.Errorf("unset key should remain nil, got %v", u.IoTimeoutMs)
	}
}

func TestParseQuirkMatchHexFields(t *testing.T) {
	m, err := parseQuirkMatch("vid=05ac,pid=*,iface-class=06")
	if err != nil {
		t.Fatalf("parseQuirkMatch: %s", err)
	}
	if m.VID == nil || *m.VID != 0x05ac {
		t.Errorf("vid not parsed: %v", m.VID)
	}
	if m.PID != nil {
		t.Errorf("pid=* should be a wildcard (nil), got %v", m.PID)
	}
	if m.IfaceClass == nil || *m.IfaceClass != 0x06 {
		t.Errorf("iface-class not parsed: %v", m.IfaceClass)
	}
	if m.specificity() != 2 {
		t.Errorf("expected specificity 2 (vid+iface-class), got %d", m.specificity())
	}
}

func TestGlobalDefaultQuirkHasZeroSpecificity(t *testing.T) {
	m, err := parseQuirkMatch("*")
	if err != nil {
		t.Fatalf("parseQuirkMatch(*): %s", err)
	}
	if m.specificity() != 0 {
		t.Errorf("expected specificity 0 for the wildcard match, got %d", m.specificity())
	}
}
