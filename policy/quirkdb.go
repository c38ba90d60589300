/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Static quirk database
 */

package policy

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// QuirkMatch is the identity pattern a quirk entry matches against.
// A nil field is a wildcard and does not count towards specificity.
type QuirkMatch struct {
	VID             *uint16
	PID             *uint16
	BcdDevice       *uint16
	IfaceClass      *uint8
	IfaceSubclass   *uint8
	IfaceProtocol   *uint8
	DeviceInfoRegex *regexp.Regexp
}

// specificity returns the count of non-wildcard match fields, used to
// break ties between quirk entries the same way quirks.go's
// prioritizeAndSave breaks ties between Quirk values: the more specific
// match wins.
func (m *QuirkMatch) specificity() int {
	n := 0
	if m.VID != nil {
		n++
	}
	if m.PID != nil {
		n++
	}
	if m.BcdDevice != nil {
		n++
	}
	if m.IfaceClass != nil {
		n++
	}
	if m.IfaceSubclass != nil {
		n++
	}
	if m.IfaceProtocol != nil {
		n++
	}
	if m.DeviceInfoRegex != nil {
		n++
	}
	return n
}

// Ident is the minimal identity a quirk entry is matched against.
type Ident struct {
	VID, PID             uint16
	BcdDevice            uint16
	IfaceClass           uint8
	IfaceSubclass        uint8
	IfaceProtocol        uint8
	DeviceInfoText       string // manufacturer+model+serial, for device_info_regex
}

// matches reports whether id satisfies every non-wildcard field of m.
func (m *QuirkMatch) matches(id Ident) bool {
	if m.VID != nil && *m.VID != id.VID {
		return false
	}
	if m.PID != nil && *m.PID != id.PID {
		return false
	}
	if m.BcdDevice != nil && *m.BcdDevice != id.BcdDevice {
		return false
	}
	if m.IfaceClass != nil && *m.IfaceClass != id.IfaceClass {
		return false
	}
	if m.IfaceSubclass != nil && *m.IfaceSubclass != id.IfaceSubclass {
		return false
	}
	if m.IfaceProtocol != nil && *m.IfaceProtocol != id.IfaceProtocol {
		return false
	}
	if m.DeviceInfoRegex != nil && !m.DeviceInfoRegex.MatchString(id.DeviceInfoText) {
		return false
	}
	return true
}

// QuirkEntry is one [section] of a quirk file: an identity pattern plus
// whatever subset of flags/tuning/fallback fields it overrides.
type QuirkEntry struct {
	Match     QuirkMatch
	Origin    string
	LoadOrder int

	Flags     quirkFlagOverrides
	Tuning    quirkTuningOverrides
	Fallbacks quirkFallbackOverrides
}

type quirkFlagOverrides struct {
	SupportsGetObjectPropList       *bool
	SupportsPartialRead64           *bool
	SupportsPartialWrite            *bool
	RequiresKernelDetach            *bool
	ResetOnOpen                     *bool
	DisableEventPump                *bool
	NeedsShortReads                 *bool
	SkipPtpReset                    *bool
	RequiresSessionBeforeDeviceInfo *bool
	NeedsLongerOpenTimeout          *bool
}

type quirkTuningOverrides struct {
	MaxChunkBytes        *int
	IoTimeoutMs          *int
	HandshakeTimeoutMs   *int
	InactivityTimeoutMs  *int
	OverallDeadlineMs    *int
	StabilizeMs          *int
	PostClaimStabilizeMs *int
}

type quirkFallbackOverrides struct {
	Enumeration *EnumerationStrategy
	Read        *ReadStrategy
	Write       *WriteStrategy
}

// QuirksDB is the in-memory set of quirk entries, loaded from a directory
// of INI-style files, ported from quirks.go's QuirksDb/LoadQuirksSet.
type QuirksDB []*QuirkEntry

// LoadQuirksDB loads every "*.conf" file found (non-recursively) in each
// of dirs, in order. A missing directory is not an error.
func LoadQuirksDB(dirs ...string) (QuirksDB, error) {
	db := QuirksDB{}
	loadOrder := 0

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".conf") {
				continue
			}

			n, err := db.loadFile(filepath.Join(dir, e.Name()), loadOrder)
			if err != nil {
				return nil, err
			}
			loadOrder = n
		}
	}

	return db, nil
}

// loadFile parses one quirk file, in the same [section]/key=value INI
// syntax as quirks.go, and appends its entries to db.
func (db *QuirksDB) loadFile(path string, loadOrder int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return loadOrder, err
	}
	defer f.Close()

	var cur *QuirkEntry
	lineNo := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		origin := fmt.Sprintf("%s:%d", path, lineNo)

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section := line[1 : len(line)-1]
			match, err := parseQuirkMatch(section)
			if err != nil {
				return loadOrder, fmt.Errorf("%s: %s", origin, err)
			}

			cur = &QuirkEntry{Match: match, Origin: origin, LoadOrder: loadOrder}
			loadOrder++
			*db = append(*db, cur)
			continue
		}

		if cur == nil {
			return loadOrder, fmt.Errorf("%s: key=value outside of any [section]", origin)
		}

		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return loadOrder, fmt.Errorf("%s: expected 'key = value'", origin)
		}

		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])

		if err := cur.setField(key, value); err != nil {
			return loadOrder, fmt.Errorf("%s: %s", origin, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return loadOrder, err
	}

	return loadOrder, nil
}

// parseQuirkMatch parses a section header of the form
// "vid=05ac,pid=*,iface-class=06" into a QuirkMatch. A bare "*" section is
// the all-wildcard default, matching quirks.go's handling of "[*]".
func parseQuirkMatch(section string) (QuirkMatch, error) {
	var m QuirkMatch

	if section == "*" || section == "" {
		return m, nil
	}

	for _, part := range strings.Split(section, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return m, fmt.Errorf("malformed match field %q", part)
		}

		key := strings.TrimSpace(part[:eq])
		value := strings.TrimSpace(part[eq+1:])

		if value == "*" {
			continue
		}

		switch key {
		case "vid":
			v, err := strconv.ParseUint(value, 16, 16)
			if err != nil {
				return m, fmt.Errorf("vid: %s", err)
			}
			u := uint16(v)
			m.VID = &u
		case "pid":
			v, err := strconv.ParseUint(value, 16, 16)
			if err != nil {
				return m, fmt.Errorf("pid: %s", err)
			}
			u := uint16(v)
			m.PID = &u
		case "bcd-device":
			v, err := strconv.ParseUint(value, 16, 16)
			if err != nil {
				return m, fmt.Errorf("bcd-device: %s", err)
			}
			u := uint16(v)
			m.BcdDevice = &u
		case "iface-class":
			v, err := strconv.ParseUint(value, 16, 8)
			if err != nil {
				return m, fmt.Errorf("iface-class: %s", err)
			}
			u := uint8(v)
			m.IfaceClass = &u
		case "iface-subclass":
			v, err := strconv.ParseUint(value, 16, 8)
			if err != nil {
				return m, fmt.Errorf("iface-subclass: %s", err)
			}
			u := uint8(v)
			m.IfaceSubclass = &u
		case "iface-protocol":
			v, err := strconv.ParseUint(value, 16, 8)
			if err != nil {
				return m, fmt.Errorf("iface-protocol: %s", err)
			}
			u := uint8(v)
			m.IfaceProtocol = &u
		case "device-info-regex":
			re, err := regexp.Compile(value)
			if err != nil {
				return m, fmt.Errorf("device-info-regex: %s", err)
			}
			m.DeviceInfoRegex = re
		default:
			return m, fmt.Errorf("unknown match field %q", key)
		}
	}

	return m, nil
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

// setField parses one "key = value" quirk assignment into cur's override
// structs. Unknown keys are rejected (the static DB is first-party, unlike
// the learned profile or user overrides, which silently drop unknown keys).
func (q *QuirkEntry) setField(key, value string) error {
	b, isBool := parseBool(value)

	switch key {
	case "supports-get-object-prop-list":
		return q.setBool(&q.Flags.SupportsGetObjectPropList, b, isBool)
	case "supports-partial-read-64":
		return q.setBool(&q.Flags.SupportsPartialRead64, b, isBool)
	case "supports-partial-write":
		return q.setBool(&q.Flags.SupportsPartialWrite, b, isBool)
	case "requires-kernel-detach":
		return q.setBool(&q.Flags.RequiresKernelDetach, b, isBool)
	case "reset-on-open":
		return q.setBool(&q.Flags.ResetOnOpen, b, isBool)
	case "disable-event-pump":
		return q.setBool(&q.Flags.DisableEventPump, b, isBool)
	case "needs-short-reads":
		return q.setBool(&q.Flags.NeedsShortReads, b, isBool)
	case "skip-ptp-reset":
		return q.setBool(&q.Flags.SkipPtpReset, b, isBool)
	case "requires-session-before-device-info":
		return q.setBool(&q.Flags.RequiresSessionBeforeDeviceInfo, b, isBool)
	case "needs-longer-open-timeout":
		return q.setBool(&q.Flags.NeedsLongerOpenTimeout, b, isBool)

	case "max-chunk-bytes":
		return q.setInt(&q.Tuning.MaxChunkBytes, value)
	case "io-timeout-ms":
		return q.setInt(&q.Tuning.IoTimeoutMs, value)
	case "handshake-timeout-ms":
		return q.setInt(&q.Tuning.HandshakeTimeoutMs, value)
	case "inactivity-timeout-ms":
		return q.setInt(&q.Tuning.InactivityTimeoutMs, value)
	case "overall-deadline-ms":
		return q.setInt(&q.Tuning.OverallDeadlineMs, value)
	case "stabilize-ms":
		return q.setInt(&q.Tuning.StabilizeMs, value)
	case "post-claim-stabilize-ms":
		return q.setInt(&q.Tuning.PostClaimStabilizeMs, value)

	case "enumeration":
		return q.setEnumeration(value)
	case "read":
		return q.setRead(value)
	case "write":
		return q.setWrite(value)
	}

	return fmt.Errorf("unknown quirk key %q", key)
}

func parseBool(value string) (bool, bool) {
	switch value {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func (q *QuirkEntry) setBool(dst **bool, v, ok bool) error {
	if !ok {
		return fmt.Errorf("must be true or false")
	}
	*dst = boolPtr(v)
	return nil
}

func (q *QuirkEntry) setInt(dst **int, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%q: invalid integer", value)
	}
	*dst = intPtr(v)
	return nil
}

func (q *QuirkEntry) setEnumeration(value string) error {
	var v EnumerationStrategy
	switch value {
	case "proplist5":
		v = EnumProplist5
	case "proplist3":
		v = EnumProplist3
	case "handles-then-info":
		v = EnumHandlesThenInfo
	default:
		return fmt.Errorf("must be proplist5, proplist3 or handles-then-info")
	}
	q.Fallbacks.Enumeration = &v
	return nil
}

func (q *QuirkEntry) setRead(value string) error {
	var v ReadStrategy
	switch value {
	case "partial64":
		v = ReadPartial64
	case "partial32":
		v = ReadPartial32
	case "whole-object":
		v = ReadWholeObject
	default:
		return fmt.Errorf("must be partial64, partial32 or whole-object")
	}
	q.Fallbacks.Read = &v
	return nil
}

func (q *QuirkEntry) setWrite(value string) error {
	var v WriteStrategy
	switch value {
	case "partial":
		v = WritePartial
	case "whole-object":
		v = WriteWholeObject
	default:
		return fmt.Errorf("must be partial or whole-object")
	}
	q.Fallbacks.Write = &v
	return nil
}

// Match returns every entry in db whose Match pattern is satisfied by id,
// in ascending LoadOrder (the order BuildPolicy's quirk layer expects, so that
// equal-specificity entries loaded later win ties, mirroring
// quirks.go's prioritizeAndSave).
func (db QuirksDB) Match(id Ident) []*QuirkEntry {
	var out []*QuirkEntry
	for _, e := range db {
		if e.Match.matches(id) {
			out = append(out, e)
		}
	}
	return out
}
