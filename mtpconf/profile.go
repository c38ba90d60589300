/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Per-device learned profile persistence, adapted from the host stack's
 * devstate.go: same "load on open, save on update" shape, but keyed by
 * USB vendor/product ID rather than a DNS-SD/HTTP-port identity, and
 * carrying policy.LearnedProfile's tuning fields instead of port/name
 * allocation state.
 */

package mtpconf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mtpcore/mtptransport/policy"
	"github.com/mtpcore/mtptransport/xlog"
)

// ProfileStore manages one device's persistent learned profile on disk.
type ProfileStore struct {
	Fingerprint string // "vvvv:pppp", lowercase hex
	path        string
}

// fingerprint builds the on-disk key for a device identity. Only VID/PID
// are used: BcdDevice, interface class and DeviceInfo text vary too much
// across units of the same model to make a stable per-unit key, and
// per-model tuning is exactly what the learned profile is for.
func fingerprint(id policy.Ident) string {
	return fmt.Sprintf("%04x:%04x", id.VID, id.PID)
}

// OpenProfileStore opens (without requiring it to exist) the profile
// store for id.
func OpenProfileStore(id policy.Ident) *ProfileStore {
	fp := fingerprint(id)
	return &ProfileStore{
		Fingerprint: fp,
		path:        filepath.Join(PathProfileDir, fp+".profile"),
	}
}

// Load reads the persisted LearnedProfile, or returns nil if none has
// been saved yet (or the file is unreadable, which is logged but treated
// as "nothing learned" rather than a fatal error).
func (ps *ProfileStore) Load() *policy.LearnedProfile {
	ini, err := OpenIniFile(ps.path)
	if err != nil {
		if !os.IsNotExist(err) {
			xlog.Log.Error('!', "PROFILE LOAD %s: %s", ps.Fingerprint, err)
		}
		return nil
	}
	defer ini.Close()

	var lp policy.LearnedProfile

	for {
		rec, err := ini.Next()
		if err != nil {
			if err != io.EOF {
				xlog.Log.Error('!', "PROFILE LOAD %s: %s", ps.Fingerprint, err)
				return nil
			}
			break
		}

		if rec.Section != "learned" {
			continue
		}

		switch rec.Key {
		case "max-chunk-bytes":
			var v int64
			if err := rec.LoadSize(&v); err == nil {
				n := int(v)
				lp.MaxChunkBytes = &n
			}
		case "io-timeout-ms":
			var v uint
			if err := rec.LoadUint(&v); err == nil {
				n := int(v)
				lp.IoTimeoutMs = &n
			}
		case "handshake-timeout-ms":
			var v uint
			if err := rec.LoadUint(&v); err == nil {
				n := int(v)
				lp.HandshakeTimeoutMs = &n
			}
		case "inactivity-timeout-ms":
			var v uint
			if err := rec.LoadUint(&v); err == nil {
				n := int(v)
				lp.InactivityTimeoutMs = &n
			}
		}
	}

	return &lp
}

// Save persists lp to disk, creating PathProfileDir if necessary.
func (ps *ProfileStore) Save(lp policy.LearnedProfile) error {
	if err := os.MkdirAll(PathProfileDir, 0755); err != nil {
		return err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "; learned tuning profile for device %s\n", ps.Fingerprint)
	fmt.Fprintf(&buf, "[learned]\n")
	if lp.MaxChunkBytes != nil {
		fmt.Fprintf(&buf, "max-chunk-bytes       = %d\n", *lp.MaxChunkBytes)
	}
	if lp.IoTimeoutMs != nil {
		fmt.Fprintf(&buf, "io-timeout-ms         = %d\n", *lp.IoTimeoutMs)
	}
	if lp.HandshakeTimeoutMs != nil {
		fmt.Fprintf(&buf, "handshake-timeout-ms  = %d\n", *lp.HandshakeTimeoutMs)
	}
	if lp.InactivityTimeoutMs != nil {
		fmt.Fprintf(&buf, "inactivity-timeout-ms = %d\n", *lp.InactivityTimeoutMs)
	}

	return os.WriteFile(ps.path, buf.Bytes(), 0644)
}
