/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Program configuration, adapted from the host stack's conf.go: the
 * network/DNS-SD sections have no MTP analogue, so they are replaced by
 * a [tuning] section feeding the keys policy.ParseUserOverrides
 * accepts, plus the quirks directory list.
 */

package mtpconf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mtpcore/mtptransport/policy"
	"github.com/mtpcore/mtptransport/xlog"
)

// ConfFileName is the name of the mtpctl configuration file.
const ConfFileName = "mtpctl.conf"

// Configuration represents a program configuration.
type Configuration struct {
	LogDevice         xlog.LogLevel // Per-device LogLevel mask
	LogMain           xlog.LogLevel // Main log LogLevel mask
	LogConsole        xlog.LogLevel // Console LogLevel mask
	LogMaxFileSize    int64         // Maximum log file size
	LogMaxBackupFiles uint          // Count of files preserved during rotation
	ColorConsole      bool          // Enable ANSI colors on console
	Tuning            policy.UserOverrides
	Quirks            policy.QuirksDB
}

// Conf contains a global instance of program configuration.
var Conf = Configuration{
	LogDevice:         xlog.LogDebug,
	LogMain:           xlog.LogDebug,
	LogConsole:        xlog.LogInfo,
	LogMaxFileSize:    256 * 1024,
	LogMaxBackupFiles: 5,
	ColorConsole:      true,
}

// ConfLoad loads the program configuration.
func ConfLoad() error {
	exepath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("conf: %s", err)
	}
	exepath = filepath.Dir(exepath)

	files := []string{
		filepath.Join(PathConfDir, ConfFileName),
		filepath.Join(exepath, ConfFileName),
	}

	for _, file := range files {
		if err := confLoadInternal(file); err != nil {
			return fmt.Errorf("conf: %s", err)
		}
	}

	quirksDirs := []string{
		PathQuirksDir,
		PathConfQuirksDir,
		filepath.Join(exepath, "mtpctl-quirks"),
	}

	Conf.Quirks, err = policy.LoadQuirksDB(quirksDirs...)
	if err != nil {
		return fmt.Errorf("conf: %s", err)
	}

	return nil
}

func confLoadInternal(path string) error {
	ini, err := OpenIniFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer ini.Close()

	for {
		rec, err := ini.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		switch rec.Section {
		case "logging":
			switch rec.Key {
			case "device-log":
				err = confLoadLogLevelKey(&Conf.LogDevice, rec)
			case "main-log":
				err = confLoadLogLevelKey(&Conf.LogMain, rec)
			case "console-log":
				err = confLoadLogLevelKey(&Conf.LogConsole, rec)
			case "console-color":
				err = rec.LoadNamedBool(&Conf.ColorConsole, "disable", "enable")
			case "max-file-size":
				err = rec.LoadSize(&Conf.LogMaxFileSize)
			case "max-backup-files":
				err = rec.LoadUint(&Conf.LogMaxBackupFiles)
			}
		case "tuning":
			confLoadTuningKey(rec)
		}

		if err != nil {
			return err
		}
	}
}

// confLoadTuningKey folds one [tuning] key into Conf.Tuning, reusing the
// "key=value,key=value" pair parser policy.ParseUserOverrides so the
// [tuning] section accepts exactly the user-override keys.
func confLoadTuningKey(rec *IniRecord) {
	pair := rec.Key + "=" + rec.Value
	parsed := policy.ParseUserOverrides(pair)

	if parsed.MaxChunkBytes != nil {
		Conf.Tuning.MaxChunkBytes = parsed.MaxChunkBytes
	}
	if parsed.IoTimeoutMs != nil {
		Conf.Tuning.IoTimeoutMs = parsed.IoTimeoutMs
	}
	if parsed.HandshakeTimeoutMs != nil {
		Conf.Tuning.HandshakeTimeoutMs = parsed.HandshakeTimeoutMs
	}
	if parsed.InactivityTimeoutMs != nil {
		Conf.Tuning.InactivityTimeoutMs = parsed.InactivityTimeoutMs
	}
	if parsed.OverallDeadlineMs != nil {
		Conf.Tuning.OverallDeadlineMs = parsed.OverallDeadlineMs
	}
	if parsed.StabilizeMs != nil {
		Conf.Tuning.StabilizeMs = parsed.StabilizeMs
	}
	if parsed.DisablePartialRead != nil {
		Conf.Tuning.DisablePartialRead = parsed.DisablePartialRead
	}
	if parsed.DisablePartialWrite != nil {
		Conf.Tuning.DisablePartialWrite = parsed.DisablePartialWrite
	}
}

func confLoadLogLevelKey(out *xlog.LogLevel, rec *IniRecord) error {
	mask, err := xlog.ParseLevel(rec.Value)
	if err != nil {
		return fmt.Errorf("%s: %s", rec.Key, err)
	}
	*out = mask
	return nil
}
