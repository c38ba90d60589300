/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Common paths, adapted from the host stack's paths.go
 */

package mtpconf

const (
	// PathConfDir is the path to the configuration directory.
	PathConfDir = "/etc/mtpctl"

	// PathQuirksDir is the path to the distribution-shipped quirks
	// directory, loaded before PathConfQuirksDir so a locally-installed
	// quirk file can override a stock one.
	PathQuirksDir = "/usr/share/mtpctl/quirks"

	// PathConfQuirksDir is the path to the admin-editable quirks
	// directory.
	PathConfQuirksDir = PathConfDir + "/quirks"

	// PathProgState is the path to the program state directory.
	PathProgState = "/var/lib/mtpctl"

	// PathLockDir is the path to the directory that contains lock files.
	PathLockDir = PathProgState + "/lock"

	// PathLockFile is the path to the singleton-instance lock file.
	PathLockFile = PathLockDir + "/mtpctl.lock"

	// PathProfileDir is the path to the directory where per-device
	// learned profiles are persisted.
	PathProfileDir = PathProgState + "/profiles"

	// PathCtrlSock is the path to the control socket a running daemon
	// listens on for "status" queries.
	PathCtrlSock = PathProgState + "/mtpctl.sock"
)
