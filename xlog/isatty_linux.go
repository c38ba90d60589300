//go:build linux

package xlog

import (
	"os"

	"golang.org/x/sys/unix"
)

// logIsAtty reports whether f is a terminal. Ported from the host stack's
// cgo isatty() call; rewritten against golang.org/x/sys/unix so this
// package stays pure Go end to end, matching the rest of this repository's
// choice of gousb over libusb's cgo bindings.
func logIsAtty(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}
