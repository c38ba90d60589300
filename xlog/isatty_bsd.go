//go:build darwin || freebsd || netbsd || openbsd

package xlog

import (
	"os"

	"golang.org/x/sys/unix"
)

// logIsAtty reports whether f is a terminal, using the BSD/Darwin termios
// ioctl rather than Linux's TCGETS.
func logIsAtty(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TIOCGETA)
	return err == nil
}
