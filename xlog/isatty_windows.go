//go:build windows

package xlog

import "os"

// logIsAtty always reports false on Windows: the host stack never shipped
// a Windows color-console path either (logger_unix.go was unix-only
// there too), so ToColorConsole degrades to plain ToConsole.
func logIsAtty(f *os.File) bool {
	return false
}
