/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * File locking -- Windows version, adapted from the host stack's
 * flock_windows.go: the same LockFileEx/UnlockFileEx calls, but reached
 * through golang.org/x/sys/windows instead of cgo, since this repo drops
 * cgo entirely (see usbbackend's choice of gousb over libusb cgo bindings).
 */

//go:build windows

package main

import (
	"os"
	"runtime"

	"golang.org/x/sys/windows"
)

// FileLock acquires an exclusive, non-blocking lock on file.
func FileLock(file *os.File) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var ovp windows.Overlapped
	err := windows.LockFileEx(
		windows.Handle(file.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		0xffffffff,
		0xffffffff,
		&ovp,
	)

	if err == nil {
		return nil
	}
	if err == windows.ERROR_LOCK_VIOLATION {
		return ErrLockIsBusy
	}
	return err
}

// FileUnlock releases a lock acquired by FileLock.
func FileUnlock(file *os.File) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var ovp windows.Overlapped
	return windows.UnlockFileEx(
		windows.Handle(file.Fd()),
		0,
		0xffffffff,
		0xffffffff,
		&ovp,
	)
}
