/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * The mtpctl command, adapted from the host stack's main.go: the same
 * run-mode dispatch and single-instance lock discipline, but driving the
 * transport core's probe/policy/link pipeline over attached MTP devices
 * instead of an HTTP reverse proxy over attached printers.
 */

package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/mtpcore/mtptransport/mtpconf"
	"github.com/mtpcore/mtptransport/probe"
	"github.com/mtpcore/mtptransport/usbbackend"
	"github.com/mtpcore/mtptransport/xlog"
)

const usageText = `Usage:
    %s mode [options]

Modes are:
    watch       - run forever, automatically discover MTP devices and
                  open a Link to each one
    udev        - like watch, but exit when the last MTP device is
                  disconnected
    debug       - logs duplicated on console, -bg option is ignored
    check       - probe attached USB devices, print candidate interfaces
                  and exit
    status      - print mtpctl status and exit

Options are:
    -bg         - run in background (ignored in debug mode)
`

// RunMode represents the program run mode.
type RunMode int

// Run modes.
const (
	RunDefault RunMode = iota
	RunWatch
	RunUdev
	RunDebug
	RunCheck
	RunStatus
)

func (m RunMode) String() string {
	switch m {
	case RunDefault:
		return "default"
	case RunWatch:
		return "watch"
	case RunUdev:
		return "udev"
	case RunDebug:
		return "debug"
	case RunCheck:
		return "check"
	case RunStatus:
		return "status"
	}
	return fmt.Sprintf("unknown (%d)", int(m))
}

// RunParameters represents the program run parameters.
type RunParameters struct {
	Mode       RunMode
	Background bool
}

func usage() {
	fmt.Printf(usageText, os.Args[0])
	os.Exit(0)
}

func usageError(format string, args ...interface{}) {
	if format != "" {
		fmt.Printf(format+"\n", args...)
	}
	fmt.Printf("Try %s -h for more information\n", os.Args[0])
	os.Exit(1)
}

// parseArgv parses program parameters. In a case of usage error, it
// prints an error message and exits, matching main.go's hand-rolled
// parser style (no flag package).
func parseArgv() (params RunParameters) {
	defer func() {
		if v := recover(); v != nil {
			xlog.Log.Panic(v)
		}
	}()

	params.Mode = RunDebug

	modes := 0
	for _, arg := range os.Args[1:] {
		switch arg {
		case "-h", "-help", "--help":
			usage()
		case "watch":
			params.Mode = RunWatch
			modes++
		case "udev":
			params.Mode = RunUdev
			modes++
		case "debug":
			params.Mode = RunDebug
			modes++
		case "check":
			params.Mode = RunCheck
			modes++
		case "status":
			params.Mode = RunStatus
			modes++
		case "-bg":
			params.Background = true
		default:
			usageError("Invalid argument %s", arg)
		}
	}

	if modes > 1 {
		usageError("Conflicting run modes")
	}

	if params.Mode == RunDebug {
		params.Background = false
	}

	return
}

// printStatus prints the status of a running mtpctl daemon, if any.
func printStatus() {
	text, err := StatusRetrieve()
	if err != nil {
		xlog.InitLog.Info(0, "%s", err)
		return
	}

	text = bytes.Trim(text, "\n")
	lines := bytes.Split(text, []byte("\n"))
	for len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}

	for _, line := range lines {
		xlog.InitLog.Info(0, "%s", line)
	}
}

// runCheck lists every attached USB device and prints the best-scoring
// candidate interface from its configuration descriptor (no probe
// transaction is sent), mirroring main.go's RunCheck device listing.
func runCheck() {
	xlog.InitLog.Info(0, "Configuration files: OK")

	backend := usbbackend.NewGousbBackend()
	defer backend.Close()

	handles, err := backend.ListDevices()
	if err != nil {
		xlog.InitLog.Info(0, "Can't read list of USB devices: %s", err)
		return
	}
	if len(handles) == 0 {
		xlog.InitLog.Info(0, "No USB devices found")
		return
	}

	xlog.InitLog.Info(0, "USB devices:")
	xlog.InitLog.Info(0, " Num  Device              Vndr:Prod  Iface  Score")
	for i, dh := range handles {
		id := dh.Identity()
		cfg, err := dh.ActiveConfigDescriptor()
		if err != nil {
			xlog.InitLog.Info(0, "%3d. %s  %4.4x:%.4x  (config descriptor: %s)",
				i+1, id.DeviceID(), id.VID, id.PID, err)
			continue
		}

		candidates := probe.EnumerateCandidates(cfg)
		if len(candidates) == 0 {
			xlog.InitLog.Info(0, "%3d. %s  %4.4x:%.4x  (no PTP-capable interface)",
				i+1, id.DeviceID(), id.VID, id.PID)
			continue
		}

		best := candidates[0]
		xlog.InitLog.Info(0, "%3d. %s  %4.4x:%.4x  %5d  %5d",
			i+1, id.DeviceID(), id.VID, id.PID, best.IfaceNum, best.Score)
	}
}

func main() {
	var err error

	params := parseArgv()

	err = mtpconf.ConfLoad()
	xlog.InitLog.Check(err)

	if params.Mode != RunDebug && params.Mode != RunCheck && params.Mode != RunStatus {
		xlog.Console.ToNowhere()
	} else if mtpconf.Conf.ColorConsole {
		xlog.Console.ToColorConsole()
	}

	xlog.Log.SetLevels(mtpconf.Conf.LogMain)
	xlog.Console.SetLevels(mtpconf.Conf.LogConsole)
	xlog.Log.Cc(mtpconf.Conf.LogConsole, xlog.Console)

	if params.Mode == RunCheck {
		runCheck()
		os.Exit(0)
	}

	if params.Mode == RunStatus {
		printStatus()
		os.Exit(0)
	}

	if params.Background {
		err = Daemon()
		xlog.InitLog.Check(err)
		os.Exit(0)
	}

	os.MkdirAll(mtpconf.PathLockDir, 0755)
	lock, err := os.OpenFile(mtpconf.PathLockFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	xlog.InitLog.Check(err)
	defer lock.Close()

	err = FileLock(lock)
	if err == ErrLockIsBusy {
		if params.Mode == RunUdev {
			os.Exit(0)
		}
		xlog.InitLog.Exit(0, "mtpctl already running")
	}
	xlog.InitLog.Check(err)

	xlog.Log.Info(' ', "===============================")
	xlog.Log.Info(' ', "mtpctl started in %q mode, pid=%d", params.Mode, os.Getpid())
	defer xlog.Log.Info(' ', "mtpctl finished")

	if params.Mode != RunDebug {
		err = CloseStdInOutErr()
		xlog.InitLog.Check(err)
	}

	err = CtrlsockStart()
	xlog.Log.Check(err)
	defer CtrlsockStop()

	backend := usbbackend.NewGousbBackend()
	defer backend.Close()

	registry := NewRegistry(backend)
	globalRegistry = registry
	defer registry.CloseAll()

	for {
		_, removed := registry.Rescan()

		if params.Mode == RunUdev && len(registry.Snapshot()) == 0 && len(removed) > 0 {
			break
		}

		time.Sleep(2 * time.Second)
	}
}
