/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Control socket handler, adapted from the host stack's ctrlsock.go:
 * mtpctl runs a tiny HTTP server on top of a Unix domain control socket,
 * used only to ask the running daemon for its current device status.
 */

package main

import (
	"log"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/mtpcore/mtptransport/mtpconf"
	"github.com/mtpcore/mtptransport/xlog"
)

var (
	// ctrlsockAddr is the control socket address.
	ctrlsockAddr = &net.UnixAddr{Name: mtpconf.PathCtrlSock, Net: "unix"}

	ctrlsockServer = http.Server{
		Handler:  http.HandlerFunc(ctrlsockHandler),
		ErrorLog: log.New(xlog.Log.LineWriter(xlog.LogError, '!'), "", 0),
	}
)

// ctrlsockHandler handles HTTP requests that come over the control
// socket. The only route is GET /status.
func ctrlsockHandler(w http.ResponseWriter, r *http.Request) {
	xlog.Log.Debug(' ', "ctrlsock: %s %s", r.Method, r.URL)

	defer func() {
		if v := recover(); v != nil {
			xlog.Log.Error('!', "ctrlsock: panic: %v", v)
		}
	}()

	if r.Method != "GET" {
		http.Error(w, r.Method+": method not supported", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/status" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(registryStatusText())
}

// CtrlsockStart starts the control socket server.
func CtrlsockStart() error {
	xlog.Log.Debug(' ', "ctrlsock: listening at %q", mtpconf.PathCtrlSock)

	os.Remove(mtpconf.PathCtrlSock)

	listener, err := net.ListenUnix("unix", ctrlsockAddr)
	if err != nil {
		return err
	}

	os.Chmod(mtpconf.PathCtrlSock, 0777)

	go func() {
		ctrlsockServer.Serve(listener)
	}()

	return nil
}

// CtrlsockStop stops the control socket server.
func CtrlsockStop() {
	xlog.Log.Debug(' ', "ctrlsock: shutdown")
	ctrlsockServer.Close()
}

// CtrlsockDial connects to the control socket of a running mtpctl daemon.
func CtrlsockDial() (net.Conn, error) {
	conn, err := net.DialUnix("unix", nil, ctrlsockAddr)
	if err == nil {
		return conn, err
	}

	if neterr, ok := err.(*net.OpError); ok {
		if syserr, ok := neterr.Err.(*os.SyscallError); ok {
			switch syserr.Err {
			case syscall.ECONNREFUSED, syscall.ENOENT:
				err = ErrNoDaemon
			case syscall.EACCES, syscall.EPERM:
				err = ErrAccess
			}
		}
	}

	return conn, err
}
