/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Status retrieval over the control socket, adapted from the host
 * stack's status.go: an http.Client whose Transport dials the control
 * socket instead of TCP, fetching the same /status route ctrlsock.go
 * serves.
 */

package main

import (
	"io"
	"net"
	"net/http"
)

// StatusRetrieve connects to the running mtpctl daemon, retrieves its
// status and returns it as printable text.
func StatusRetrieve() ([]byte, error) {
	t := &http.Transport{
		Dial: func(network, addr string) (net.Conn, error) {
			return CtrlsockDial()
		},
	}

	c := &http.Client{Transport: t}

	rsp, err := c.Get("http://localhost/status")
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()

	return io.ReadAll(rsp.Body)
}
