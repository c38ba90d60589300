/* mtptransport - PTP-over-USB transport core for an MTP client library
 *
 * Common errors for the mtpctl CLI, adapted from the host stack's err.go.
 */

package main

import "errors"

// Error values for mtpctl itself; errors that originate inside the
// transport core are mtperr values and are not duplicated here.
var (
	ErrLockIsBusy = errors.New("lock is busy")
	ErrNoDaemon   = errors.New("mtpctl daemon not running")
	ErrAccess     = errors.New("access denied")
)
