// Package helpererr defines the error taxonomy used across the helper.
//
// Most kinds are fatal by convention (the caller is expected to log and
// exit non-zero); RefRejected is the one kind that is reported back over
// the protocol channel and does not terminate the process.
package helpererr

import "errors"

var (
	// ErrConfig covers a missing or malformed configuration file.
	ErrConfig = errors.New("config error")
	// ErrDaemonUnreachable covers connection failures and a non-200 version probe.
	ErrDaemonUnreachable = errors.New("daemon unreachable")
	// ErrDaemonTimeout covers a request read-timeout.
	ErrDaemonTimeout = errors.New("daemon timeout")
	// ErrProtocol covers an unrecognized remote-helper driver command.
	ErrProtocol = errors.New("protocol error")
	// ErrHashMismatch covers a downloaded object whose computed oid disagrees with its path.
	ErrHashMismatch = errors.New("hash mismatch")
	// ErrRefRejected covers a non-fast-forward, stale, or delete-current-branch push.
	ErrRefRejected = errors.New("ref rejected")
	// ErrPluginFailure covers update-server-info/set-remote-url failing after a successful upload.
	ErrPluginFailure = errors.New("plumbing failure")
)
