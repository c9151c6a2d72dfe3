package casclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helpererr"
)

// RemoteError is a structured (kind, http-status, message) daemon error,
// per spec §4.A.
type RemoteError struct {
	Kind    string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error (status %d, kind %s): %s", e.Status, e.Kind, e.Message)
}

// Unwrap classifies server-side failures (5xx) as unreachable-daemon
// errors; 4xx responses are protocol/request problems, not outages, and
// stay unwrapped.
func (e *RemoteError) Unwrap() error {
	if e.Status >= 500 {
		return helpererr.ErrDaemonUnreachable
	}
	return nil
}

func parseError(status int, body []byte) error {
	var daemonErr struct {
		Message string `json:"Message"`
		Type    string `json:"Type"`
	}
	if err := json.Unmarshal(body, &daemonErr); err == nil && strings.TrimSpace(daemonErr.Message) != "" {
		return &RemoteError{Kind: daemonErr.Type, Status: status, Message: daemonErr.Message}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("http status %d", status)
	}
	return &RemoteError{Status: status, Message: msg}
}
