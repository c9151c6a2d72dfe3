// Package discovery classifies a remote <id> as a mutable IPNS name or
// an immutable CID, and reports reachability, per spec §4.C. Grounded
// on pkg/remote/client.go's call-inspect-status-classify shape,
// specialized to the two-step /ipns/<id> then <id> probe sequence.
package discovery

import (
	"context"
	"fmt"

	"github.com/ipfs-shipyard/git-remote-ipfs/internal/casclient"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helpererr"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/vcslog"
)

// Result is the classification of one remote <id>.
type Result struct {
	IsMutableName bool
	IsAccessible  bool
	IPFSPath      string
}

// Probe implements spec §4.C: try /ipns/<id> first, then <id> raw, and
// degrade gracefully (never fatal) when both fail — only push/fetch
// timeouts are fatal, discovery timeouts fall through to the next
// probe or to unreachable.
func Probe(ctx context.Context, client *casclient.Client, id string) Result {
	ipnsPath := "/ipns/" + id
	if _, err := client.Ls(ctx, ipnsPath); err == nil {
		return Result{IsMutableName: true, IsAccessible: true, IPFSPath: ipnsPath}
	} else {
		vcslog.Debugf("discovery: /ipns/%s probe failed: %v", id, err)
	}

	if _, err := client.Ls(ctx, id); err == nil {
		return Result{IsAccessible: true, IPFSPath: id}
	} else {
		vcslog.Debugf("discovery: %s probe failed: %v", id, err)
	}

	return Result{IsAccessible: false, IPFSPath: id}
}

// RequireAccessible converts an inaccessible Result into the helper's
// fatal DaemonUnreachable error; an accessible Result passes through.
func RequireAccessible(r Result) error {
	if !r.IsAccessible {
		return fmt.Errorf("remote %s is not accessible: %w", r.IPFSPath, helpererr.ErrDaemonUnreachable)
	}
	return nil
}
