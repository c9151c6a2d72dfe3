// Package refdir reads the remote's refs/ subtree and HEAD pointer
// (spec §4.D). Grounded on pkg/repo/refs.go's ListRefs (a directory
// walk building a name -> hash map), reimplemented over the CAS
// client's recursive ls instead of a local filesystem walk.
package refdir

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/ipfs-shipyard/git-remote-ipfs/internal/casclient"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/objectenc"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/vcslog"
)

// Reader lists references and symbolic pointers under one remote root.
type Reader struct {
	client   *casclient.Client
	ipfsPath string
}

// New builds a Reader rooted at ipfsPath (the discovery-resolved
// /ipns/<id> or raw CID).
func New(client *casclient.Client, ipfsPath string) *Reader {
	return &Reader{client: client, ipfsPath: ipfsPath}
}

// ReferenceNames recursively lists prefix/ and returns a map from full
// ref name (e.g. "refs/heads/main") to the oid stored in its file.
// A directory entry (type=1, size=0) is recursed into; a file entry
// (type=2) is read and parsed as a bare oid. Anything else is logged
// at INFO and skipped, per spec §4.D.
func (r *Reader) ReferenceNames(ctx context.Context, prefix string) (map[string]objectenc.OID, error) {
	out := make(map[string]objectenc.OID)
	if err := r.walk(ctx, prefix, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reader) walk(ctx context.Context, prefix string, out map[string]objectenc.OID) error {
	entries, err := r.client.Ls(ctx, path.Join(r.ipfsPath, prefix))
	if err != nil {
		return fmt.Errorf("list %s: %w", prefix, err)
	}

	for _, e := range entries {
		childPath := path.Join(prefix, e.Name)
		switch {
		case e.Type == casclient.EntryDir && e.Size == 0:
			if err := r.walk(ctx, childPath, out); err != nil {
				return err
			}
		case e.Type == casclient.EntryFile:
			body, err := r.client.Cat(ctx, path.Join(r.ipfsPath, childPath))
			if err != nil {
				return fmt.Errorf("read ref %s: %w", childPath, err)
			}
			oid := objectenc.OID(strings.TrimSpace(string(body)))
			if err := objectenc.ValidateOID(oid); err != nil {
				vcslog.Infof("refdir: skipping %s, not a valid oid: %v", childPath, err)
				continue
			}
			out[childPath] = oid
		default:
			vcslog.Infof("refdir: skipping %s, unrecognized entry (type=%d size=%d)", childPath, e.Type, e.Size)
		}
	}
	return nil
}

// ReadSymbolicReference reads name (e.g. "HEAD") and returns the
// target ref name after "ref: " with trailing whitespace trimmed.
// Returns ("", nil) if the entry is absent or does not follow the
// symbolic-ref format, per spec §4.D.
func (r *Reader) ReadSymbolicReference(ctx context.Context, name string) (string, error) {
	full := path.Join(r.ipfsPath, name)
	if _, err := r.client.Ls(ctx, full); err != nil {
		return "", nil
	}

	body, err := r.client.Cat(ctx, full)
	if err != nil {
		return "", nil
	}
	text := strings.TrimRight(string(body), "\r\n")
	const symPrefix = "ref: "
	if !strings.HasPrefix(text, symPrefix) {
		return "", nil
	}
	return strings.TrimSpace(strings.TrimPrefix(text, symPrefix)), nil
}
