// Package transfer implements the fetch and push engines (spec §4.E,
// §4.F): closure-walk download/upload over the CAS client, the VCS
// plumbing gateway, and the reference directory reader. Grounded on
// pkg/remote/sync.go's FetchIntoStore (closure-walk loop) and
// CollectObjectsForPush (stack-based DFS with a stop-set), and
// pkg/object/reachable.go's per-kind reference enumeration.
package transfer

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/ipfs-shipyard/git-remote-ipfs/internal/casclient"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helpererr"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/objectenc"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/vcsgw"
)

// gitlinkMode is the tree-entry mode denoting a submodule reference;
// its target oid is a commit in a foreign repository and is skipped
// during both fetch traversal and push collection (spec §4.E, §4.F).
const gitlinkMode = "160000"

// Fetcher downloads the transitive closure of requested oids from one
// remote root and inserts them into the local VCS store.
type Fetcher struct {
	client   *casclient.Client
	gateway  *vcsgw.Gateway
	ipfsPath string
}

// NewFetcher builds a Fetcher rooted at ipfsPath.
func NewFetcher(client *casclient.Client, gateway *vcsgw.Gateway, ipfsPath string) *Fetcher {
	return &Fetcher{client: client, gateway: gateway, ipfsPath: ipfsPath}
}

// FetchClosure implements spec §4.E: a LIFO download_queue seeded with
// requested, with the empty-tree oid special-cased (materialized
// locally by hash-write if absent, never downloaded).
func (f *Fetcher) FetchClosure(ctx context.Context, requested []objectenc.OID) error {
	queue := append([]objectenc.OID(nil), requested...)
	visited := make(map[objectenc.OID]bool, len(requested)*4)

	for len(queue) > 0 {
		oid := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		if visited[oid] {
			continue
		}
		visited[oid] = true

		if err := f.fetchOne(ctx, oid); err != nil {
			return err
		}

		children, err := f.references(ctx, oid)
		if err != nil {
			return err
		}
		queue = append(queue, children...)
	}
	return nil
}

// fetchOne ensures oid is present locally, downloading and verifying
// it first if necessary.
func (f *Fetcher) fetchOne(ctx context.Context, oid objectenc.OID) error {
	if oid == objectenc.EmptyTreeOID {
		if f.gateway.Exists(ctx, oid) {
			return nil
		}
		written, err := f.gateway.HashWrite(ctx, objectenc.KindTree, nil)
		if err != nil {
			return fmt.Errorf("materialize empty tree: %w", err)
		}
		if written != oid {
			return fmt.Errorf("%w: materialized empty tree as %s, want %s", helpererr.ErrHashMismatch, written, oid)
		}
		return nil
	}

	if f.gateway.Exists(ctx, oid) {
		return nil
	}

	remotePath := path.Join(f.ipfsPath, objectenc.Path(oid))
	compressed, err := f.client.Cat(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("download %s: %w", oid, err)
	}

	kind, payload, err := objectenc.DecodeObject(compressed)
	if err != nil {
		return fmt.Errorf("decode %s: %w", oid, err)
	}

	written, err := f.gateway.HashWrite(ctx, kind, payload)
	if err != nil {
		return fmt.Errorf("hash-write %s: %w", oid, err)
	}
	if written != oid {
		return fmt.Errorf("%w: downloaded object hashed to %s, expected %s", helpererr.ErrHashMismatch, written, oid)
	}
	return nil
}

// references reads oid locally and enumerates the oids it points at,
// per spec §4.E's per-kind traversal rules.
func (f *Fetcher) references(ctx context.Context, oid objectenc.OID) ([]objectenc.OID, error) {
	kind, err := f.gateway.Type(ctx, oid)
	if err != nil {
		return nil, fmt.Errorf("type %s: %w", oid, err)
	}

	switch kind {
	case objectenc.KindBlob:
		return nil, nil
	case objectenc.KindTag:
		return f.tagReferences(ctx, oid)
	case objectenc.KindCommit:
		return f.commitReferences(ctx, oid)
	case objectenc.KindTree:
		return f.treeReferences(ctx, oid)
	default:
		return nil, fmt.Errorf("%w: unsupported object kind %q for %s", helpererr.ErrProtocol, kind, oid)
	}
}

func (f *Fetcher) tagReferences(ctx context.Context, oid objectenc.OID) ([]objectenc.OID, error) {
	payload, err := f.gateway.Read(ctx, oid)
	if err != nil {
		return nil, fmt.Errorf("read tag %s: %w", oid, err)
	}
	for _, line := range strings.Split(string(payload), "\n") {
		if strings.HasPrefix(line, "object ") {
			return []objectenc.OID{objectenc.OID(strings.TrimSpace(strings.TrimPrefix(line, "object ")))}, nil
		}
	}
	return nil, fmt.Errorf("tag %s: no object header", oid)
}

func (f *Fetcher) commitReferences(ctx context.Context, oid objectenc.OID) ([]objectenc.OID, error) {
	payload, err := f.gateway.Read(ctx, oid)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", oid, err)
	}
	var refs []objectenc.OID
	lines := strings.Split(string(payload), "\n")
	for i, line := range lines {
		switch {
		case i == 0 && strings.HasPrefix(line, "tree "):
			refs = append(refs, objectenc.OID(strings.TrimSpace(strings.TrimPrefix(line, "tree "))))
		case strings.HasPrefix(line, "parent "):
			refs = append(refs, objectenc.OID(strings.TrimSpace(strings.TrimPrefix(line, "parent "))))
		default:
			if i > 0 {
				return refs, nil
			}
		}
	}
	return refs, nil
}

func (f *Fetcher) treeReferences(ctx context.Context, oid objectenc.OID) ([]objectenc.OID, error) {
	payload, err := f.gateway.Read(ctx, oid)
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", oid, err)
	}
	var refs []objectenc.OID
	// Raw tree format: each entry is "<mode> <name>\x00" followed by the
	// entry's 20-byte binary oid.
	for rest := payload; len(rest) > 0; {
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 || len(rest) < nul+21 {
			return nil, fmt.Errorf("tree %s: malformed entry", oid)
		}
		mode, _, _ := strings.Cut(string(rest[:nul]), " ")
		entryOID := objectenc.OID(hex.EncodeToString(rest[nul+1 : nul+21]))
		rest = rest[nul+21:]
		if mode == gitlinkMode {
			continue
		}
		refs = append(refs, entryOID)
	}
	return refs, nil
}

