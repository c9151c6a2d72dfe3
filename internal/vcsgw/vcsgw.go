// Package vcsgw is the VCS plumbing gateway (spec §4.B): a thin wrapper
// that shells out to the real VCS's plumbing commands, following the
// same exec.CommandContext + "-C <dir>" + stderr-capture pattern the
// teacher's cmd/got/git_bridge.go uses to drive a real git checkout.
package vcsgw

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ipfs-shipyard/git-remote-ipfs/internal/objectenc"
)

// Gateway drives the git binary against one repository.
type Gateway struct {
	root string
}

// Open returns a Gateway rooted at the top level of the git working copy
// containing dir. TopLevel is used to confirm and normalize root, so a
// bare repository (which has no working tree) is rejected.
func Open(ctx context.Context, dir string) (*Gateway, error) {
	g := &Gateway{root: dir}
	top, err := g.TopLevel(ctx)
	if err != nil {
		return nil, fmt.Errorf("not inside a repository: %w", err)
	}
	g.root = top
	return g, nil
}

// GitDir returns the repository's .git directory (or, for a bare repo,
// the repository root itself).
func (g *Gateway) GitDir(ctx context.Context) (string, error) {
	out, err := g.capture(ctx, "rev-parse", "--git-dir")
	if err != nil {
		return "", err
	}
	dir := strings.TrimSpace(string(out))
	if strings.HasPrefix(dir, "/") {
		return dir, nil
	}
	return g.root + "/" + dir, nil
}

// TopLevel returns the project root path. Fatal (returns an error) if
// the gateway's directory is not inside a repository.
func (g *Gateway) TopLevel(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", g.root, "rev-parse", "--show-toplevel")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git rev-parse --show-toplevel: %s", msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RevListReachable returns every oid reachable from ref, one per line,
// following spec §4.B's "rev-list reachable" operation. No special case
// is applied to the empty-tree oid: "git rev-list --objects" already
// lists it when a commit's tree is empty, and git resolves it on read
// even when the local store holds no copy of it.
func (g *Gateway) RevListReachable(ctx context.Context, ref string) ([]objectenc.OID, error) {
	out, err := g.capture(ctx, "rev-list", "--objects", ref)
	if err != nil {
		return nil, fmt.Errorf("rev-list reachable %s: %w", ref, err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	oids := make([]objectenc.OID, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// "git rev-list --objects" emits "<oid> [<path>]"; keep only the oid.
		fields := strings.SplitN(line, " ", 2)
		oids = append(oids, objectenc.OID(fields[0]))
	}
	return oids, nil
}

// Type returns the object kind for oid.
func (g *Gateway) Type(ctx context.Context, oid objectenc.OID) (objectenc.Kind, error) {
	out, err := g.capture(ctx, "cat-file", "-t", string(oid))
	if err != nil {
		return "", fmt.Errorf("type %s: %w", oid, err)
	}
	return objectenc.ParseKind(strings.TrimSpace(string(out)))
}

// Size returns the object's payload size in bytes.
func (g *Gateway) Size(ctx context.Context, oid objectenc.OID) (int, error) {
	out, err := g.capture(ctx, "cat-file", "-s", string(oid))
	if err != nil {
		return 0, fmt.Errorf("size %s: %w", oid, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("size %s: invalid size %q: %w", oid, out, err)
	}
	return n, nil
}

// Read returns the raw object payload, preserving binary content exactly.
func (g *Gateway) Read(ctx context.Context, oid objectenc.OID) ([]byte, error) {
	kind, err := g.Type(ctx, oid)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", oid, err)
	}
	cmd := exec.CommandContext(ctx, "git", "-C", g.root, "cat-file", string(kind), string(oid))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("read %s: %s", oid, msg)
	}
	return stdout.Bytes(), nil
}

// HashWrite inserts payload into the local object store under kind and
// returns its identity.
func (g *Gateway) HashWrite(ctx context.Context, kind objectenc.Kind, payload []byte) (objectenc.OID, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", g.root, "hash-object", "-w", "-t", string(kind), "--stdin")
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("hash-write %s: %s", kind, msg)
	}
	return objectenc.OID(strings.TrimSpace(stdout.String())), nil
}

// Exists reports whether oid is present in the local object store.
func (g *Gateway) Exists(ctx context.Context, oid objectenc.OID) bool {
	cmd := exec.CommandContext(ctx, "git", "-C", g.root, "cat-file", "-e", string(oid))
	return cmd.Run() == nil
}

// IsAncestor reports whether a is an ancestor of (or equal to) b.
func (g *Gateway) IsAncestor(ctx context.Context, a, b objectenc.OID) bool {
	cmd := exec.CommandContext(ctx, "git", "-C", g.root, "merge-base", "--is-ancestor", string(a), string(b))
	return cmd.Run() == nil
}

// UpdateServerInfo regenerates info/refs and objects/info/packs for the
// dumb-protocol layout.
func (g *Gateway) UpdateServerInfo(ctx context.Context) error {
	if _, err := g.capture(ctx, "update-server-info"); err != nil {
		return fmt.Errorf("update-server-info: %w", err)
	}
	return nil
}

// SetRemoteURL rewrites the given remote's URL, used after an
// immutable-remote push to point at the new snapshot CID (spec §4.F).
func (g *Gateway) SetRemoteURL(ctx context.Context, name, url string) error {
	if _, err := g.capture(ctx, "remote", "set-url", name, url); err != nil {
		return fmt.Errorf("set-remote-url %s: %w", name, err)
	}
	return nil
}

// ResolveRef resolves a ref name or HEAD to its current oid.
func (g *Gateway) ResolveRef(ctx context.Context, ref string) (objectenc.OID, error) {
	out, err := g.capture(ctx, "rev-parse", "--verify", ref)
	if err != nil {
		return "", fmt.Errorf("resolve-ref %s: %w", ref, err)
	}
	return objectenc.OID(strings.TrimSpace(string(out))), nil
}

// SymbolicRefTarget returns the ref HEAD currently points to (e.g.
// "refs/heads/main"), or an error if HEAD is detached.
func (g *Gateway) SymbolicRefTarget(ctx context.Context) (string, error) {
	out, err := g.capture(ctx, "symbolic-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("symbolic-ref HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// DumbProtocolFile reads gitDir/relPath verbatim, the on-disk
// ancillary files update-server-info regenerates (spec §3, §4.F: "read
// .git/info/refs and .git/objects/info/packs verbatim"). A missing
// objects/info/packs is treated as legitimately empty, per spec's "may
// be empty" note; any other missing file is an error.
func (g *Gateway) DumbProtocolFile(ctx context.Context, relPath string) ([]byte, error) {
	gitDir, err := g.GitDir(ctx)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(filepath.Join(gitDir, relPath))
	if err != nil {
		if os.IsNotExist(err) && strings.HasSuffix(relPath, "objects/info/packs") {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", relPath, err)
	}
	return body, nil
}

func (g *Gateway) capture(ctx context.Context, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(cctx, "git", append([]string{"-C", g.root}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.Bytes(), nil
}
