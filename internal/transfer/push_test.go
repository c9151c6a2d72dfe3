package transfer

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ipfs-shipyard/git-remote-ipfs/internal/casclient"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helperconfig"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/objectenc"
)

func newCapturingCASClient(t *testing.T, onAdd func(files map[string][]byte)) *casclient.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/add":
			if err := r.ParseMultipartForm(8 << 20); err != nil {
				t.Fatalf("ParseMultipartForm: %v", err)
			}
			files := make(map[string][]byte)
			for _, fh := range r.MultipartForm.File["file"] {
				f, err := fh.Open()
				if err != nil {
					t.Fatalf("open uploaded file: %v", err)
				}
				buf, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					t.Fatalf("read uploaded file: %v", err)
				}
				// fh.Filename is reduced to its base name by mime/multipart;
				// the manifest path is the raw filename parameter.
				_, params, _ := mime.ParseMediaType(fh.Header.Get("Content-Disposition"))
				files[params["filename"]] = buf
			}
			if onAdd != nil {
				onAdd(files)
			}
			w.Header().Set("Content-Type", "application/json")
			for name := range files {
				json.NewEncoder(w).Encode(map[string]string{"Name": name, "Hash": "hash-" + name})
			}
			json.NewEncoder(w).Encode(map[string]string{"Name": "", "Hash": "wrapper-cid"})
		case "/api/v0/name/resolve":
			json.NewEncoder(w).Encode(map[string]string{"Path": "/ipfs/old-cid"})
		case "/api/v0/name/publish":
			json.NewEncoder(w).Encode(map[string]string{"Name": "k51...", "Value": "/ipfs/wrapper-cid"})
		case "/api/v0/pin/rm":
			json.NewEncoder(w).Encode(map[string][]string{"Pins": {"old-cid"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	port := 0
	for _, r := range u.Port() {
		port = port*10 + int(r-'0')
	}
	cfg := helperconfig.Config{
		URL:           "http://" + u.Hostname(),
		Port:          port,
		VersionPrefix: "api/v0",
		Timeout:       2 * time.Second,
		CIDVersion:    1,
		IPFSChunker:   "size-262144",
	}
	return casclient.New(cfg)
}

func TestProcessLineDeletionRefusesCurrentBranch(t *testing.T) {
	skipIfNoGit(t)
	g, _ := initGateway(t)
	p := NewPusher(nil, g, helperconfig.Config{}, "/ipns/repo", "origin", true, false, nil, true, "refs/heads/main", "")

	result, err := p.ProcessLine(context.Background(), "", "refs/heads/main")
	if err != nil {
		t.Fatalf("ProcessLine: %v", err)
	}
	if result.OK {
		t.Fatal("expected deletion of current branch to be refused")
	}
	if result.Reason != "refused to delete current branch" {
		t.Errorf("reason = %q", result.Reason)
	}
}

func TestProcessLineDeletionRemovesFromCarriedRefs(t *testing.T) {
	skipIfNoGit(t)
	g, _ := initGateway(t)
	remoteRefs := map[string]objectenc.OID{
		"refs/heads/main": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	}
	p := NewPusher(nil, g, helperconfig.Config{}, "/ipns/repo", "origin", true, false, remoteRefs, true, "refs/heads/other", "")

	result, err := p.ProcessLine(context.Background(), "", "refs/heads/main")
	if err != nil {
		t.Fatalf("ProcessLine: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected deletion to succeed, got %+v", result)
	}
	if _, present := p.pushReferences["refs/heads/main"]; present {
		t.Error("expected deleted ref to be removed from the carried-forward set")
	}
}

func TestProcessLineFastForwardFetchFirst(t *testing.T) {
	skipIfNoGit(t)
	g, dir := initGateway(t)
	c1 := commitEmptyTree(t, dir, "first")
	run(t, dir, "update-ref", "refs/heads/main", string(c1))

	unknown := objectenc.OID("0000000000000000000000000000000000000001")
	remoteRefs := map[string]objectenc.OID{"refs/heads/main": unknown}
	p := NewPusher(nil, g, helperconfig.Config{}, "/ipns/repo", "origin", true, false, remoteRefs, false, "", "")

	result, err := p.ProcessLine(context.Background(), "refs/heads/main", "refs/heads/main")
	if err != nil {
		t.Fatalf("ProcessLine: %v", err)
	}
	if result.OK || result.Reason != "fetch first" {
		t.Errorf("result = %+v, want fetch first", result)
	}
}

func TestProcessLineFastForwardRejectsNonAncestor(t *testing.T) {
	skipIfNoGit(t)
	g, dir := initGateway(t)
	c1 := commitEmptyTree(t, dir, "first")
	c2 := commitEmptyTree(t, dir, "unrelated")
	run(t, dir, "update-ref", "refs/heads/main", string(c2))

	remoteRefs := map[string]objectenc.OID{"refs/heads/main": c1}
	p := NewPusher(nil, g, helperconfig.Config{}, "/ipns/repo", "origin", true, false, remoteRefs, false, "", "")

	result, err := p.ProcessLine(context.Background(), "refs/heads/main", "refs/heads/main")
	if err != nil {
		t.Fatalf("ProcessLine: %v", err)
	}
	if result.OK || result.Reason != "non-fast forward" {
		t.Errorf("result = %+v, want non-fast forward", result)
	}
}

func TestProcessLineFastForwardAcceptsAncestor(t *testing.T) {
	skipIfNoGit(t)
	g, dir := initGateway(t)
	c1 := commitEmptyTree(t, dir, "first")
	c2 := commitEmptyTree(t, dir, "second", string(c1))
	run(t, dir, "update-ref", "refs/heads/main", string(c2))

	remoteRefs := map[string]objectenc.OID{"refs/heads/main": c1}
	p := NewPusher(nil, g, helperconfig.Config{}, "/ipns/repo", "origin", true, false, remoteRefs, false, "", "")

	result, err := p.ProcessLine(context.Background(), "refs/heads/main", "refs/heads/main")
	if err != nil {
		t.Fatalf("ProcessLine: %v", err)
	}
	if !result.OK {
		t.Errorf("result = %+v, want ok", result)
	}
}

func TestProcessLineForcedSkipsFastForwardCheck(t *testing.T) {
	skipIfNoGit(t)
	g, dir := initGateway(t)
	c1 := commitEmptyTree(t, dir, "first")
	c2 := commitEmptyTree(t, dir, "unrelated")
	run(t, dir, "update-ref", "refs/heads/main", string(c2))

	remoteRefs := map[string]objectenc.OID{"refs/heads/main": c1}
	p := NewPusher(nil, g, helperconfig.Config{}, "/ipns/repo", "origin", true, false, remoteRefs, false, "", "")

	result, err := p.ProcessLine(context.Background(), "+refs/heads/main", "refs/heads/main")
	if err != nil {
		t.Fatalf("ProcessLine: %v", err)
	}
	if !result.OK {
		t.Errorf("result = %+v, want ok (forced)", result)
	}
}

func TestFinalizeUploadsAndCarriesForwardUntouchedRefs(t *testing.T) {
	skipIfNoGit(t)
	g, dir := initGateway(t)
	c1 := commitEmptyTree(t, dir, "only")
	run(t, dir, "update-ref", "refs/heads/dev", string(c1))

	remoteRefs := map[string]objectenc.OID{
		"refs/heads/main": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	}

	var uploaded map[string][]byte
	client := newCapturingCASClient(t, func(files map[string][]byte) {
		uploaded = files
	})

	cfg := helperconfig.Config{CIDVersion: 1, IPFSChunker: "size-262144", Republish: true, IPNSTTL: 2 * time.Hour}
	p := NewPusher(client, g, cfg, "/ipns/repo", "origin", true, false, remoteRefs, true, "refs/heads/main", "")

	result, err := p.ProcessLine(context.Background(), "refs/heads/dev", "refs/heads/dev")
	if err != nil {
		t.Fatalf("ProcessLine: %v", err)
	}
	if !result.OK {
		t.Fatalf("ProcessLine result = %+v", result)
	}

	fin, err := p.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if fin.NewCID != "wrapper-cid" {
		t.Errorf("NewCID = %q", fin.NewCID)
	}
	if !fin.PublishedName {
		t.Error("expected PublishedName=true when Republish is set")
	}

	if _, ok := uploaded["refs/heads/main"]; !ok {
		t.Error("expected untouched refs/heads/main to be carried into the upload manifest")
	}
	if string(uploaded["refs/heads/main"]) != "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\n" {
		t.Errorf("refs/heads/main = %q", uploaded["refs/heads/main"])
	}
	if _, ok := uploaded["refs/heads/dev"]; !ok {
		t.Error("expected pushed refs/heads/dev in the upload manifest")
	}
	if !strings.Contains(string(uploaded["HEAD"]), "refs/heads/main") {
		t.Errorf("HEAD = %q, want it to reflect the remote's existing symbolic target", uploaded["HEAD"])
	}
}

// commitEmptyTree mirrors vcsgw_test.go's commitEmpty helper, local to
// this package's test files.
func commitEmptyTree(t *testing.T, dir, msg string, parents ...string) objectenc.OID {
	t.Helper()
	args := []string{"commit-tree", string(objectenc.EmptyTreeOID), "-m", msg}
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	out := run(t, dir, args...)
	return objectenc.OID(strings.TrimSpace(string(out)))
}
