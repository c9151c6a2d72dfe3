package refdir

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/ipfs-shipyard/git-remote-ipfs/internal/casclient"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helperconfig"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/objectenc"
)

const commitOID = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const mainOID = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func newTestReader(t *testing.T, handler http.HandlerFunc) *Reader {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
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
	}
	return New(casclient.New(cfg), "/ipns/repo")
}

// TestReferenceNamesWithCat models:
//
//	refs/
//	  heads/
//	    main          -> mainOID
//	  tags/
//	    v1            -> commitOID
func TestReferenceNamesWithCat(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		arg := r.URL.Query().Get("arg")
		switch {
		case r.URL.Path == "/api/v0/ls":
			switch arg {
			case "/ipns/repo/refs":
				json.NewEncoder(w).Encode(map[string]any{"Entries": []casclient.Entry{
					{Name: "heads", Type: casclient.EntryDir, Size: 0},
					{Name: "tags", Type: casclient.EntryDir, Size: 0},
				}})
			case "/ipns/repo/refs/heads":
				json.NewEncoder(w).Encode(map[string]any{"Entries": []casclient.Entry{
					{Name: "main", Type: casclient.EntryFile, Size: 41},
				}})
			case "/ipns/repo/refs/tags":
				json.NewEncoder(w).Encode(map[string]any{"Entries": []casclient.Entry{
					{Name: "v1", Type: casclient.EntryFile, Size: 41},
				}})
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		case r.URL.Path == "/api/v0/cat":
			switch arg {
			case "/ipns/repo/refs/heads/main":
				w.Write([]byte(mainOID + "\n"))
			case "/ipns/repo/refs/tags/v1":
				w.Write([]byte(commitOID + "\n"))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}

	reader := newTestReader(t, handler)
	names, err := reader.ReferenceNames(context.Background(), "refs")
	if err != nil {
		t.Fatalf("ReferenceNames: %v", err)
	}
	if names["refs/heads/main"] != objectenc.OID(mainOID) {
		t.Errorf("refs/heads/main = %q", names["refs/heads/main"])
	}
	if names["refs/tags/v1"] != objectenc.OID(commitOID) {
		t.Errorf("refs/tags/v1 = %q", names["refs/tags/v1"])
	}
	if len(names) != 2 {
		t.Errorf("got %d refs, want 2: %+v", len(names), names)
	}
}

func TestReferenceNamesEmptyWhenListFails(t *testing.T) {
	reader := newTestReader(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := reader.ReferenceNames(context.Background(), "refs")
	if err == nil {
		t.Fatal("expected error when refs/ cannot be listed")
	}
}

func TestReadSymbolicReference(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		arg := r.URL.Query().Get("arg")
		switch {
		case r.URL.Path == "/api/v0/ls" && arg == "/ipns/repo/HEAD":
			json.NewEncoder(w).Encode(map[string]any{"Entries": []casclient.Entry{
				{Name: "HEAD", Type: casclient.EntryFile, Size: 24},
			}})
		case r.URL.Path == "/api/v0/cat" && arg == "/ipns/repo/HEAD":
			w.Write([]byte("ref: refs/heads/main\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
	reader := newTestReader(t, handler)
	target, err := reader.ReadSymbolicReference(context.Background(), "HEAD")
	if err != nil {
		t.Fatalf("ReadSymbolicReference: %v", err)
	}
	if target != "refs/heads/main" {
		t.Errorf("target = %q", target)
	}
}

func TestReadSymbolicReferenceAbsent(t *testing.T) {
	reader := newTestReader(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	target, err := reader.ReadSymbolicReference(context.Background(), "HEAD")
	if err != nil {
		t.Fatalf("ReadSymbolicReference: %v", err)
	}
	if target != "" {
		t.Errorf("target = %q, want empty", target)
	}
}
