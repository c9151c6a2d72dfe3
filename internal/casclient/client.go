// Package casclient is a thin wrapper over the CAS daemon's
// JSON-over-HTTP API (spec §4.A): version, ls, cat, add, name/resolve,
// name/publish, pin/rm. Grounded on pkg/remote/client.go's endpoint/
// response-limit/auth shape, adapted from got's bespoke protocol to the
// IPFS daemon's documented HTTP RPC API.
package casclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helperconfig"
)

// Response size limits per endpoint kind, mirroring pkg/remote/client.go's
// per-call limits so a misbehaving daemon cannot exhaust memory.
const (
	limitDefault = 4 << 20  // 4MB: version, name/resolve, name/publish, pin/rm
	limitLs      = 16 << 20 // 16MB: directory listings
	limitCat     = 64 << 20 // 64MB: object file contents
	limitAdd     = 4 << 20  // 4MB: add's newline-delimited JSON response
)

// Client talks to one CAS daemon instance.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	user        string
	pass        string
	maxAttempts int
}

// New builds a Client from the helper's resolved configuration.
//
// The transport is configured for HTTP/1.0-style connection-close
// semantics (DisableKeepAlives) to avoid daemon quirks some CAS
// implementations exhibit under persistent connections; this is a
// per-client transport setting rather than a process-wide pin.
func New(cfg helperconfig.Config) *Client {
	transport := &http.Transport{
		DisableKeepAlives: true,
	}
	return &Client{
		baseURL: cfg.DaemonBaseURL(),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		user:        cfg.UserName,
		pass:        cfg.UserPassword,
		maxAttempts: 3,
	}
}

// VersionInfo is the daemon's self-reported version.
type VersionInfo struct {
	Version string `json:"Version"`
	Commit  string `json:"Commit"`
}

// Version probes the daemon. Failure here is fatal (spec §6, §7).
func (c *Client) Version(ctx context.Context) (VersionInfo, error) {
	body, _, err := c.post(ctx, "version", nil, limitDefault)
	if err != nil {
		return VersionInfo{}, err
	}
	var v VersionInfo
	if err := json.Unmarshal(body, &v); err != nil {
		return VersionInfo{}, fmt.Errorf("decode version response: %w", err)
	}
	return v, nil
}

// EntryKind enumerates the "type" field of an ls entry.
type EntryKind int

const (
	EntryFile EntryKind = 2
	EntryDir  EntryKind = 1
)

// Entry is one ls result row.
type Entry struct {
	Name string    `json:"Name"`
	Type EntryKind `json:"Type"`
	Size int64     `json:"Size"`
	Hash string    `json:"Hash"`
}

// Ls lists the entries under path (spec §4.A, §4.D).
func (c *Client) Ls(ctx context.Context, path string) ([]Entry, error) {
	body, _, err := c.post(ctx, "ls", url.Values{"arg": {path}}, limitLs)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Objects []struct {
			Links []Entry `json:"Links"`
		} `json:"Objects"`
		Entries []Entry `json:"Entries"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode ls response for %s: %w", path, err)
	}
	if len(resp.Entries) > 0 {
		return resp.Entries, nil
	}
	if len(resp.Objects) > 0 {
		return resp.Objects[0].Links, nil
	}
	return nil, nil
}

// Cat reads raw bytes at path (spec §4.A).
func (c *Client) Cat(ctx context.Context, path string) ([]byte, error) {
	body, _, err := c.post(ctx, "cat", url.Values{"arg": {path}}, limitCat)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// AddOptions configures the add call; required fields per spec §4.A.
type AddOptions struct {
	CIDVersion int
	Chunker    string
}

// AddedEntry is one line of add's response.
type AddedEntry struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
}

// Add uploads a set of named byte streams wrapped in a single directory
// and returns one entry per uploaded file plus the wrapper directory
// (whose entry is the last line of the daemon's response, per spec
// §4.A). The multipart body is written file-by-file into a pipe that
// feeds the request, so no second buffered copy of the body is built;
// the file contents themselves arrive as one in-memory map, so peak
// memory still grows with the size of the upload.
func (c *Client) Add(ctx context.Context, files map[string][]byte, opts AddOptions) ([]AddedEntry, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			names := sortedKeys(files)
			for _, name := range names {
				fw, err := mw.CreateFormFile("file", name)
				if err != nil {
					return err
				}
				if _, err := fw.Write(files[name]); err != nil {
					return err
				}
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	q := url.Values{
		"wrap-with-directory": {"true"},
		"pin":                 {"true"},
		"raw-leaves":          {"true"},
		"cid-version":         {strconv.Itoa(opts.CIDVersion)},
		"chunker":             {opts.Chunker},
	}
	reqURL := c.baseURL + "/add?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.applyAuth(req)

	// Not retried: the request body streams from the pipe above exactly
	// once and cannot be replayed.
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limitAdd))
	if err != nil {
		return nil, fmt.Errorf("add: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}

	var entries []AddedEntry
	dec := json.NewDecoder(bytes.NewReader(body))
	for {
		var e AddedEntry
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("add: decode response line: %w", err)
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("add: empty response")
	}
	return entries, nil
}

// NameResolve resolves a mutable name to its current target path.
func (c *Client) NameResolve(ctx context.Context, arg string) (string, error) {
	body, _, err := c.post(ctx, "name/resolve", url.Values{"arg": {arg}}, limitDefault)
	if err != nil {
		return "", err
	}
	var resp struct {
		Path string `json:"Path"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode name/resolve response: %w", err)
	}
	return resp.Path, nil
}

// PublishResult is name/publish's response.
type PublishResult struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// NamePublish updates the mutable name to point at arg (a CID path).
func (c *Client) NamePublish(ctx context.Context, arg, key string, lifetime time.Duration) (PublishResult, error) {
	q := url.Values{
		"arg":           {arg},
		"key":           {key},
		"lifetime":      {lifetime.String()},
		"allow-offline": {"true"},
		"resolve":       {"true"},
		"ipns-base":     {"base36"},
	}
	body, _, err := c.post(ctx, "name/publish", q, limitDefault)
	if err != nil {
		return PublishResult{}, err
	}
	var resp PublishResult
	if err := json.Unmarshal(body, &resp); err != nil {
		return PublishResult{}, fmt.Errorf("decode name/publish response: %w", err)
	}
	return resp, nil
}

// PinRm unpins arg (recursively).
func (c *Client) PinRm(ctx context.Context, arg string) ([]string, error) {
	body, _, err := c.post(ctx, "pin/rm", url.Values{"arg": {arg}, "recursive": {"true"}}, limitDefault)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Pins []string `json:"Pins"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode pin/rm response: %w", err)
	}
	return resp.Pins, nil
}

func (c *Client) post(ctx context.Context, endpoint string, q url.Values, maxBytes int64) ([]byte, int, error) {
	reqURL := c.baseURL + "/" + endpoint
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	c.applyAuth(req)

	resp, err := doWithRetry(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%s: read response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, parseError(resp.StatusCode, body)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) applyAuth(req *http.Request) {
	if strings.TrimSpace(c.user) != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
}

func sortedKeys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Deterministic upload order keeps retries of the same logical push
	// easy to diff in daemon logs.
	sort.Strings(out)
	return out
}
