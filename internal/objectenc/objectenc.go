// Package objectenc implements the wire-level object encoding from
// spec §3: the canonical envelope "<kind> <size>\0<payload>" and its
// compressed-for-transfer deflate form, plus oid shape validation and
// the two-level fan-out object path layout.
package objectenc

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
)

// Kind is a VCS object kind.
type Kind string

const (
	KindBlob   Kind = "blob"
	KindTree   Kind = "tree"
	KindCommit Kind = "commit"
	KindTag    Kind = "tag"
)

// ParseKind validates a kind string against the four recognized kinds.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindBlob, KindTree, KindCommit, KindTag:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unsupported object kind %q", s)
	}
}

// OID is a 40-character hex object identity (spec §3: "Reference...value
// is a 40-hex oid").
type OID string

// EmptyTreeOID is the hardcoded empty-tree oid special-cased by the
// fetch engine (spec §4.E). The push side needs no special case: git's
// rev-list already lists it when reachable.
const EmptyTreeOID OID = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// ValidateOID checks that s is a well-formed 40-character hex oid
// (surrounding whitespace is ignored; hex digits of either case pass).
func ValidateOID(s OID) error {
	raw := strings.TrimSpace(string(s))
	if len(raw) != 40 {
		return fmt.Errorf("oid %q: length %d, expected 40", raw, len(raw))
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return fmt.Errorf("oid %q: not hex: %w", raw, err)
	}
	return nil
}

// Path returns the on-disk / on-CAS path for an object: objects/<oid[0:2]>/<oid[2:]>.
func Path(h OID) string {
	s := string(h)
	return "objects/" + s[:2] + "/" + s[2:]
}

// Canonical builds the "<kind> <size>\0<payload>" envelope the VCS
// hashes to identify an object.
func Canonical(k Kind, payload []byte) []byte {
	header := fmt.Sprintf("%s %d\x00", k, len(payload))
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	out = append(out, payload...)
	return out
}

// ParseCanonical splits a canonical envelope back into its kind and payload.
func ParseCanonical(raw []byte) (Kind, []byte, error) {
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return "", nil, fmt.Errorf("canonical envelope: no NUL separator")
	}
	header := string(raw[:nul])
	payload := raw[nul+1:]

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("canonical envelope: invalid header %q", header)
	}
	k, err := ParseKind(parts[0])
	if err != nil {
		return "", nil, fmt.Errorf("canonical envelope: %w", err)
	}
	size, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("canonical envelope: invalid size %q: %w", parts[1], err)
	}
	if size != len(payload) {
		return "", nil, fmt.Errorf("canonical envelope: size mismatch (header=%d, actual=%d)", size, len(payload))
	}
	return k, payload, nil
}

// Compress deflates the canonical envelope for upload.
func Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("deflate init: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("deflate write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates a downloaded compressed object.
func Decompress(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	return out, nil
}

// EncodeObject produces the compressed wire form of an object in one step.
func EncodeObject(k Kind, payload []byte) ([]byte, error) {
	return Compress(Canonical(k, payload))
}

// DecodeObject reverses EncodeObject, returning the kind and payload.
func DecodeObject(compressed []byte) (Kind, []byte, error) {
	raw, err := Decompress(compressed)
	if err != nil {
		return "", nil, err
	}
	return ParseCanonical(raw)
}
