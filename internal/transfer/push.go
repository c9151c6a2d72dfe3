package transfer

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/ipfs-shipyard/git-remote-ipfs/internal/casclient"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helperconfig"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helpererr"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/objectenc"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/vcsgw"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/vcslog"
)

// PushResult is one ref's outcome, formatted for the protocol driver
// as "ok <dst>" or "error <dst> <reason>" (spec §4.F).
type PushResult struct {
	Dst    string
	OK     bool
	Reason string
}

func (r PushResult) String() string {
	if r.OK {
		return "ok " + r.Dst
	}
	return "error " + r.Dst + " " + r.Reason
}

// Pusher accumulates a push batch's staged objects and reference
// updates, then finalizes them as a single atomic upload.
type Pusher struct {
	client     *casclient.Client
	gateway    *vcsgw.Gateway
	cfg        helperconfig.Config
	ipfsPath   string
	remoteName string

	isMutableName   bool
	isEmpty         bool
	remoteRefs      map[string]objectenc.OID
	remoteHeadIsSym bool
	remoteHeadValue string // symbolic target ref-name, or a raw oid

	staged          map[objectenc.OID][]byte // oid -> deflated canonical envelope
	pushReferences  map[string]objectenc.OID // dst -> new oid, omits deletions
	deletions       map[string]bool
	headCandidate   string // chosen dst for HEAD when bootstrapping an empty repo
	lastSrcOID      objectenc.OID
	localHeadTarget string // this repo's own symbolic HEAD target, if any
}

// NewPusher builds a Pusher. remoteRefs is the reference map populated
// by a prior list call; remoteHeadIsSym/remoteHeadValue describe the
// remote's current HEAD; localHeadTarget is this repository's own
// symbolic HEAD target (used to pick the default branch when
// bootstrapping an empty remote).
// The new snapshot's refs/ tree starts as a copy of the prior remote's
// refs (so refs untouched by this push batch survive the atomic
// replace) and is then mutated in place by pushed updates and
// deletions — the old snapshot itself is abandoned wholesale, per
// spec §4.F's "Deletions" note.
func NewPusher(client *casclient.Client, gateway *vcsgw.Gateway, cfg helperconfig.Config, ipfsPath, remoteName string, isMutableName, isEmpty bool, remoteRefs map[string]objectenc.OID, remoteHeadIsSym bool, remoteHeadValue string, localHeadTarget string) *Pusher {
	carried := make(map[string]objectenc.OID, len(remoteRefs))
	for name, oid := range remoteRefs {
		carried[name] = oid
	}
	return &Pusher{
		client:          client,
		gateway:         gateway,
		cfg:             cfg,
		ipfsPath:        ipfsPath,
		remoteName:      remoteName,
		isMutableName:   isMutableName,
		isEmpty:         isEmpty,
		remoteRefs:      remoteRefs,
		remoteHeadIsSym: remoteHeadIsSym,
		remoteHeadValue: remoteHeadValue,
		staged:          make(map[objectenc.OID][]byte),
		pushReferences:  carried,
		deletions:       make(map[string]bool),
		localHeadTarget: localHeadTarget,
	}
}

// ProcessLine handles one "push [+]<src>:<dst>" line and returns its
// immediate ack/error (spec §4.F).
func (p *Pusher) ProcessLine(ctx context.Context, src, dst string) (PushResult, error) {
	if src == "" {
		return p.processDeletion(dst), nil
	}
	return p.processUpdate(ctx, src, dst)
}

func (p *Pusher) processDeletion(dst string) PushResult {
	if p.remoteHeadIsSym && p.remoteHeadValue == dst {
		return PushResult{Dst: dst, OK: false, Reason: "refused to delete current branch"}
	}
	p.deletions[dst] = true
	delete(p.pushReferences, dst)
	return PushResult{Dst: dst, OK: true}
}

func (p *Pusher) processUpdate(ctx context.Context, src, dst string) (PushResult, error) {
	forced := strings.HasPrefix(src, "+")
	src = strings.TrimPrefix(src, "+")

	srcOID, err := p.gateway.ResolveRef(ctx, src)
	if err != nil {
		return PushResult{}, fmt.Errorf("resolve %s: %w", src, err)
	}

	if err := p.stageReachable(ctx, src); err != nil {
		return PushResult{}, err
	}

	if !forced && !p.isEmpty {
		if prior, known := p.remoteRefs[dst]; known {
			if !p.gateway.Exists(ctx, prior) {
				return PushResult{Dst: dst, OK: false, Reason: "fetch first"}, nil
			}
			if !p.gateway.IsAncestor(ctx, prior, srcOID) {
				return PushResult{Dst: dst, OK: false, Reason: "non-fast forward"}, nil
			}
		}
	}

	p.pushReferences[dst] = srcOID
	delete(p.deletions, dst)
	p.lastSrcOID = srcOID

	if p.isEmpty {
		if p.headCandidate == "" || dst == p.localHeadTarget {
			p.headCandidate = dst
		}
	}

	return PushResult{Dst: dst, OK: true}, nil
}

// stageReachable enumerates objects reachable from ref and stages each
// one not already staged, under objects/<oid[0:2]>/<oid[2:]>.
func (p *Pusher) stageReachable(ctx context.Context, ref string) error {
	oids, err := p.gateway.RevListReachable(ctx, ref)
	if err != nil {
		return fmt.Errorf("enumerate reachable objects for %s: %w", ref, err)
	}

	var totalBytes int
	for _, oid := range oids {
		if _, done := p.staged[oid]; done {
			continue
		}
		kind, err := p.gateway.Type(ctx, oid)
		if err != nil {
			return fmt.Errorf("type %s: %w", oid, err)
		}
		payload, err := p.gateway.Read(ctx, oid)
		if err != nil {
			return fmt.Errorf("read %s: %w", oid, err)
		}
		compressed, err := objectenc.EncodeObject(kind, payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", oid, err)
		}
		p.staged[oid] = compressed
		totalBytes += len(compressed)
	}
	vcslog.Debugf("transfer: staged %d objects (%d bytes) for %s", len(oids), totalBytes, ref)
	return nil
}

// FinalizeResult reports the outcome of a push batch's upload.
type FinalizeResult struct {
	NewCID        string
	OldCID        string
	PublishedName bool
	PublishWarn   string
}

// Finalize uploads the staged snapshot after the batch terminator, per
// spec §4.F step "Finalization". Deletions are effected by omission:
// a deleted ref is simply absent from pushReferences, so the new
// snapshot no longer contains it.
func (p *Pusher) Finalize(ctx context.Context) (FinalizeResult, error) {
	files := make(map[string][]byte, len(p.pushReferences)+3)

	if err := p.gateway.UpdateServerInfo(ctx); err != nil {
		return FinalizeResult{}, fmt.Errorf("%w: %v", helpererr.ErrPluginFailure, err)
	}
	infoRefs, err := p.gateway.DumbProtocolFile(ctx, "info/refs")
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("%w: %v", helpererr.ErrPluginFailure, err)
	}
	files["info/refs"] = infoRefs
	objectsInfoPacks, err := p.gateway.DumbProtocolFile(ctx, "objects/info/packs")
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("%w: %v", helpererr.ErrPluginFailure, err)
	}
	files["objects/info/packs"] = objectsInfoPacks

	for dst, oid := range p.pushReferences {
		files[dst] = []byte(string(oid) + "\n")
	}
	for oid, body := range p.staged {
		files[objectenc.Path(oid)] = body
	}
	files["HEAD"] = []byte(p.resolveHEAD())

	entries, err := p.client.Add(ctx, files, casclient.AddOptions{
		CIDVersion: p.cfg.CIDVersion,
		Chunker:    p.cfg.IPFSChunker,
	})
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("upload snapshot: %w", err)
	}
	newCID := entries[len(entries)-1].Hash

	result := FinalizeResult{NewCID: newCID}

	if p.isMutableName {
		if oldPath, err := p.client.NameResolve(ctx, p.ipfsPath); err == nil {
			result.OldCID = oldPath
		} else {
			vcslog.Infof("transfer: name/resolve for logging failed: %v", err)
		}

		if p.cfg.UnpinOld && result.OldCID != "" {
			if _, err := p.client.PinRm(ctx, result.OldCID); err != nil {
				vcslog.Infof("transfer: pin/rm of old snapshot failed: %v", err)
			}
		}

		if p.cfg.Republish {
			key := path.Base(p.ipfsPath)
			if _, err := p.client.NamePublish(ctx, "/ipfs/"+newCID, key, p.cfg.IPNSTTL); err != nil {
				result.PublishWarn = fmt.Sprintf("publish failed, new snapshot is /ipfs/%s: %v", newCID, err)
				vcslog.Errorf("transfer: %s", result.PublishWarn)
			} else {
				result.PublishedName = true
			}
		}
		return result, nil
	}

	if err := p.gateway.SetRemoteURL(ctx, p.remoteName, "ipfs://"+newCID); err != nil {
		return result, fmt.Errorf("%w: %v", helpererr.ErrPluginFailure, err)
	}
	vcslog.Infof("transfer: remote %s URL set to ipfs://%s", p.remoteName, newCID)
	return result, nil
}

func (p *Pusher) resolveHEAD() string {
	if p.isEmpty {
		if p.headCandidate != "" {
			return "ref: " + p.headCandidate + "\n"
		}
		return string(p.lastSrcOID) + "\n"
	}
	if p.remoteHeadIsSym {
		return "ref: " + p.remoteHeadValue + "\n"
	}
	return p.remoteHeadValue + "\n"
}
