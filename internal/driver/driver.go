// Package driver is the remote-helper protocol state machine (spec
// §4.G): it scans stdin line by line, dispatches capabilities/option/
// list/push/fetch, and writes responses to stdout. Grounded on
// other_examples/cryptix-git-remote-ipfs__main.go's speakGit loop
// (scan stdin, switch on command prefix, blank-line batch terminators),
// restructured into explicit states and wired to the transfer/refdir
// engines instead of shelling out to a second git process per call.
package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ipfs-shipyard/git-remote-ipfs/internal/casclient"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/discovery"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helperconfig"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helpererr"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/objectenc"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/refdir"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/transfer"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/vcsgw"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/vcslog"
)

type state int

const (
	stateIdle state = iota
	stateInPushBatch
	stateInFetchBatch
)

// Driver holds the in-memory state of one helper invocation (spec §3).
type Driver struct {
	in  *bufio.Scanner
	out io.Writer

	client  *casclient.Client
	gateway *vcsgw.Gateway
	cfg     helperconfig.Config
	refs    *refdir.Reader

	remoteName string
	disc       discovery.Result

	references map[string]objectenc.OID
	isEmpty    bool

	state      state
	pushLines  []pushLine
	fetchLines []fetchLine
}

type pushLine struct {
	src, dst string
}

type fetchLine struct {
	oid, refname string
}

// New builds a Driver for one remote-helper invocation. disc is the
// already-resolved discovery.Result for the remote <id> (spec §4.C is
// run once at startup, before the protocol loop begins).
func New(in io.Reader, out io.Writer, client *casclient.Client, gateway *vcsgw.Gateway, cfg helperconfig.Config, remoteName string, disc discovery.Result) *Driver {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Driver{
		in:         scanner,
		out:        out,
		client:     client,
		gateway:    gateway,
		cfg:        cfg,
		refs:       refdir.New(client, disc.IPFSPath),
		remoteName: remoteName,
		disc:       disc,
		references: make(map[string]objectenc.OID),
	}
}

// Run drives the protocol loop until stdin closes. It returns nil on a
// clean EOF shutdown and a non-nil error for any fatal condition (spec
// §7: ProtocolError, HashMismatch, PluginFailure, and similar are all
// fatal; RefRejected is not, and is reported per ref instead).
func (d *Driver) Run(ctx context.Context) error {
	for d.in.Scan() {
		line := d.in.Text()
		if err := d.dispatch(ctx, line); err != nil {
			return err
		}
	}
	if err := d.in.Err(); err != nil {
		return fmt.Errorf("%w: reading stdin: %v", helpererr.ErrProtocol, err)
	}
	return nil
}

func (d *Driver) dispatch(ctx context.Context, line string) error {
	switch d.state {
	case stateInPushBatch:
		return d.dispatchPushBatch(ctx, line)
	case stateInFetchBatch:
		return d.dispatchFetchBatch(ctx, line)
	default:
		return d.dispatchIdle(ctx, line)
	}
}

func (d *Driver) dispatchIdle(ctx context.Context, line string) error {
	switch {
	case line == "capabilities":
		d.println("option")
		d.println("list")
		d.println("push")
		d.println("fetch")
		d.println("")
		return nil

	case strings.HasPrefix(line, "option "):
		return d.handleOption(line)

	case line == "list" || line == "list for-push":
		return d.handleList(ctx, line == "list for-push")

	case strings.HasPrefix(line, "push "):
		d.state = stateInPushBatch
		d.pushLines = nil
		return d.dispatchPushBatch(ctx, line)

	case strings.HasPrefix(line, "fetch "):
		d.state = stateInFetchBatch
		d.fetchLines = nil
		return d.dispatchFetchBatch(ctx, line)

	case line == "":
		return nil

	default:
		return fmt.Errorf("%w: unrecognized command %q", helpererr.ErrProtocol, line)
	}
}

func (d *Driver) handleOption(line string) error {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		d.println("unsupported")
		return nil
	}
	name, value := fields[1], fields[2]
	switch name {
	case "verbosity":
		n, err := strconv.Atoi(value)
		if err != nil {
			d.println("unsupported")
			return nil
		}
		vcslog.SetVerbosity(vcslog.Verbosity(n))
		d.println("ok")
	default:
		d.println("unsupported")
	}
	return nil
}

func (d *Driver) handleList(ctx context.Context, forPush bool) error {
	names, err := d.refs.ReferenceNames(ctx, "refs")
	if err != nil {
		vcslog.Infof("driver: refs/ not listable, treating remote as empty: %v", err)
		d.isEmpty = true
		d.references = make(map[string]objectenc.OID)
		d.println("")
		return nil
	}

	d.isEmpty = len(names) == 0
	d.references = names
	for name, oid := range names {
		d.println(fmt.Sprintf("%s %s", oid, name))
	}

	if !forPush {
		if target, err := d.refs.ReadSymbolicReference(ctx, "HEAD"); err == nil && target != "" {
			d.println(fmt.Sprintf("@%s HEAD", target))
		}
	}
	d.println("")
	return nil
}

func (d *Driver) dispatchPushBatch(ctx context.Context, line string) error {
	if line == "" {
		return d.runPushBatch(ctx)
	}
	fields := strings.SplitN(strings.TrimPrefix(line, "push "), ":", 2)
	if len(fields) != 2 {
		return fmt.Errorf("%w: malformed push line %q", helpererr.ErrProtocol, line)
	}
	d.pushLines = append(d.pushLines, pushLine{src: fields[0], dst: fields[1]})
	return nil
}

func (d *Driver) runPushBatch(ctx context.Context) error {
	if err := discovery.RequireAccessible(d.disc); err != nil {
		return err
	}

	localHeadTarget, _ := d.gateway.SymbolicRefTarget(ctx)
	remoteHeadIsSym := false
	remoteHeadValue := ""
	if target, err := d.refs.ReadSymbolicReference(ctx, "HEAD"); err == nil && target != "" {
		remoteHeadIsSym = true
		remoteHeadValue = target
	}

	pusher := transfer.NewPusher(d.client, d.gateway, d.cfg, d.disc.IPFSPath, d.remoteName, d.disc.IsMutableName, d.isEmpty, d.references, remoteHeadIsSym, remoteHeadValue, localHeadTarget)

	var anyOK bool
	for _, pl := range d.pushLines {
		result, err := pusher.ProcessLine(ctx, pl.src, pl.dst)
		if err != nil {
			return fmt.Errorf("push %s:%s: %w", pl.src, pl.dst, err)
		}
		d.println(result.String())
		if result.OK {
			anyOK = true
		}
	}

	if anyOK {
		fin, err := pusher.Finalize(ctx)
		if err != nil {
			return err
		}
		vcslog.Infof("driver: new snapshot %s", fin.NewCID)
		if fin.PublishWarn != "" {
			vcslog.Errorf("driver: %s", fin.PublishWarn)
		}
	}

	d.println("")
	d.state = stateIdle
	return nil
}

func (d *Driver) dispatchFetchBatch(ctx context.Context, line string) error {
	if line == "" {
		return d.runFetchBatch(ctx)
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return fmt.Errorf("%w: malformed fetch line %q", helpererr.ErrProtocol, line)
	}
	d.fetchLines = append(d.fetchLines, fetchLine{oid: fields[1], refname: fields[2]})
	return nil
}

func (d *Driver) runFetchBatch(ctx context.Context) error {
	if err := discovery.RequireAccessible(d.disc); err != nil {
		return err
	}

	requested := make([]objectenc.OID, 0, len(d.fetchLines))
	for _, fl := range d.fetchLines {
		requested = append(requested, objectenc.OID(fl.oid))
	}

	fetcher := transfer.NewFetcher(d.client, d.gateway, d.disc.IPFSPath)
	if err := fetcher.FetchClosure(ctx, requested); err != nil {
		return err
	}

	d.println("")
	d.state = stateIdle
	return nil
}

func (d *Driver) println(s string) {
	fmt.Fprintln(d.out, s)
}
