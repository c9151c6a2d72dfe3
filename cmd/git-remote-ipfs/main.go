// Command git-remote-ipfs is a git remote-helper (spec §6) invoked by
// git as `git-remote-ipfs <remote-name> ipfs://<id>` whenever a remote
// URL uses the ipfs:// scheme. It wires config, discovery, and the
// protocol driver together and speaks the remote-helper line protocol
// over stdin/stdout. Grounded on cmd/got/main.go's single cobra
// root-command construction.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ipfs-shipyard/git-remote-ipfs/internal/binmode"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/casclient"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/discovery"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/driver"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helperconfig"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/helpererr"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/vcsgw"
	"github.com/ipfs-shipyard/git-remote-ipfs/internal/vcslog"
)

func main() {
	root := &cobra.Command{
		Use:           "git-remote-ipfs <remote-name> <url>",
		Short:         "git remote-helper for ipfs:// transport URLs",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	if err := root.Execute(); err != nil {
		vcslog.Errorf("git-remote-ipfs: %v", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	remoteName, remoteURL := args[0], args[1]

	if err := binmode.Enable(); err != nil {
		return err
	}

	urlParts := strings.SplitN(remoteURL, "://", 2)
	if len(urlParts) < 2 {
		return fmt.Errorf("%w: malformed remote URL %q, expected scheme://id", helpererr.ErrProtocol, remoteURL)
	}
	id := urlParts[1]

	// git invokes remote helpers with the working directory already
	// inside the repository (and GIT_DIR set when relevant); the
	// gateway's own "-C ." shell-outs pick that up without needing to
	// parse GIT_DIR ourselves.
	gateway, err := vcsgw.Open(ctx, ".")
	if err != nil {
		return err
	}

	gitDir, err := gateway.GitDir(ctx)
	if err != nil {
		return err
	}

	cfg, err := helperconfig.Load(gitDir)
	if err != nil {
		return err
	}

	client := casclient.New(cfg)
	if _, err := client.Version(ctx); err != nil {
		return fmt.Errorf("%w: daemon at %s is not reachable: %v", helpererr.ErrDaemonUnreachable, cfg.DaemonBaseURL(), err)
	}

	disc := discovery.Probe(ctx, client, id)
	vcslog.Infof("git-remote-ipfs: remote %s resolved to %s (mutable=%v accessible=%v)", remoteName, disc.IPFSPath, disc.IsMutableName, disc.IsAccessible)

	d := driver.New(os.Stdin, os.Stdout, client, gateway, cfg, remoteName, disc)
	return d.Run(ctx)
}
