package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arnegard/netbase/internal/backend/local"
	"github.com/arnegard/netbase/internal/config"
	"github.com/arnegard/netbase/internal/errors"
	"github.com/arnegard/netbase/internal/statekeeper"
)

var serveOptions struct {
	StateName       string
	ExpireEvery     time.Duration
	CheckpointEvery time.Duration
}

var cmdServe = &cobra.Command{
	Use:   "serve dir",
	Short: "Run a state keeper against a local directory until interrupted",
	Long: `
serve opens (or creates) a state keeper named --state under dir and keeps
it running: one goroutine periodically sweeps expired timeout keys, another
periodically forces a checkpoint, and both stop cleanly on SIGINT/SIGTERM or
when one of them returns an error.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		backend, err := local.Open(local.NewConfig(dir))
		if err != nil {
			return errors.Wrap(err, "open local backend")
		}
		defer backend.Close()

		cfg := config.DefaultStateKeeper()
		sk := statekeeper.New(backend, serveOptions.StateName, cfg.BlockSize, cfg.BlocksPerFile, cfg.KeepN)
		if err := sk.Initialize(cmd.Context()); err != nil {
			return errors.Wrap(err, "initialize state keeper")
		}
		defer sk.Close()

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			return runEvery(ctx, serveOptions.ExpireEvery, func() error {
				n := sk.ExpireTimeoutedKeys()
				if n > 0 && !globalOptions.Quiet {
					fmt.Printf("expired %d keys\n", n)
				}
				return nil
			})
		})
		g.Go(func() error {
			return runEvery(ctx, serveOptions.CheckpointEvery, func() error {
				if err := sk.Checkpoint(); err != nil {
					return errors.Wrap(err, "checkpoint")
				}
				if !globalOptions.Quiet {
					fmt.Println("checkpoint requested")
				}
				return nil
			})
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// runEvery calls fn every interval until ctx is cancelled, returning fn's
// error immediately if it ever fails.
func runEvery(ctx context.Context, interval time.Duration, fn func() error) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := fn(); err != nil {
				return err
			}
		}
	}
}

func init() {
	f := cmdServe.Flags()
	f.StringVar(&serveOptions.StateName, "state", "default", "state keeper name")
	f.DurationVar(&serveOptions.ExpireEvery, "expire-every", 30*time.Second, "how often to sweep expired timeout keys")
	f.DurationVar(&serveOptions.CheckpointEvery, "checkpoint-every", 5*time.Minute, "how often to force a checkpoint")
	cmdRoot.AddCommand(cmdServe)
}
