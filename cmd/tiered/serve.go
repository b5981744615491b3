package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nstogner/tiered/pkg/agent"
	"github.com/nstogner/tiered/pkg/sandbox/docker"
	"github.com/nstogner/tiered/pkg/server"
	"github.com/nstogner/tiered/pkg/tier"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API over HTTP and WebSocket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		// Sandboxes outlive a crashed server; start from a clean slate.
		if mgr, ok := a.sandbox.(*docker.DockerManager); ok {
			if err := mgr.StopAll(ctx); err != nil {
				slog.Warn("Failed to remove stale sandboxes", "error", err)
			}
		}

		srv := server.New(server.Options{
			Backend:           a.backend,
			Registry:          a.reg,
			Production:        cfg.Production(),
			Tools:             a.tools,
			Memory:            a.store,
			Usage:             a.store,
			Sandbox:           a.sandbox,
			ClassifierTimeout: cfg.ClassifierTimeout,
			ExecutorOptions:   []agent.Option{agent.WithRetryPolicy(cfg.Retry)},
		})

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Run(ctx, cfg.ServerAddr)
		})
		if cfg.WatchTiers && cfg.TiersFile != "" {
			g.Go(func() error {
				return tier.Watch(ctx, cfg.TiersFile, srv.SetRegistry)
			})
		}
		err = g.Wait()
		slog.Info("Server stopped")
		return err
	},
}
