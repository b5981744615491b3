// Command tiered routes chat turns across Gemini cognitive tiers.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	tiered serve              # HTTP + WebSocket API
//	tiered chat --plan pro    # interactive REPL
//	tiered models             # list selectable tiers
//	tiered classify "text"    # show how a request would be routed
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nstogner/tiered/pkg/config"
	"github.com/nstogner/tiered/pkg/model/gemini"
	"github.com/nstogner/tiered/pkg/sandbox"
	"github.com/nstogner/tiered/pkg/sandbox/docker"
	"github.com/nstogner/tiered/pkg/store/sqlite"
	"github.com/nstogner/tiered/pkg/tier"
	"github.com/nstogner/tiered/pkg/tools"
)

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "tiered",
	Short:         "Cognitive tier routing for Gemini",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.New(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			v.Set("log.level", logLevel)
		}
		if cfg, err = config.Load(v); err != nil {
			return err
		}
		return setupLogging(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./tiered.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "trace, debug, info, warn or error")
	rootCmd.AddCommand(serveCmd, chatCmd, modelsCmd, classifyCmd)
}

func setupLogging(c *config.Config) error {
	level, err := config.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if c.Production() {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging initialized", "level", level, "environment", c.Environment)
	return nil
}

// app holds the dependencies shared by the subcommands. Fields that a
// command does not need stay nil.
type app struct {
	reg     *tier.Registry
	backend *gemini.Backend
	store   *sqlite.Store
	tools   *tools.Registry
	sandbox sandbox.Runner
}

func loadRegistry() (*tier.Registry, error) {
	if cfg.TiersFile == "" {
		return tier.Default(), nil
	}
	reg, err := tier.Load(cfg.TiersFile)
	if err != nil {
		return nil, err
	}
	slog.Info("Loaded tier table", "path", cfg.TiersFile)
	return reg, nil
}

func newBackend(ctx context.Context) (*gemini.Backend, error) {
	if cfg.Gemini.Backend != "vertex" && cfg.Gemini.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY (or gemini.api_key) is required")
	}
	return gemini.New(ctx, cfg.Gemini)
}

// openApp wires the backend, the usage store and the tool registry.
func openApp(ctx context.Context) (*app, error) {
	a := &app{}
	var err error
	if a.reg, err = loadRegistry(); err != nil {
		return nil, err
	}
	if a.backend, err = newBackend(ctx); err != nil {
		return nil, err
	}

	if a.store, err = sqlite.New(cfg.StorePath); err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if a.tools, err = tools.NewRegistry(tools.Builtins(nil)...); err != nil {
		a.close()
		return nil, err
	}
	if cfg.SandboxEnabled {
		var opts []docker.Option
		if cfg.SandboxImage != "" {
			opts = append(opts, docker.WithImage(cfg.SandboxImage))
		}
		mgr, err := docker.New(opts...)
		if err != nil {
			a.close()
			return nil, err
		}
		a.sandbox = mgr
		if err := a.tools.Register(tools.Python(mgr)); err != nil {
			a.close()
			return nil, err
		}
	}
	if a.tools, err = selectTools(a.tools, cfg.Tools); err != nil {
		a.close()
		return nil, err
	}
	slog.Info("Tools available", "tools", a.tools.Names())
	return a, nil
}

// selectTools narrows reg to the named tools. Nil keeps every tool.
func selectTools(reg *tools.Registry, names []string) (*tools.Registry, error) {
	if names == nil {
		return reg, nil
	}
	ds, err := reg.Bind(names)
	if err != nil {
		return nil, fmt.Errorf("tools.enabled: %w", err)
	}
	return tools.NewRegistry(ds...)
}

func (a *app) close() {
	if a.sandbox != nil {
		if err := a.sandbox.Close(); err != nil {
			slog.Warn("Failed to close sandbox", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}
