package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/clock"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/common/log"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/config"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/gateways/messaging"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/gateways/proxy"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/repos/followset"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/repos/kvstore"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/repos/kvstore/bolt"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/repos/kvstore/memory"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/repos/settings"
	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/services/page"
)

const (
	version = "0.1.0-dev"
	appName = "insta-sanitized"

	defaultShutdownTimeout = 10 * time.Second
)

// Application holds every long-lived component of the sanitizer.
type Application struct {
	config   *config.AppConfig
	kv       kvstore.Store
	bus      *messaging.Bus
	settings *settings.Provider
	follows  *followset.Store
	runtime  *page.Runtime
	proxy    *proxy.Server
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Serve Instagram with suggestions, ads and unfollowed posts removed",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newFilterCmd(), newFollowsCmd())
	return root
}

// --- serve ---

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sanitizing proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info(map[string]any{
				"version":   version,
				"env":       cfg.Env,
				"log_level": cfg.LogLevel,
				"listen":    cfg.Listen,
				"upstream":  cfg.Upstream,
				"store":     cfg.StorePath,
			}, "Starting insta-sanitized")

			app, err := buildApplication(cfg)
			if err != nil {
				return fmt.Errorf("failed to build application: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx)
		},
	}
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("logging configuration error: %w", err)
	}
	return cfg, nil
}

// buildApplication wires storage, the extension side and the page side. A
// store that cannot be opened falls back to memory; a page runtime that
// cannot be built leaves the proxy serving the site unfiltered.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", cfg.Upstream, err)
	}
	clk := &clock.RealClock{}

	kv, err := bolt.New(cfg.StorePath)
	if err != nil {
		log.Warn(map[string]any{"path": cfg.StorePath, "error": err.Error()}, "store unavailable, settings and follows will not persist")
		kv = memory.New()
	}

	prov := settings.New(kv)
	if _, err := prov.Load(); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "stored settings rejected, using defaults")
	}
	prov.Watch(clk)

	bus := messaging.New(cfg.BusBuffer)
	follows := followset.New(kv, bus, followset.Options{SaveDelay: cfg.SaveDelay, Clock: clk})
	follows.AttachLearner(bus)
	follows.AttachStorageListener()

	app := &Application{
		config:   cfg,
		kv:       kv,
		bus:      bus,
		settings: prov,
		follows:  follows,
	}

	rt, err := page.New(prov, bus, page.Options{
		Debounce:        cfg.FilterDebounce,
		SidebarDepth:    cfg.SidebarDepth,
		ReportCacheSize: cfg.ReportCacheSize,
		Clock:           clk,
	})
	if err != nil {
		log.Error(map[string]any{"error": err.Error()}, "page runtime unavailable, serving unfiltered")
		app.proxy = proxy.New(cfg.Listen, upstream, nil, bus, nil)
		return app, nil
	}
	app.runtime = rt
	app.proxy = proxy.New(cfg.Listen, upstream, rt, bus, rt.Pipeline())
	return app, nil
}

// Run loads the follow set, serves until ctx is done and then tears every
// component down.
func (app *Application) Run(ctx context.Context) error {
	if err := app.follows.Load(ctx); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "follow set not loaded, feed stays lenient")
	}
	if err := app.proxy.Start(ctx); err != nil {
		app.close()
		return fmt.Errorf("failed to start proxy: %w", err)
	}

	<-ctx.Done()
	log.Info(nil, "Shutdown initiated")

	done := make(chan struct{})
	go func() {
		app.close()
		close(done)
	}()

	select {
	case <-done:
		log.Info(nil, "Graceful shutdown completed")
		return nil
	case <-time.After(defaultShutdownTimeout):
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
}

func (app *Application) close() {
	if err := app.proxy.Stop(); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "Error during proxy shutdown")
	}
	if app.runtime != nil {
		app.runtime.Close()
	}
	_ = app.follows.Close()
	app.settings.Close()
	_ = app.bus.Close()
	if err := app.kv.Close(); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "Error closing store")
	}
}

// --- filter ---

func newFilterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter <file>",
		Short: "Sanitize a saved HTML page and print the result",
		Long:  "Run the DOM filter over a saved page. Use - to read from stdin. Settings come from --store when given, defaults otherwise.",
		Args:  cobra.ExactArgs(1),
		RunE:  runFilter,
	}
	cmd.Flags().String("path", "/", "Location path the page was served at")
	cmd.Flags().String("store", "", "Store file to read settings from")
	return cmd
}

func runFilter(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("path")
	storePath, _ := cmd.Flags().GetString("store")

	var src io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	kv, err := openStore(storePath)
	if err != nil {
		return err
	}
	defer kv.Close()

	prov := settings.New(kv)
	if _, err := prov.Load(); err != nil {
		return err
	}
	bus := messaging.New(config.DEFAULT_APP_CONFIG.BusBuffer)
	defer bus.Close()

	rt, err := page.New(prov, bus, page.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()

	out, err := rt.Render(path, src)
	if err != nil {
		return fmt.Errorf("filter %s: %w", args[0], err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

// --- follows ---

func newFollowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "follows",
		Short: "Inspect or edit the learned follow set",
	}
	cmd.PersistentFlags().String("store", "", "Store file (defaults to the configured store path)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print every followed username",
			Args:  cobra.NoArgs,
			RunE: withFollows(func(cmd *cobra.Command, s *followset.Store, _ []string) error {
				names := s.Snapshot()
				sort.Strings(names)
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "add <username>...",
			Short: "Add usernames to the follow set",
			Args:  cobra.MinimumNArgs(1),
			RunE: withFollows(func(cmd *cobra.Command, s *followset.Store, args []string) error {
				added := 0
				for _, n := range args {
					if s.AddFollow(n) {
						added++
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %d of %d\n", added, len(args))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Forget every learned username",
			Args:  cobra.NoArgs,
			RunE: withFollows(func(cmd *cobra.Command, s *followset.Store, _ []string) error {
				return s.Reset(cmd.Context())
			}),
		},
	)
	return cmd
}

// withFollows opens the store, loads the follow set and closes both after fn,
// which flushes any pending save.
func withFollows(fn func(*cobra.Command, *followset.Store, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		storePath, _ := cmd.Flags().GetString("store")
		if storePath == "" {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			storePath = cfg.StorePath
		}
		kv, err := bolt.New(storePath)
		if err != nil {
			return err
		}
		defer kv.Close()

		bus := messaging.New(config.DEFAULT_APP_CONFIG.BusBuffer)
		defer bus.Close()
		s := followset.New(kv, bus, followset.Options{})
		defer s.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := s.Load(ctx); err != nil {
			return err
		}
		return fn(cmd, s, args)
	}
}

func openStore(path string) (kvstore.Store, error) {
	if path == "" {
		return memory.New(), nil
	}
	return bolt.New(path)
}
