package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"linedex/internal/config"
	"linedex/internal/home"
	"linedex/internal/index"
	"linedex/internal/logging"
	"linedex/internal/reader"
	"linedex/internal/server"
	"linedex/internal/source"
	"linedex/internal/watch"
)

const (
	// watchPollInterval backs up fsnotify on filesystems that drop events.
	watchPollInterval = 30 * time.Second

	defaultShutdownTimeout = 10 * time.Second
)

func newServeCmd(logger *slog.Logger, filter *logging.ComponentFilterHandler) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [SOURCE]",
		Short: "Serve metadata and line ranges over HTTP",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := serveConfig(cmd, args)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("log-level") && cfg.LogLevel != "" {
				level, _ := config.ParseLevel(cfg.LogLevel)
				filter.SetDefaultLevel(level)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return err
			}
			return runServe(ctx, logger, cfg, ln)
		},
	}

	d := config.Default()
	cmd.Flags().String("config", "", "JSON config file")
	cmd.Flags().String("source", "", "source file (or pass it as the argument)")
	cmd.Flags().String("index-dir", "", "index directory (default: SOURCE.linedex)")
	cmd.Flags().String("addr", d.Server.Addr, "listen address (host:port)")
	cmd.Flags().Bool("mmap", d.Server.Mmap, "serve the offset table from a read-only mapping")
	cmd.Flags().Bool("watch", d.Server.Watch, "flag the index stale when the source changes")
	cmd.Flags().Bool("build-missing", false, "build the index first if it does not exist")
	cmd.Flags().Int("max-limit", d.Server.MaxLimit, "maximum lines per range request")
	cmd.Flags().Float64("rate-limit", d.Server.RateLimit, "range requests per second per client IP (0 disables)")
	cmd.Flags().Int("rate-burst", d.Server.RateBurst, "rate limit burst")
	cmd.Flags().StringSlice("allowed-origin", nil, "extra CORS origin, * for any (repeatable)")
	cmd.Flags().String("read-timeout", d.Server.ReadTimeout, "timeout for one range read")
	cmd.Flags().String("bucket-policy", d.BucketPolicy, "bucket policy for --build-missing")
	return cmd
}

// serveConfig layers defaults, the optional config file and changed flags.
func serveConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	if len(args) == 1 {
		cfg.Source = args[0]
	}
	if f.Changed("source") {
		cfg.Source, _ = f.GetString("source")
	}
	if f.Changed("index-dir") {
		cfg.IndexDir, _ = f.GetString("index-dir")
	}
	if f.Changed("bucket-policy") {
		cfg.BucketPolicy, _ = f.GetString("bucket-policy")
	}
	if f.Changed("addr") {
		cfg.Server.Addr, _ = f.GetString("addr")
	}
	if f.Changed("mmap") {
		cfg.Server.Mmap, _ = f.GetBool("mmap")
	}
	if f.Changed("watch") {
		cfg.Server.Watch, _ = f.GetBool("watch")
	}
	if f.Changed("max-limit") {
		cfg.Server.MaxLimit, _ = f.GetInt("max-limit")
	}
	if f.Changed("rate-limit") {
		cfg.Server.RateLimit, _ = f.GetFloat64("rate-limit")
	}
	if f.Changed("rate-burst") {
		cfg.Server.RateBurst, _ = f.GetInt("rate-burst")
	}
	if f.Changed("allowed-origin") {
		cfg.Server.AllowedOrigins, _ = f.GetStringSlice("allowed-origin")
	}
	if f.Changed("read-timeout") {
		cfg.Server.ReadTimeout, _ = f.GetString("read-timeout")
	}
	if f.Changed("build-missing") {
		cfg.BuildMissing, _ = f.GetBool("build-missing")
	}

	if cfg.Source == "" {
		return config.Config{}, errors.New("no source given (argument, --source or config file)")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// runServe loads the index for cfg.Source and serves it on ln until ctx is
// cancelled.
func runServe(ctx context.Context, logger *slog.Logger, cfg config.Config, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dir := home.Resolve(cfg.IndexDir, cfg.Source)

	if !dir.Exists() {
		if !cfg.BuildMissing {
			_ = ln.Close()
			return fmt.Errorf("no index in %s (run `linedex build %s` or pass --build-missing)", dir.Root(), cfg.Source)
		}
		policy, _ := index.ParsePolicy(cfg.BucketPolicy)
		helper := index.NewBuildHelper(index.NewBuilder(index.BuilderConfig{Policy: policy, Logger: logger}))
		r, err := helper.Build(ctx, index.BuildJob{Source: cfg.Source, Dir: dir})
		if err != nil {
			_ = ln.Close()
			return err
		}
		_ = r.Index.Close()
	}

	ix, err := index.Load(dir, index.LoadOptions{Mmap: cfg.Server.Mmap})
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("load index %s: %w", dir.Root(), err)
	}
	defer ix.Close()
	logger.Info("index loaded",
		"dir", dir.Root(),
		"lines", ix.TotalLines(),
		"build_id", ix.BuildID(),
		"mmap", cfg.Server.Mmap)

	rd := reader.New(ix.Offsets(), reader.Config{Path: cfg.Source, Logger: logger})
	srv := server.New(ix, rd, server.Config{
		Logger:         logger,
		MaxLimit:       cfg.Server.MaxLimit,
		ReadTimeout:    cfg.Server.ReadTimeoutDuration(),
		RateLimit:      rate.Limit(cfg.Server.RateLimit),
		RateBurst:      cfg.Server.RateBurst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	if err := checkSourceSize(cfg.Source, ix); err != nil {
		logger.Warn("index may be stale", "error", err)
		srv.MarkStale()
	}

	var wg sync.WaitGroup
	if cfg.Server.Watch {
		w, err := watch.New(watch.Config{
			Path:         cfg.Source,
			SourceSize:   ix.SourceSize(),
			OnStale:      func(string) { srv.MarkStale() },
			PollInterval: watchPollInterval,
			Logger:       logger,
		})
		if err != nil {
			_ = ln.Close()
			return err
		}
		wg.Go(func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("source watcher stopped", "error", err)
			}
		})
	}

	serveErr := make(chan error, 1)
	wg.Go(func() {
		serveErr <- srv.Serve(ln)
	})

	// Wait for shutdown signal or a serve failure.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("serve: %w", err)
		}
	}

	timeout := cmp.Or(cfg.Server.ShutdownTimeoutDuration(), defaultShutdownTimeout)
	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	cancel()
	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

// checkSourceSize compares the current source size with the one recorded at
// build time.
func checkSourceSize(path string, ix *index.Index) error {
	src, err := source.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	if src.Size() != ix.SourceSize() {
		return fmt.Errorf("source is %d bytes, index was built from %d", src.Size(), ix.SourceSize())
	}
	return nil
}
