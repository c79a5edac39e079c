package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-films/config"
	"github.com/aluiziolira/go-scrape-films/database"
	"github.com/aluiziolira/go-scrape-films/models"
	"github.com/aluiziolira/go-scrape-films/pipeline"
	"github.com/aluiziolira/go-scrape-films/scraper"
	"github.com/aluiziolira/go-scrape-films/storage"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		attrs := []any{slog.Any("error", err)}
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			attrs = append(attrs, slog.String("stage", stageErr.Stage))
		}
		slog.Error("run failed", attrs...)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "scraper <playlist-url>",
		Short: "Sync a film list or ratings playlist into object storage",
		Long: `Scrapes a film list (/<user>/list/<slug>/) or ratings page (/<user>/films/ratings/),
fetches detail pages only for films missing from the stored snapshot, and
replaces the snapshot with the merged table.

Storage and database settings come from the environment or a .env file
(STORAGE_BUCKET, STORAGE_ENDPOINT, DATABASE_HOST, ...). Every flag can also be
set as SCRAPER_<FLAG>, e.g. SCRAPER_FETCH_MODE=collector.`,
		Example: `  scraper https://letterboxd.com/someone/list/favourites/
  scraper --overwrite --database https://letterboxd.com/someone/films/ratings/`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(".", cmd.Flags())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.PlaylistURL = args[0]
			}
			if cfg.PlaylistURL == "" {
				return fmt.Errorf("playlist url is required")
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("fetch-mode", defaults.FetchMode, "HTTP fetch strategy: sequential, pool, or collector")
	flags.String("parse-mode", defaults.ParseMode, "Page parsing: sequential or pool")
	flags.Int("parallel", defaults.Parallelism, "Number of concurrent requests and parse workers")
	flags.Duration("timeout", defaults.Timeout, "Per request timeout")
	flags.Int("max-retries", defaults.MaxRetries, "Maximum retry attempts per URL")
	flags.Duration("retry-backoff", defaults.RetryBackoff, "Initial retry backoff")
	flags.Duration("retry-backoff-max", defaults.RetryBackoffMax, "Maximum retry backoff")
	flags.String("user-agent", defaults.UserAgent, "User-Agent header sent with every request")
	flags.Int("cache-size", defaults.CacheSize, "Pages kept in the in-memory page cache (0 disables it)")
	flags.Bool("overwrite", false, "Ignore the stored snapshot and fetch every film again")
	flags.Bool("database", false, "Also replace the playlist table in the configured database")
	flags.String("output", "", "Also write the final table to this local file")
	flags.String("format", defaults.OutputFormat, "Local output format: csv or json")
	flags.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	flags.String("log-file", "", "Also write JSON logs to this file, rotated by size")
	flags.BoolP("verbose", "v", false, "Enable verbose logging")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, closer := newLogger(cfg.Verbose, cfg.LogFile)
	defer closer.Close()
	slog.SetDefault(logger.With(slog.String("run_id", uuid.NewString())))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("starting sync",
		slog.String("url", cfg.PlaylistURL),
		slog.String("fetch_mode", cfg.FetchMode),
		slog.String("parse_mode", cfg.ParseMode),
		slog.Int("workers", cfg.Parallelism),
		slog.Bool("overwrite", cfg.Overwrite),
	)

	metrics := scraper.NewMetrics()
	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	fetcher, err := scraper.New(cfg, scraper.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}

	client, err := storage.NewClient(cfg.Storage)
	if err != nil {
		return &pipeline.StageError{Stage: pipeline.StageSnapshot, Err: err}
	}
	store := storage.NewSnapshotStore(client, cfg.Storage.Bucket)
	if err := store.EnsureBucket(ctx, cfg.Storage.Region); err != nil {
		return &pipeline.StageError{Stage: pipeline.StageSnapshot, Err: err}
	}

	engine := pipeline.NewEngine(fetcher, store, pipeline.NewConverter(cfg.ParseMode, cfg.Parallelism), metrics)

	result, err := engine.Reconcile(ctx, cfg.PlaylistURL, cfg.Overwrite)
	if err != nil {
		return err
	}
	if err := engine.Persist(ctx, result); err != nil {
		return err
	}

	if cfg.WriteDatabase {
		if err := writeDatabase(ctx, cfg.Database, result); err != nil {
			return &pipeline.StageError{Stage: pipeline.StageDatabase, Err: err}
		}
	}

	if cfg.OutputFile != "" {
		if err := pipeline.Export(cfg.OutputFile, cfg.OutputFormat, result.Table); err != nil {
			return fmt.Errorf("write %s: %w", cfg.OutputFile, err)
		}
		slog.Info("local copy written", slog.String("path", cfg.OutputFile), slog.String("format", cfg.OutputFormat))
	}

	printSummary(os.Stdout, result, cfg)
	return nil
}

func writeDatabase(ctx context.Context, cfg database.Config, result *models.RunResult) error {
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	return database.NewTableWriter(db).Write(ctx, result.Playlist.TableName(), result.Table)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newLogger(verbose bool, logFile string) (*slog.Logger, io.Closer) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
	opts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	if isTerminal(os.Stdout) {
		console = slog.NewTextHandler(os.Stdout, opts)
	} else {
		console = slog.NewJSONHandler(os.Stdout, opts)
	}
	if logFile == "" {
		return slog.New(console), nopCloser{}
	}

	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	return slog.New(fanoutHandler{console, slog.NewJSONHandler(rotating, opts)}), rotating
}

// fanoutHandler sends every record to all handlers.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, handler := range h {
		out[i] = handler.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, handler := range h {
		out[i] = handler.WithGroup(name)
	}
	return out
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
