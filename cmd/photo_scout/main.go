package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"photo-scout/internal/middleware/logger"
	"photo-scout/internal/photo_scout/api"
	"photo-scout/internal/photo_scout/helper"
	"photo-scout/internal/photo_scout/processor"
	"photo-scout/internal/photo_scout/scheduler"
	"photo-scout/internal/photo_scout/source"
	"photo-scout/internal/photo_scout/store"
	"photo-scout/pkg/config"
)

const usage = `usage: photo_scout [-config path] <command> [flags]

commands:
  cycle     [-page N]                              run the ingestion cycle until interrupted
  export    [-collection C] [-where field=value]   write a collection to <dir>/<C>.json
  import    [-collection C]                        load <dir>/<C>.json into a collection
  backfill                                         copy geohash from the geo collection into spots`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "photo_scout:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("photo_scout", flag.ContinueOnError)
	cfgPath := global.String("config", "config/config.yaml", "path to the yaml config")
	global.Usage = func() { fmt.Fprintln(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}
	command, rest := global.Arg(0), global.Args()[1:]

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting photo scout", zap.String("command", command))

	stores, err := helper.ConnectMongo(ctx, cfg.Mongo, cfg.Cycle.Collection)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stores.Close(closeCtx); err != nil {
			log.Warn("Failed to disconnect mongo", zap.Error(err))
		}
	}()
	docs := store.NewMongoStore(stores.DB, log)

	switch command {
	case "cycle":
		return runCycle(ctx, log, cfg, docs, rest)
	case "export":
		return runExport(ctx, log, cfg, docs, rest)
	case "import":
		return runImport(ctx, log, cfg, docs, rest)
	case "backfill":
		return runBackfill(ctx, log, cfg, docs, rest)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runCycle(ctx context.Context, log *zap.Logger, cfg *config.Config, docs store.DocumentStore, args []string) error {
	fs := flag.NewFlagSet("cycle", flag.ContinueOnError)
	page := fs.Int("page", cfg.Cycle.StartPage, "page to start from")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src, err := source.NewUnsplashSource(source.UnsplashOptions{
		BaseURL:           cfg.Source.BaseURL,
		AccessKey:         cfg.Source.AccessKey,
		Provider:          cfg.Source.Provider,
		Timeout:           cfg.Source.Timeout,
		RequestsPerSecond: cfg.Source.RequestsPerSecond,
		Log:               log.Named("source"),
	})
	if err != nil {
		return err
	}

	worker := scheduler.NewWorker(log.Named("cycle"), src, docs, scheduler.Config{
		Collection: cfg.Cycle.Collection,
		StartPage:  *page,
		PageSize:   cfg.Cycle.PageSize,
		SortOrder:  cfg.Cycle.SortOrder,
		Advance:    scheduler.Window{Min: cfg.Cycle.AdvanceMin, Max: cfg.Cycle.AdvanceMax},
		Backoff:    scheduler.Window{Min: cfg.Cycle.BackoffMin, Max: cfg.Cycle.BackoffMax},
	})

	if cfg.API.Addr != "" {
		srv := &api.Server{Log: log.Named("api"), Store: docs, Status: worker}
		router := srv.Router()
		_ = router.SetTrustedProxies(nil)
		httpSrv := &http.Server{Addr: cfg.API.Addr, Handler: router}
		go func() {
			log.Info("Status API is running", zap.String("address", cfg.API.Addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Status API stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	err = worker.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("Ingestion cycle interrupted")
		return nil
	}
	return err
}

func runExport(ctx context.Context, log *zap.Logger, cfg *config.Config, docs store.DocumentStore, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	collection := fs.String("collection", cfg.Cycle.Collection, "collection to export")
	var where whereFlags
	fs.Var(&where, "where", "filter as field<op>value, repeatable (ops: == != < <= > >=, = means ==)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	n, err := processor.NewTransfer(log, docs, cfg.Transfer.Dir).Export(ctx, *collection, where...)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d documents from %s\n", n, *collection)
	return nil
}

func runImport(ctx context.Context, log *zap.Logger, cfg *config.Config, docs store.DocumentStore, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	collection := fs.String("collection", cfg.Cycle.Collection, "collection to import into")
	if err := fs.Parse(args); err != nil {
		return err
	}

	n, err := processor.NewTransfer(log, docs, cfg.Transfer.Dir).Import(ctx, *collection)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d documents into %s\n", n, *collection)
	return nil
}

func runBackfill(ctx context.Context, log *zap.Logger, cfg *config.Config, docs store.DocumentStore, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	b := processor.NewBackfill(log, docs, cfg.Backfill.Spots, cfg.Backfill.Geo, cfg.Backfill.MaxDelay)
	res, err := b.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("backfill copied %d, skipped %d\n", res.Copied, res.Skipped)
	return nil
}
