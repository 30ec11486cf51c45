package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tourney/internal/config"
	"tourney/internal/game"
	"tourney/internal/handlers"
	"tourney/internal/localtime"
	"tourney/internal/logging"
	"tourney/internal/page"
	"tourney/internal/render"
	"tourney/internal/replay"
	"tourney/internal/storage"
	"tourney/internal/templates"
)

const replayCacheTTL = 30 * time.Minute

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Debug = cfg.Debug
	log.SetPrefix("[TOURNEY] ")
	templates.SetCommit(commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *storage.Store
	if cfg.DatabaseURL != "" {
		db, err := storage.New(cfg.DatabaseURL, cfg.Debug)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		store = storage.NewStore(db)
	} else {
		logging.Infof("DATABASE_URL not set, match pages are disabled")
	}

	fetcher, err := replay.NewHTTPFetcher(cfg.PublicBaseURL, cfg.ReplayFetchTimeout, cfg.ReplayFetchRPS)
	if err != nil {
		log.Fatalf("replay fetcher: %v", err)
	}
	fetcher.MaxBytes = cfg.ReplayMaxBytes
	policy, _ := cfg.DecodePolicy()
	loc, _ := cfg.Location()
	lang, _ := cfg.Lang()

	pages := &page.Processor{
		Loader: &replay.Loader{
			Fetcher:     fetcher,
			Parser:      replay.ParserFunc(game.Parse),
			Renderer:    render.Replay{},
			Policy:      policy,
			Concurrency: cfg.ReplayConcurrency,
		},
		Localizer: localtime.New(loc, lang),
	}
	cache := handlers.NewReplayCache(ctx, store.Replay, replayCacheTTL, cfg.ReplayCacheBytes)
	h := handlers.NewHandler(store, pages, lang, cache, cfg.UploadToken)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Errorf("shutdown: %v", err)
		}
	}()

	log.Printf("Tourney %s (%s) listening on %s, replays decoded as %s", commit, buildDate, cfg.HTTPAddr, policy)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
