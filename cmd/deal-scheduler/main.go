package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/joelkehle/deal-scheduler/internal/config"
	"github.com/joelkehle/deal-scheduler/internal/httpapi"
	"github.com/joelkehle/deal-scheduler/internal/scheduling"
	"github.com/joelkehle/deal-scheduler/internal/store"
	"github.com/joelkehle/deal-scheduler/internal/suggest"
	"github.com/joelkehle/deal-scheduler/internal/survey"
	"github.com/joelkehle/deal-scheduler/internal/telemetry"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR/PORT env vars)")
	dbFlag := flag.String("db", "", "path to SQLite database file (overrides DB_PATH env var)")
	flag.Parse()
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *dbFlag != "" {
		cfg.DBPath = *dbFlag
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "deal-scheduler", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create db dir %s: %v", dir, err)
		}
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to initialize sqlite store (%s): %v", cfg.DBPath, err)
	}
	defer db.Close()
	log.Printf("using sqlite store at %s", cfg.DBPath)

	catalog, err := survey.LoadFile(cfg.SurveyCatalogPath)
	if err != nil {
		log.Fatalf("survey catalog: %v", err)
	}
	log.Printf("survey catalog version=%s items=%d", catalog.Version(), catalog.Len())

	var composer *suggest.Composer
	if cfg.AnthropicAPIKey == "" {
		log.Printf("warning: ANTHROPIC_API_KEY not set; suggestions will report failed")
	} else {
		gen, err := suggest.NewAnthropicGenerator(cfg.AnthropicAPIKey, cfg.SuggestionModel)
		if err != nil {
			log.Fatalf("suggestion generator: %v", err)
		}
		composer = suggest.NewComposer(gen, cfg.SuggestionTimeout)
		log.Printf("suggestions enabled model=%s timeout=%s", gen.ModelName(), cfg.SuggestionTimeout)
	}

	var suggester scheduling.Suggester
	if composer != nil {
		suggester = composer
	}
	svc := scheduling.NewService(db, db, catalog, suggester, scheduling.Config{
		LinkTemplate:        cfg.LinkTemplate,
		StrictSlotSelection: cfg.StrictSlotSelection,
	})

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewServer(svc, httpapi.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			CatalogVersion: catalog.Version(),
			Store:          db,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("deal-scheduler listening on %s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
	log.Println("deal-scheduler stopped")
}
