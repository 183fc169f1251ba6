// ABOUTME: Daemon entrypoint wiring the store, trace queue, event router, consumer, cleanup, and HTTP server.
// ABOUTME: Stale jobs are reconciled before the server accepts work and again best-effort at shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/murtihash94/kasal-sub013/engine"
	"github.com/murtihash94/kasal-sub013/store"
	"github.com/murtihash94/kasal-sub013/tracking"
	"github.com/murtihash94/kasal-sub013/web"
)

var version = "dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)
	fs := flag.NewFlagSet("kasald", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to YAML config file")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Printf("kasald %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(configPath))
}

func run(configPath string) int {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		log.Printf("kasald: loading config failed err=%v", err)
		return 1
	}

	if err := os.MkdirAll(cfg.OutputDir(), 0o755); err != nil {
		log.Printf("kasald: creating data directory failed dir=%s err=%v", cfg.DataDir, err)
		return 1
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		log.Printf("kasald: opening store failed path=%s err=%v", cfg.DatabasePath(), err)
		return 1
	}
	defer func() { _ = st.Close() }()

	queue := tracking.NewTraceQueue(cfg.QueueCapacity)
	bus := engine.NewBus()
	router := tracking.NewEventRouter(bus)
	combiner := tracking.NewOutputCombiner(st, st, cfg.OutputDir(), tracking.WithCombinationRecorder(st))
	consumer := tracking.NewTraceConsumer(queue, st)
	cleanup := tracking.NewCleanupService(st)
	cleanup.SetBatchSize(cfg.CleanupBatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reconcile stale jobs before accepting new work.
	if n := cleanup.CleanupStaleJobs(ctx); n > 0 {
		log.Printf("kasald: startup reconciliation cancelled_jobs=%d", n)
	}

	consumerDone := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(consumerDone)
	}()

	server := &http.Server{
		Addr:    cfg.Bind,
		Handler: web.NewServer(st, router, combiner, queue),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("kasald: listening addr=%s data_dir=%s version=%s", cfg.Bind, cfg.DataDir, version)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("kasald: server failed err=%v", err)
			return 1
		}
	case <-ctx.Done():
		log.Printf("kasald: shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("kasald: server shutdown err=%v", err)
	}

	// Stop producers, then flush whatever telemetry is still buffered.
	queue.Close()
	<-consumerDone
	if flushed := consumer.Flush(shutdownCtx); flushed > 0 {
		log.Printf("kasald: flushed buffered traces count=%d", flushed)
	}

	// Best-effort reconciliation on the way out; shutdown may be interrupted.
	if n := cleanup.CleanupStaleJobs(shutdownCtx); n > 0 {
		log.Printf("kasald: shutdown reconciliation cancelled_jobs=%d", n)
	}

	return 0
}
