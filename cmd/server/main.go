package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"content-job-queue/internal/handlers"
	"content-job-queue/internal/httpapi"
	"content-job-queue/internal/otelsetup"
	"content-job-queue/internal/queue"
	"content-job-queue/internal/storage"
)

func main() {
	dbPath := flag.String("db", "jobs.db", "path to the sqlite snapshot database")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	concurrency := flag.Int("concurrency", 2, "max jobs in processing at once")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := otelsetup.InitOTel(ctx)
	if err != nil {
		log.Printf("otel init failed, continuing without telemetry: %v", err)
	}

	store, err := storage.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	// NewManager applies the crash-recovery rule to the loaded snapshot.
	mgr := queue.NewManager(store, queue.Config{Concurrency: *concurrency})
	mgr.RegisterHandler(handlers.TypeVideoGeneration, handlers.VideoGeneration)
	mgr.RegisterHandler(handlers.TypeStoryEnhancement, handlers.StoryEnhancement)
	mgr.RegisterHandler(handlers.TypeWebhook, handlers.Webhook)
	mgr.RegisterHandler(queue.TypeBatch, queue.NewBatchHandler(mgr, 0))
	mgr.Start()

	h := &httpapi.Handler{Queue: mgr}
	srv := &http.Server{
		Addr:         *addr,
		Handler:      httpapi.NewRouter(h),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("server starting on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("server error: %v", err)
	}

	log.Println("shutting down...")
	mgr.Stop()
	if shutdownOTel != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := shutdownOTel(shutCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
		cancel()
	}
	store.Close()
	log.Println("bye")
}
