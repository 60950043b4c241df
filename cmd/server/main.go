package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskgraph/internal/api"
	"taskgraph/internal/app"
	"taskgraph/internal/config"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("TASKGRAPH_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	a, err := app.Startup(ctx, cfg, 30)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()
	log.Printf("cascade actor: %s", a.Cascade.ID)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.New(a.Engine, a.Reports, a.Actors, a.Guard, a.Bus),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		log.Printf("server: received %s, shutting down", sig)
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
		cancel()
	}()

	log.Printf("taskgraph listening on :%s (%s storage)", cfg.Port, cfg.Driver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("listen: %v", err)
	}
}
