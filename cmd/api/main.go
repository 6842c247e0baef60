package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"worklane.org/internal/auth"
	"worklane.org/internal/config"
	"worklane.org/internal/httpapi"
	"worklane.org/internal/obs"
)

var version = "0.3.1"

const sweepInterval = time.Hour

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("WORKLANE_PG_DSN is not configured")
	}

	store, err := auth.Open(cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	svc, err := auth.NewService(store, cfg.SigningKey,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithLeeway(cfg.Leeway),
		auth.WithBcryptCost(cfg.BcryptCost),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: store.DB()}, version, httpapi.Options{
		RateBurst:   cfg.RateBurst,
		RatePerSec:  cfg.RatePerSec,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting %s %s on %s", "worklane-api", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// Expired refresh-token rows are dead weight; correctness relies on
	// read-time expiry, this just keeps the table small.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(sweepCtx, 30*time.Second)
				if n, err := svc.SweepExpiredTokens(ctx); err != nil {
					log.Printf("token sweep: %v", err)
				} else if n > 0 {
					log.Printf("token sweep: removed %d expired rows", n)
				}
				cancel()
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = store.Close()
	log.Println("Stopped")
}
