package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"miniserve/internal/config"
	"miniserve/internal/httpserver"
	"miniserve/internal/listener"
	"miniserve/internal/qrcode"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.ParseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("argument error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Fatalf("create state dir: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := httpserver.New(ctx, httpserver.Options{Config: cfg})
	if err != nil {
		log.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	bound, err := listener.OpenAll(cfg)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	scheme := "http"
	if cfg.TLS != nil {
		scheme = "https"
	}
	announce(cfg, bound, scheme)

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: config.DefaultReadHeaderTimeout,
		IdleTimeout:       config.DefaultIdleTimeout,
	}

	errs := make(chan error, len(bound))
	for _, b := range bound {
		go func(b listener.Bound) {
			errs <- httpSrv.Serve(b.Listener)
		}(b)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}
}

func announce(cfg config.Config, bound []listener.Bound, scheme string) {
	log.Printf("serving %s", cfg.RootPath)
	var firstURL string
	for _, b := range bound {
		url := b.URL(scheme, cfg.RoutePrefix)
		if firstURL == "" {
			firstURL = url
		}
		log.Printf("listening on %s", url)
	}
	if cfg.RandomRoute {
		log.Printf("random route prefix: %s", cfg.RoutePrefix)
	}
	if cfg.QRCode && firstURL != "" {
		if err := qrcode.WriteTo(os.Stdout, firstURL); err != nil {
			log.Printf("qrcode: %v", err)
		}
	}
}
