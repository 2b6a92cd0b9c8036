package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dgallion1/pdfdrop/internal/api"
	"github.com/dgallion1/pdfdrop/internal/app"
	"github.com/dgallion1/pdfdrop/internal/config"
)

func main() {
	if err := config.LoadDotenv(); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(1)
	}

	fs := pflag.NewFlagSet("pdfdrop-server", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg := config.Load(config.NewViper(fs))
	log := app.NewLogger(os.Stdout, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := app.Build(cfg, log)
	if err != nil {
		log.Error("initialize", "error", err)
		os.Exit(1)
	}

	if cfg.VerifyStorage {
		verifyCtx, verifyCancel := context.WithTimeout(ctx, 15*time.Second)
		if err := c.Storage.Verify(verifyCtx); err != nil {
			// Extraction still works; publishing will report per-file failures.
			log.Warn("storage check failed", "backend", c.Storage.Backend, "error", err)
		}
		verifyCancel()
	}

	c.Runner.Start(ctx)

	srv := api.NewServer(c.Runner, c.Workspace, c.Extractor.Stats, log, cfg)

	// Uploads run the whole pipeline inside the request.
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: cfg.ExtractTimeout + 5*time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		c.Runner.Stop()
		c.Close()
	}()

	log.Info("starting pdfdrop",
		"port", cfg.Port,
		"storage", cfg.StorageBackend,
		"publish_root", cfg.DropboxRoot,
		"generated_dir", cfg.GeneratedDir,
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}
