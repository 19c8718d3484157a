package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contental/keyserver/internal/api"
	"github.com/contental/keyserver/internal/config"
	"github.com/contental/keyserver/internal/core"
	"github.com/contental/keyserver/internal/db"
	"github.com/contental/keyserver/internal/logging"
	"github.com/contental/keyserver/internal/metrics"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "create-owner" {
		createOwner(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations/core", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	metrics.RegisterPgxPoolMetrics(pool)

	srv := api.NewServer(logger, pool, cfg)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting key server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

func createOwner(args []string) {
	fs := flag.NewFlagSet("create-owner", flag.ExitOnError)
	username := fs.String("username", "", "Username for the owner account (required)")
	password := fs.String("password", "", "Password for the owner account (required)")
	fs.Parse(args)

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "error: --username and --password are required")
		fmt.Fprintln(os.Stderr, "usage: keyserver-api create-owner --username <name> --password <password>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := core.NewOwnerService(pool)
	owner, err := svc.Create(ctx, *username, *password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create owner: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Owner account created successfully.\n\n")
	fmt.Printf("  Username: %s\n", owner.Username)
	fmt.Printf("  ID:       %s\n", owner.ID)
}
