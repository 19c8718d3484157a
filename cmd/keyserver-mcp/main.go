package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/contental/keyserver/internal/config"
	"github.com/contental/keyserver/internal/core"
	"github.com/contental/keyserver/internal/db"
	"github.com/contental/keyserver/internal/logging"
	"github.com/contental/keyserver/internal/mcpserver"
)

func main() {
	var (
		stdio = flag.Bool("stdio", false, "Serve over stdio instead of HTTP")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.MCPOwnerUsername == "" {
		fmt.Fprintln(os.Stderr, "MCP_OWNER_USERNAME is required")
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	services := core.NewServices(pool, cfg.JWTSecret, cfg.JWTIssuer)

	lookupCtx, lookupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	owner, err := services.Owner.GetByUsername(lookupCtx, cfg.MCPOwnerUsername)
	lookupCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to look up operator account")
	}
	if owner == nil {
		logger.Fatal().Str("username", cfg.MCPOwnerUsername).
			Msg("operator account not found; create it with keyserver-api create-owner")
	}

	srv := mcpserver.New(services,
		mcpserver.Operator{ID: owner.ID, Username: owner.Username},
		core.IssueDefaults{
			FormatPrefix: cfg.DefaultFormatPrefix,
			ExpiryDays:   cfg.DefaultExpiryDays,
			MaxUses:      cfg.DefaultMaxUses,
		},
		logger,
	)

	if *stdio {
		if err := srv.ServeStdio(); err != nil {
			logger.Fatal().Err(err).Msg("stdio server error")
		}
		return
	}

	if err := srv.ServeHTTP(cfg.MCPListenAddr); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
