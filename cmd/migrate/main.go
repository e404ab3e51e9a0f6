// Command migrate applies the Postgres schema without starting the API,
// for deployments that run migrations as a separate release step.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Cypherspark/optout-gateway/internal/config"
	"github.com/Cypherspark/optout-gateway/internal/db"
	"github.com/Cypherspark/optout-gateway/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	dsn := pflag.String("dsn", "", "postgres DSN, overrides postgres.dsn")
	attempts := pflag.Int("attempts", 5, "connection attempts before giving up")
	pflag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		exitCode = 1
		return
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		exitCode = 1
		return
	}
	defer func() { _ = log.Sync() }()

	if *dsn != "" {
		cfg.Postgres.DSN = *dsn
	}
	if cfg.Postgres.DSN == "" {
		log.Error("no postgres dsn configured")
		exitCode = 2
		return
	}

	if err := db.MigrateWithRetry(cfg.Postgres.DSN, *attempts); err != nil {
		log.Error("migration failed", zap.Error(err))
		exitCode = 1
		return
	}

	// confirm the schema is usable with the same pool settings the API uses
	pg, err := db.Open(context.Background(), cfg.Postgres.DSN, 1)
	if err != nil {
		log.Error("post-migration check failed", zap.Error(err))
		exitCode = 1
		return
	}
	defer pg.Close()
	if _, err := pg.Get(context.Background(), db.KeyConfig); err != nil && !errors.Is(err, db.ErrNotFound) {
		log.Error("kv_records not readable", zap.Error(err))
		exitCode = 1
		return
	}
	log.Info("migrations applied")
}
