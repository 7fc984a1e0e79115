package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"news/internal/config"
	"news/internal/db"
	"news/internal/logging"
	"news/internal/models"
	"news/internal/tags"
)

var (
	// Global flags
	dbURL string
)

var rootCmd = &cobra.Command{
	Use:   "news",
	Short: "News forum backend",
	Long: `Backend for a news and discussion forum: posts tagged with one core
category, threaded comments, admin-curated tags and OAuth sign-in.

Configuration is read from the environment (and a .env file when present).`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Database path or postgres:// URL (overrides DATABASE_URL)")
}

// loadConfig reads the environment and applies the global flags.
func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	log := logging.New().Level(cfg.LogLevel).Format(cfg.LogFormat).Make()
	return cfg, log, nil
}

// openStore opens and migrates the database and seeds the core tags.
func openStore(ctx context.Context, dsn string, taxonomy *tags.Taxonomy) (*db.DB, error) {
	database, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := models.SeedCoreTags(ctx, database, taxonomy, time.Now()); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
