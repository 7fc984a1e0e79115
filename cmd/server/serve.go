package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"news/internal/forum"
	"news/internal/kv"
	"news/internal/models"
	"news/internal/oauth"
	"news/internal/permissions"
	"news/internal/server"
	"news/internal/session"
	"news/internal/tags"
)

var (
	port          string
	sweepInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the HTTP API. The database is migrated and the core tags are seeded
on startup. Expired session records are swept periodically.

Examples:
  news serve                      # Listen on $PORT (default 8080)
  news serve --port 9000 --db data/dev.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&port, "port", "", "Port to listen on (overrides PORT)")
	serveCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Hour, "How often expired sessions are deleted")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taxonomy := tags.MustTaxonomy(tags.DefaultCoreTags)
	database, err := openStore(ctx, cfg.DatabaseURL, taxonomy)
	if err != nil {
		return err
	}
	defer database.Close()

	client, err := oauth.New(oauth.Config{
		ProviderURL:  cfg.IDProviderURL,
		ClientID:     cfg.OAuthClientID,
		PublicOrigin: cfg.PublicOrigin,
		StateSecret:  []byte(cfg.StateSecret),
	})
	if err != nil {
		return err
	}

	store := kv.NewSQL(database)
	resolver := permissions.NewResolver(models.Roles{DB: database}, taxonomy)
	srv := server.New(server.Options{
		DB:                 database,
		Forum:              forum.New(database, taxonomy, resolver),
		Sessions:           session.NewManager(store, cfg.SessionTTL, session.WithLogger(log)),
		Permissions:        resolver,
		OAuth:              client,
		Logger:             log,
		CookieName:         cfg.SessionCookieName,
		SecureCookies:      cfg.Secure(),
		CORSOrigins:        cfg.CorsAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go sweepSessions(ctx, store, sweepInterval, log)

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Str("dialect", string(database.Dialect())).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
		return err
	}
	return nil
}

func sweepSessions(ctx context.Context, store *kv.SQL, every time.Duration, log zerolog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Sweep(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("sweep expired sessions")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("swept expired sessions")
			}
		}
	}
}
