package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/valentine/backend/internal/config"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/database"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/server"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/sites"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "valentine-api",
		Short: "Valentine page backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired valentine sites and exit",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd.Context())
		},
	}
	rootCmd.AddCommand(purgeCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("domain", defaults.GetString("site.domain"), "Public domain used in shared site URLs")
	cmd.PersistentFlags().String("cors-origins", defaults.GetString("cors.origins"), "Comma-separated allowed CORS origins")
	cmd.PersistentFlags().Int("rate-limit", defaults.GetInt("ratelimit.per_hour"), "Site creations per hour per client")
	cmd.PersistentFlags().String("payload-mode", defaults.GetString("payload.mode"), "Accepted payload variant (plain or encrypted)")
	cmd.PersistentFlags().String("expires-at", defaults.GetString("site.expires_at"), "RFC3339 expiry cutoff stamped on new sites")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "site.domain", "domain")
	bindFlag(cmd, "cors.origins", "cors-origins")
	bindFlag(cmd, "ratelimit.per_hour", "rate-limit")
	bindFlag(cmd, "payload.mode", "payload-mode")
	bindFlag(cmd, "site.expires_at", "expires-at")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sitesService, err := sites.NewService(sites.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: sites.NewNanoIDProvider(),
		ExpiresAt:  appConfig.ExpiresAt,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{Limit: appConfig.RateLimit})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sites:       sitesService,
		Limiter:     limiter,
		Domain:      appConfig.Domain,
		CORSOrigins: appConfig.CORSOrigins,
		PayloadMode: appConfig.PayloadMode,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runPurge is the scheduled-job entry point replacing request-path cleanup:
// it sweeps expired sites once and exits.
func runPurge(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sitesService, err := sites.NewService(sites.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: sites.NewNanoIDProvider(),
		ExpiresAt:  appConfig.ExpiresAt,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	deleted, err := sitesService.PurgeExpired(ctx, time.Now())
	if err != nil {
		return err
	}
	logger.Info("purge finished", zap.Int64("deleted", deleted))
	return nil
}
