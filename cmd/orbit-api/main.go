package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/orbitsocial/orbit/internal/auth"
	"github.com/orbitsocial/orbit/internal/config"
	"github.com/orbitsocial/orbit/internal/content"
	"github.com/orbitsocial/orbit/internal/database"
	"github.com/orbitsocial/orbit/internal/events"
	"github.com/orbitsocial/orbit/internal/ident"
	"github.com/orbitsocial/orbit/internal/logging"
	"github.com/orbitsocial/orbit/internal/media"
	"github.com/orbitsocial/orbit/internal/messaging"
	"github.com/orbitsocial/orbit/internal/server"
	"github.com/orbitsocial/orbit/internal/social"
	"github.com/orbitsocial/orbit/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orbit-api",
		Short: "Orbit social backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

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
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("event-webhook-url", defaults.GetString("events.webhook_url"), "Webhook endpoint for domain events")
	cmd.PersistentFlags().String("media-bucket", defaults.GetString("media.bucket"), "S3 bucket for uploaded media")
	cmd.PersistentFlags().String("media-region", defaults.GetString("media.region"), "AWS region for the media bucket")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "events.webhook_url", "event-webhook-url")
	bindFlag(cmd, "media.bucket", "media-bucket")
	bindFlag(cmd, "media.region", "media-region")
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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "orbit-auth",
		Audience:      "orbit-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	identityVerifier, err := auth.NewIdentityVerifier(auth.IdentityVerifierConfig{
		Audience:       appConfig.GoogleClientID,
		JWKSURL:        appConfig.GoogleJWKSURL,
		AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	var emitter events.Emitter = events.NopEmitter{}
	if appConfig.EventWebhookURL != "" {
		webhookEmitter, err := events.NewWebhookEmitter(events.WebhookEmitterConfig{
			URL:    appConfig.EventWebhookURL,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		emitter = webhookEmitter
	}

	idProvider := ident.NewUUIDProvider()

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	socialService, err := social.NewService(social.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Emitter:    emitter,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	contentService, err := content.NewService(content.ServiceConfig{
		Database:   db,
		Graph:      socialService,
		Clock:      time.Now,
		IDProvider: idProvider,
		Emitter:    emitter,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	hub := messaging.NewHub(logger)
	messagingService, err := messaging.NewService(messaging.ServiceConfig{
		Database:   db,
		Hub:        hub,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var mediaService *media.Service
	if appConfig.MediaBucket != "" {
		presigner, err := media.NewPresignClient(ctx, appConfig.MediaRegion)
		if err != nil {
			return err
		}
		mediaService, err = media.NewService(media.ServiceConfig{
			Presigner: presigner,
			Bucket:    appConfig.MediaBucket,
			KeyPrefix: appConfig.MediaKeyPrefix,
			URLExpiry: appConfig.MediaURLExpiry,
		})
		if err != nil {
			return err
		}
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		IdentityVerifier: identityVerifier,
		TokenManager:     tokenManager,
		Users:            usersService,
		Social:           socialService,
		Content:          contentService,
		Messaging:        messagingService,
		Hub:              hub,
		Media:            mediaService,
		Logger:           logger,
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
