package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"lpr-service/internal/app"
	"lpr-service/internal/config"
	httpapi "lpr-service/internal/http"
	"lpr-service/internal/logger"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "lpr-service",
		Short:         "UniFi Protect license plate webhook receiver",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Version == "dev" {
				cfg.Version = version
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.NVR != nil {
		if err := a.NVR.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("unifi protect unavailable, continuing in webhook-only mode")
		}
		defer a.NVR.Disconnect(context.Background())
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      newRouter(a, log),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", cfg.Version).
			Bool("webhook_secret", cfg.Webhook.Secret != "").
			Bool("thumbnails", cfg.Thumbnails.Enabled).
			Msg("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

func newRouter(a *app.App, log zerolog.Logger) *gin.Engine {
	cfg := a.Config
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpapi.RequestLogger(log))
	r.Use(cors.New(corsConfig(cfg)))

	if a.LocalStore != nil && strings.HasPrefix(cfg.Thumbnails.PublicBaseURL, "/") {
		r.Static(cfg.Thumbnails.PublicBaseURL, a.LocalStore.BasePath())
	}

	handler := httpapi.NewHandler(a.Detections, a.NVRState(), cfg, log)
	handler.Register(r, httpapi.AuthMiddleware(cfg.Auth.JWTSecret, log))
	return r
}

func corsConfig(cfg *config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", cfg.Webhook.SignatureHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.HTTP.CORSOrigins) == 0 || (len(cfg.HTTP.CORSOrigins) == 1 && cfg.HTTP.CORSOrigins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.HTTP.CORSOrigins
	}
	return c
}
