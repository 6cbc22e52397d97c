package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/config"
	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/domain/questionnaire"
	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/fhir"
	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/middleware"
	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/upstream"
)

const serverVersion = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "sdc-server",
		Short: "SDC questionnaire packaging facade",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the SDC service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the supported upstream FHIR store flavors",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range upstream.KnownProviders() {
				profile, err := upstream.ProfileFor(id)
				if err != nil {
					return err
				}
				flags := ""
				if profile.ValidationStrict {
					flags += " strict-validation"
				}
				if profile.RequiresAuth {
					flags += " requires-auth"
				}
				if profile.ReadOnly {
					flags += " read-only"
				}
				fmt.Printf("%-8s %s%s\n", profile.ID, profile.Name, flags)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(serverVersion)
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Upstream store client
	upstreamCfg := upstream.Config{
		BaseURL:  cfg.FHIRBaseURL,
		Provider: cfg.FHIRProvider,
		Timeout:  cfg.Timeout(),
	}
	if cfg.HasAuth() {
		upstreamCfg.Auth = &upstream.AuthConfig{
			TokenURL:       cfg.AuthTokenURL,
			ClientID:       cfg.AuthClientID,
			PrivateKeyFile: cfg.AuthPrivateKeyFile,
			Scope:          cfg.AuthScope,
		}
	}
	client, err := upstream.New(upstreamCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure upstream store")
	}
	logger.Info().
		Str("provider", client.Provider().ID).
		Str("base_url", client.BaseURL()).
		Msg("wrapping upstream FHIR store")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "10M"))
	e.Use(middleware.RequestTimeout(2 * cfg.Timeout()))

	// API groups
	apiV1 := e.Group("/api/v1")
	fhirGroup := e.Group("/fhir")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	fhirGroup.Use(middleware.RateLimit(rateLimitCfg))

	// Questionnaire domain
	source := questionnaire.NewDocumentSourceREST(client)
	questionnaireSvc := questionnaire.NewService(source, client, logger)
	questionnaireSvc.SetBundleLimits(cfg.MaxPackageEntries, int(cfg.MaxPackageBytes))
	questionnaire.NewHandler(questionnaireSvc).RegisterRoutes(apiV1, fhirGroup)

	// Dynamic CapabilityStatement builder
	baseURL := fmt.Sprintf("http://localhost:%s/fhir", cfg.Port)
	capBuilder := fhir.NewCapabilityBuilder(baseURL, serverVersion)
	capBuilder.AddResource("Questionnaire", fhir.DefaultInteractions(), []fhir.SearchParam{
		{Name: "url", Type: "uri", Documentation: "Canonical identifier for the questionnaire"},
		{Name: "version", Type: "token", Documentation: "Business version of the questionnaire"},
		{Name: "status", Type: "token"},
		{Name: "title", Type: "string"},
		{Name: "_content", Type: "string", Documentation: "Full-text search across the resource"},
	})
	capBuilder.AddOperation("Questionnaire", fhir.OperationCapability{
		Name:          "package",
		Definition:    "http://hl7.org/fhir/uv/sdc/OperationDefinition/Questionnaire-package",
		Documentation: "Bundle a questionnaire with its value sets, code systems, libraries, and structure maps",
	})
	capBuilder.AddOperation("Questionnaire", fhir.OperationCapability{
		Name:          "localize",
		Definition:    "http://example.org/fhir/OperationDefinition/Questionnaire-localize",
		Documentation: "Reduce a questionnaire to a single language using its translation extensions",
	})
	fhirGroup.GET("/metadata", func(c echo.Context) error {
		return c.JSON(http.StatusOK, capBuilder.Build())
	})

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":   "ok",
			"version":  serverVersion,
			"provider": client.Provider().ID,
		})
	})
	e.GET("/health/upstream", func(c echo.Context) error {
		if err := client.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unreachable",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
