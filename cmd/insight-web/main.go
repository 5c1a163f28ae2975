package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/image-insight/internal/boot"
	"github.com/fpang/image-insight/internal/cli"
	"github.com/fpang/image-insight/internal/logging"
	"github.com/fpang/image-insight/internal/metrics"
	"github.com/fpang/image-insight/internal/web"
)

// CLI flags
var (
	portFlag        string
	modelFlag       string
	languageFlag    string
	envFileFlag     string
	originsFlag     []string
	emfFlag         bool
	validateKeyFlag bool
	noPlaceFlag     bool
)

var rootCmd = &cobra.Command{
	Use:   "insight-web",
	Short: "Web API for image analysis",
	Long: `Insight Web starts a local web server exposing the image analysis API.
Upload a photo or paste an image URL to get titles, captions and literary
excerpts, the camera settings and the place the photo was taken.

Examples:
  insight-web
  insight-web --port 9090
  insight-web --model gemini-2.5-pro --language en`,
	SilenceUsage: true,
	RunE:         runMain,
}

func init() {
	rootCmd.Flags().StringVar(&portFlag, "port", "", "Port to listen on (default $PORT or 8080)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (default $GEMINI_MODEL or gemini-2.5-flash)")
	rootCmd.Flags().StringVarP(&languageFlag, "language", "l", "", "Language code of generated content (default $INSIGHT_LANGUAGE or fr)")
	rootCmd.Flags().StringVar(&envFileFlag, "env-file", boot.DefaultEnvFile, "Environment file to load if present")
	rootCmd.Flags().StringSliceVar(&originsFlag, "allow-origin", nil, "Allowed CORS origin (repeatable, default localhost)")
	rootCmd.Flags().BoolVar(&emfFlag, "emf", false, "Write EMF metric lines to stdout")
	rootCmd.Flags().BoolVar(&validateKeyFlag, "validate-key", false, "Check the Gemini API key at startup")
	rootCmd.Flags().BoolVar(&noPlaceFlag, "no-place", false, "Disable reverse geocoding")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	logging.Init()
	if !emfFlag {
		metrics.SetOutput(io.Discard)
	}

	cfg, err := boot.LoadConfig(envFileFlag)
	if err != nil {
		return err
	}
	if portFlag != "" {
		cfg.Port = portFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if languageFlag != "" {
		cfg.Language = languageFlag
	}

	ctx := context.Background()
	app, err := boot.Build(ctx, cfg, boot.Options{NoPlace: noPlaceFlag})
	if err != nil {
		return err
	}

	if validateKeyFlag && app.KeyErr == nil {
		if err := app.ValidateKey(ctx); err != nil {
			return fmt.Errorf("%s: %w", cli.DescribeKeyError(err), err)
		}
		log.Info().Msg("API key validated")
	}

	server := web.New(web.Config{
		Orchestrator:   app.Orchestrator,
		Backend:        app.Backend,
		Fetcher:        app.Fetcher,
		KeyErr:         app.KeyErr,
		AllowedOrigins: originsFlag,
	})

	srv := &http.Server{
		Addr:         ":" + strings.TrimPrefix(cfg.Port, ":"),
		Handler:      server.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown incomplete")
		}
		app.Orchestrator.Wait()
	}()

	app.StartupLog("insight-web", "local", initStart)
	log.Info().Str("port", cfg.Port).Msg("Starting web server")
	fmt.Printf("\n  Image Insight API: http://localhost:%s/api/health\n\n", strings.TrimPrefix(cfg.Port, ":"))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	<-done
	return nil
}
