package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/image-insight/internal/boot"
	"github.com/fpang/image-insight/internal/cli"
	"github.com/fpang/image-insight/internal/logging"
	"github.com/fpang/image-insight/internal/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Global flags
var (
	modelFlag    string
	languageFlag string
	envFileFlag  string
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "insight-cli",
	Short: "Titles, captions and excerpts for your photos",
	Long: `Insight CLI analyzes a single image with Gemini. It prints generated
titles, captions and literary excerpts together with the camera settings
and, when the photo carries GPS coordinates, the place it was taken.

Examples:
  insight-cli analyze photo.jpg
  insight-cli analyze --url https://example.com/photo.jpg --tone poetic
  insight-cli analyze photo.jpg --kinds titles,captions --format yaml
  insight-cli analyze   # opens a file picker
  insight-cli mcp       # serves the analyze_image tool over stdio`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.InitWriter(os.Stderr)
		metrics.SetOutput(io.Discard)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (default $GEMINI_MODEL or gemini-2.5-flash)")
	rootCmd.PersistentFlags().StringVarP(&languageFlag, "language", "l", "", "Language code of generated content (default $INSIGHT_LANGUAGE or fr)")
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", boot.DefaultEnvFile, "Environment file to load if present")

	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newMCPCmd())
}

func main() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}

// buildApp loads configuration and wires the application. History storage
// is never used from the command line.
func buildApp(ctx context.Context, noPlace bool) (*boot.App, error) {
	cfg, err := boot.LoadConfig(envFileFlag)
	if err != nil {
		return nil, err
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if languageFlag != "" {
		cfg.Language = languageFlag
	}

	app, err := boot.Build(ctx, cfg, boot.Options{NoPlace: noPlace, NoHistory: true})
	if err != nil {
		return nil, err
	}
	if app.KeyErr != nil {
		return nil, fmt.Errorf("%s: %w", cli.DescribeKeyError(app.KeyErr), app.KeyErr)
	}
	log.Debug().Str("model", cfg.Model).Str("language", cfg.Language).Msg("Application ready")
	return app, nil
}
