package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/image-insight/internal/analysis"
	"github.com/fpang/image-insight/internal/boot"
	"github.com/fpang/image-insight/internal/chat"
	"github.com/fpang/image-insight/internal/cli"
	"github.com/fpang/image-insight/internal/filehandler"
)

var errNoSelection = errors.New("no image selected")

type analyzeFlags struct {
	url     string
	tone    string
	kinds   []string
	format  string
	noPlace bool
}

func newAnalyzeCmd() *cobra.Command {
	var flags analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze [path]",
		Short: "Analyze one image from a file or URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return runAnalyze(cmd, path, flags)
		},
	}
	cmd.Flags().StringVar(&flags.url, "url", "", "Analyze the image at this http(s) URL")
	cmd.Flags().StringVarP(&flags.tone, "tone", "t", string(chat.DefaultTone), "Tone: "+toneList())
	cmd.Flags().StringSliceVarP(&flags.kinds, "kinds", "k", kindNames(chat.AllKinds), "Content kinds to generate")
	cmd.Flags().StringVarP(&flags.format, "format", "f", formatText, "Output format: text, json or yaml")
	cmd.Flags().BoolVar(&flags.noPlace, "no-place", false, "Skip reverse geocoding")
	return cmd
}

func runAnalyze(cmd *cobra.Command, path string, flags analyzeFlags) error {
	if path != "" && flags.url != "" {
		return errors.New("give either a path or --url, not both")
	}
	opts, err := parseOptions(flags.tone, flags.kinds)
	if err != nil {
		return err
	}
	if err := checkFormat(flags.format); err != nil {
		return err
	}

	ctx := cmd.Context()

	rawURL := flags.url
	if path == "" && rawURL == "" {
		in, err := pickImage(cmd)
		if err != nil {
			return err
		}
		path, rawURL = in.Path, in.URL
	}

	app, err := buildApp(ctx, flags.noPlace)
	if err != nil {
		return err
	}

	img, err := loadInput(ctx, app, path, rawURL)
	if err != nil {
		return err
	}

	app.Orchestrator.SetOptions(opts)
	if _, err := app.Orchestrator.Analyze(ctx, img); err != nil {
		return analysisFailure(err)
	}
	app.Orchestrator.Wait()

	return writeSession(cmd.OutOrStdout(), app.Orchestrator.Snapshot(), flags.format)
}

func loadInput(ctx context.Context, app *boot.App, path, rawURL string) (*filehandler.Image, error) {
	if rawURL != "" {
		img, err := app.Fetcher.Fetch(ctx, rawURL)
		if err != nil {
			if errors.Is(err, filehandler.ErrEmptyURL) {
				return nil, errors.New(analysis.MsgEmptyURL)
			}
			return nil, fmt.Errorf("%s: %w", analysis.MsgFetchFailed, err)
		}
		return img, nil
	}
	resolved, err := cli.ResolveImagePath(path)
	if err != nil {
		return nil, err
	}
	return filehandler.LoadImage(resolved)
}

// parseOptions turns command line values into generation options.
func parseOptions(tone string, kinds []string) (chat.Options, error) {
	opts := chat.DefaultOptions()
	if tone != "" {
		t, err := chat.ParseTone(tone)
		if err != nil {
			return opts, err
		}
		opts.Tone = t
	}
	set, err := chat.ParseKinds(kinds)
	if err != nil {
		return opts, err
	}
	if set.Empty() {
		return opts, errors.New(analysis.MsgNoContentKinds)
	}
	opts.Kinds = set
	return opts, nil
}

// analysisFailure returns the message shown for a failed analysis, keeping
// the cause for wrapping.
func analysisFailure(err error) error {
	var vErr *analysis.ValidationError
	if errors.As(err, &vErr) {
		return fmt.Errorf("%s: %w", vErr.Message, err)
	}
	if errors.Is(err, analysis.ErrSuperseded) {
		return fmt.Errorf("%s: %w", analysis.MsgSuperseded, err)
	}
	return fmt.Errorf("%s: %w", analysis.MsgAnalysisFailed, err)
}

// pickImage opens a native file picker, falling back to a terminal prompt
// when no picker is available.
func pickImage(cmd *cobra.Command) (cli.Input, error) {
	path, err := zenity.SelectFile(
		zenity.Title("Select an image"),
		zenity.FileFilters{
			{
				Name:     "Images",
				Patterns: []string{"*.jpg", "*.jpeg", "*.png", "*.gif", "*.webp", "*.heic", "*.heif"},
				CaseFold: true,
			},
		},
	)
	switch {
	case err == nil:
		return cli.Input{Path: path}, nil
	case errors.Is(err, zenity.ErrCanceled):
		return cli.Input{}, errNoSelection
	}
	log.Debug().Err(err).Msg("File picker unavailable, prompting instead")
	return cli.PromptForImage(cmd.InOrStdin(), cmd.ErrOrStderr())
}

func toneList() string {
	names := make([]string, len(chat.Tones))
	for i, t := range chat.Tones {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func kindNames(s chat.KindSet) []string {
	var names []string
	for _, k := range s.Kinds() {
		names = append(names, string(k))
	}
	return names
}
