package boot

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/image-insight/internal/analysis"
	"github.com/fpang/image-insight/internal/auth"
	"github.com/fpang/image-insight/internal/backend"
	"github.com/fpang/image-insight/internal/chat"
	"github.com/fpang/image-insight/internal/filehandler"
	"github.com/fpang/image-insight/internal/geocode"
	"github.com/fpang/image-insight/internal/logging"
)

// Options adjusts how Build assembles the App.
type Options struct {
	// NoPlace disables reverse geocoding.
	NoPlace bool
	// NoHistory skips AWS history resources even when configured.
	NoHistory bool
	// Observer receives a snapshot after every session change.
	Observer func(analysis.Session)
}

// App is the assembled application.
type App struct {
	Config       Config
	Orchestrator *analysis.Orchestrator
	Backend      *backend.Backend
	Fetcher      *filehandler.Fetcher
	Geocoder     *geocode.Client
	Generator    analysis.ContentGenerator

	// Gemini is nil when no API key was found; KeyErr then holds the
	// *auth.ConfigurationError and analysis requests are refused.
	Gemini *genai.Client
	KeyErr error
}

// Build wires every component from cfg. Missing credentials disable the
// features that need them; Build itself only fails when the Gemini client
// cannot be created from a key that was found.
func Build(ctx context.Context, cfg Config, opts Options) (*App, error) {
	app := &App{Config: cfg}

	var clients *AWSClients
	needsSSM := cfg.APIKey == "" && cfg.SSMKeyParam != ""
	if ((cfg.Bucket != "" || cfg.Table != "") && !opts.NoHistory) || needsSSM {
		var err error
		if clients, err = InitAWS(ctx); err != nil {
			log.Warn().Err(err).Msg("AWS unavailable, history and SSM disabled")
		}
	}

	apiKey := cfg.APIKey
	if apiKey == "" && needsSSM && clients != nil {
		key, err := LoadGeminiKey(ctx, clients.SSM, cfg.SSMKeyParam)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load Gemini API key from SSM")
		}
		apiKey = key
	}
	if apiKey == "" {
		key, err := auth.GetAPIKey()
		if err != nil {
			app.KeyErr = err
		}
		apiKey = key
	}

	var generator analysis.ContentGenerator = unconfiguredGenerator{err: app.KeyErr}
	if app.KeyErr == nil {
		client, err := chat.NewGeminiClient(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		app.Gemini = client
		generator = chat.NewGenerator(client.Models, cfg.Model, cfg.Language)
	} else {
		log.Warn().Err(app.KeyErr).Msg("Gemini API key not configured, analysis disabled")
	}

	app.Fetcher = filehandler.NewFetcher(nil, cfg.UserAgent)

	var geocoder analysis.PlaceLookup
	if !opts.NoPlace {
		app.Geocoder = geocode.NewClient(
			geocode.WithBaseURL(cfg.GeocodeURL),
			geocode.WithLanguage(cfg.Language),
			geocode.WithUserAgent(cfg.UserAgent),
		)
		geocoder = app.Geocoder
	}

	app.Generator = generator
	app.Orchestrator = analysis.New(analysis.Config{
		Generator: generator,
		Geocoder:  geocoder,
		Options:   chat.DefaultOptions(),
		Observer:  opts.Observer,
	})

	backendCfg := backend.Config{}
	if clients != nil && !opts.NoHistory {
		if s3c := InitS3(clients.Config, cfg.Bucket); s3c != nil {
			backendCfg.Bucket = s3c.Bucket
			backendCfg.S3 = s3c.Client
			backendCfg.Presigner = s3c.Presigner
		}
		if st := InitDynamo(clients.Config, cfg.Table); st != nil {
			backendCfg.Store = st
		}
	}
	app.Backend = backend.New(backendCfg)

	return app, nil
}

// NewOrchestrator returns an orchestrator with its own session that shares
// the app's generator and geocoder. Stateless callers such as tool servers
// use one per request so concurrent requests do not replace each other.
func (a *App) NewOrchestrator(opts chat.Options) *analysis.Orchestrator {
	var geocoder analysis.PlaceLookup
	if a.Geocoder != nil {
		geocoder = a.Geocoder
	}
	return analysis.New(analysis.Config{
		Generator: a.Generator,
		Geocoder:  geocoder,
		Options:   opts,
	})
}

// ValidateKey checks the Gemini API key with a minimal request.
func (a *App) ValidateKey(ctx context.Context) error {
	if a.Gemini == nil {
		return a.KeyErr
	}
	return auth.ValidateAPIKey(ctx, a.Gemini.Models, a.Config.Model)
}

// StartupLog emits the startup event for the named binary.
func (a *App) StartupLog(name, mode string, initStart time.Time) {
	s := logging.NewStartupLogger(name).
		Mode(mode).
		CommitHash(logging.EnvOrDefault("COMMIT_HASH", "")).
		Feature("generation", a.Gemini != nil).
		Feature("geocoding", a.Geocoder != nil).
		Feature("history", a.Backend.Enabled()).
		Config("model", a.Config.Model).
		Config("language", a.Config.Language).
		S3Bucket("images", a.Config.Bucket).
		DynamoTable("history", a.Config.Table).
		SSMParam("geminiKey", a.Config.SSMKeyParam).
		InitDuration(time.Since(initStart))
	s.Log()
}

// unconfiguredGenerator stands in for the Gemini generator when no key is
// available.
type unconfiguredGenerator struct {
	err error
}

func (g unconfiguredGenerator) Generate(context.Context, *filehandler.Image, chat.Options) (*chat.Content, error) {
	return nil, &chat.GenerationError{Reason: chat.ReasonBackend, Err: g.err}
}
