// Package boot loads configuration and assembles the application shared by
// the web server, the Lambda handler and the CLI.
//
// Every binary needs some subset of: environment configuration, the Gemini
// client, AWS clients for history, and a startup log line. This package keeps
// those init steps in one place so each main is a short composition.
package boot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-insight/internal/auth"
	"github.com/fpang/image-insight/internal/chat"
)

// Environment variables read by LoadConfig.
const (
	EnvLanguage    = "INSIGHT_LANGUAGE"
	EnvBucket      = "INSIGHT_BUCKET"
	EnvTable       = "INSIGHT_TABLE"
	EnvGeocodeURL  = "INSIGHT_GEOCODE_URL"
	EnvUserAgent   = "INSIGHT_USER_AGENT"
	EnvSSMKeyParam = "SSM_API_KEY_PARAM"
	EnvPort        = "PORT"
)

// DefaultEnvFile is loaded when present in the working directory.
const DefaultEnvFile = ".env"

// DefaultPort is the local web server port.
const DefaultPort = "8080"

// Config is the resolved process configuration. Command line flags are
// applied on top by the caller.
type Config struct {
	APIKey      string
	Model       string
	Language    string
	Bucket      string
	Table       string
	GeocodeURL  string
	UserAgent   string
	SSMKeyParam string
	Port        string
}

// LoadConfig reads envFile (if it exists) into the environment without
// overriding variables that are already set, then builds a Config from the
// environment. An empty envFile skips the file.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("load %s: %w", envFile, err)
			}
		} else {
			log.Debug().Str("file", envFile).Msg("Environment file loaded")
		}
	}

	cfg := Config{
		APIKey:      env(auth.APIKeyEnv),
		Model:       chat.GetModelName(""),
		Language:    env(EnvLanguage),
		Bucket:      env(EnvBucket),
		Table:       env(EnvTable),
		GeocodeURL:  env(EnvGeocodeURL),
		UserAgent:   env(EnvUserAgent),
		SSMKeyParam: env(EnvSSMKeyParam),
		Port:        env(EnvPort),
	}
	if cfg.Language == "" {
		cfg.Language = chat.DefaultLanguage
	}
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	return cfg, nil
}

// HistoryConfigured reports whether both history resources are named.
func (c Config) HistoryConfigured() bool {
	return c.Bucket != "" && c.Table != ""
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}
