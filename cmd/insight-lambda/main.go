// Package main provides a Lambda entry point for the image analysis API.
//
// It serves the same handler as insight-web behind API Gateway (HTTP API,
// payload v2). Configuration comes from the function environment; the
// Gemini key is read from SSM when GEMINI_API_KEY is unset.
//
// A Lambda execution environment handles one request at a time, so the
// single live session is scoped to a warm container. The environment is
// frozen once a response is returned, so analyze requests wait for the
// place lookup instead of leaving it to finish in the background.
package main

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-insight/internal/boot"
	"github.com/fpang/image-insight/internal/logging"
	"github.com/fpang/image-insight/internal/web"
)

// AllowedOriginsEnv lists comma-separated CORS origins for the deployed site.
const AllowedOriginsEnv = "INSIGHT_ALLOWED_ORIGINS"

var adapter *httpadapter.HandlerAdapterV2

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := boot.LoadConfig("")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	app, err := boot.Build(context.Background(), cfg, boot.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	server := web.New(web.Config{
		Orchestrator:   app.Orchestrator,
		Backend:        app.Backend,
		Fetcher:        app.Fetcher,
		KeyErr:         app.KeyErr,
		AllowedOrigins: splitOrigins(logging.EnvOrDefault(AllowedOriginsEnv, "")),
		SecureCookies:  true,
		WaitForPlace:   true,
	})
	adapter = httpadapter.NewV2(server.Handler())

	app.StartupLog("insight-lambda", "lambda", initStart)
}

func main() {
	lambda.Start(adapter.ProxyWithContext)
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
