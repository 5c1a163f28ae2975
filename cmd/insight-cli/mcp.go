package main

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/image-insight/internal/analysis"
	"github.com/fpang/image-insight/internal/boot"
	"github.com/fpang/image-insight/internal/chat"
	"github.com/fpang/image-insight/internal/filehandler"
	"github.com/fpang/image-insight/internal/geocode"
)

const mcpServerName = "image-insight"

// analyzeImageInput is the argument of the analyze_image tool.
type analyzeImageInput struct {
	Path  string   `json:"path,omitempty" jsonschema:"local path of the image to analyze"`
	URL   string   `json:"url,omitempty" jsonschema:"http or https URL of the image to analyze"`
	Tone  string   `json:"tone,omitempty" jsonschema:"tone of the generated text: creative, professional, poetic, humorous or neutral"`
	Kinds []string `json:"kinds,omitempty" jsonschema:"content kinds to generate: titles, captions, excerpts (default all)"`
}

// analyzeImageOutput is the structured result of the analyze_image tool.
type analyzeImageOutput struct {
	Content  *chat.Content             `json:"content,omitempty"`
	Metadata *filehandler.Metadata     `json:"metadata,omitempty"`
	Place    *geocode.PlaceDescription `json:"place,omitempty"`
	MapURL   string                    `json:"mapUrl,omitempty"`
}

func newToolOutput(s analysis.Session) analyzeImageOutput {
	return analyzeImageOutput{Content: s.Content, Metadata: s.Metadata, Place: s.Place, MapURL: s.MapURL}
}

func newMCPCmd() *cobra.Command {
	var noPlace bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the analyze_image tool over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := buildApp(ctx, noPlace)
			if err != nil {
				return err
			}
			server := newMCPServer(app)
			log.Info().Str("server", mcpServerName).Msg("MCP server listening on stdio")
			return server.Run(ctx, &mcp.StdioTransport{})
		},
	}
	cmd.Flags().BoolVar(&noPlace, "no-place", false, "Skip reverse geocoding")
	return cmd
}

func newMCPServer(app *boot.App) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: mcpServerName, Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_image",
		Description: "Generate titles, captions and literary excerpts for an image, and report its camera settings and location.",
	}, analyzeImageTool(app))
	return server
}

func analyzeImageTool(app *boot.App) mcp.ToolHandlerFor[analyzeImageInput, analyzeImageOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in analyzeImageInput) (*mcp.CallToolResult, analyzeImageOutput, error) {
		if (in.Path == "") == (in.URL == "") {
			return nil, analyzeImageOutput{}, errors.New("exactly one of path or url is required")
		}
		kinds := in.Kinds
		if len(kinds) == 0 {
			kinds = defaultKinds
		}
		opts, err := parseOptions(in.Tone, kinds)
		if err != nil {
			return nil, analyzeImageOutput{}, err
		}

		img, err := loadInput(ctx, app, in.Path, in.URL)
		if err != nil {
			return nil, analyzeImageOutput{}, err
		}

		orch := app.NewOrchestrator(opts)
		if _, err := orch.Analyze(ctx, img); err != nil {
			return nil, analyzeImageOutput{}, analysisFailure(err)
		}
		orch.Wait()

		session := orch.Snapshot()
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: renderText(session)}},
		}, newToolOutput(session), nil
	}
}

var defaultKinds = kindNames(chat.AllKinds)
