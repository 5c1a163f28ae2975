package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"

	"github.com/fpang/image-insight/internal/analysis"
	"github.com/fpang/image-insight/internal/boot"
	"github.com/fpang/image-insight/internal/chat"
	"github.com/fpang/image-insight/internal/filehandler"
	"github.com/fpang/image-insight/internal/geocode"
)

type fakeGenerator struct {
	lastOpts chat.Options
}

func (f *fakeGenerator) Generate(_ context.Context, _ *filehandler.Image, opts chat.Options) (*chat.Content, error) {
	f.lastOpts = opts
	return &chat.Content{
		Titles:   []string{"Lumière du soir"},
		Captions: []string{"Le soleil se couche sur la ville."},
		Excerpts: []chat.Excerpt{{Text: "Le ciel est, par-dessus le toit", Author: "Paul Verlaine", Work: "Sagesse"}},
	}, nil
}

func writePNG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	path := filepath.Join(t.TempDir(), "sunset.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func sampleSession() analysis.Session {
	return analysis.Session{
		Status: analysis.StatusReady,
		Image:  &analysis.ImageInfo{Name: "sunset.jpg", MIMEType: "image/jpeg", Size: 2048, Source: filehandler.SourcePath},
		Content: &chat.Content{
			Titles:   []string{"Lumière du soir"},
			Captions: []string{},
			Excerpts: []chat.Excerpt{{Text: "Il pleure dans mon coeur", Author: "Paul Verlaine", Work: "Romances sans paroles"}},
		},
		Metadata: &filehandler.Metadata{Make: "Canon", FNumber: "f/2.8", GPS: &filehandler.GPS{Latitude: 48.8584, Longitude: 2.2945}},
		Place:    &geocode.PlaceDescription{City: "Paris", Country: "France", FullAddress: "Paris, France"},
		MapURL:   "https://maps.google.com/?q=48.8584,2.2945",
	}
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name      string
		tone      string
		kinds     []string
		wantTone  chat.Tone
		wantKinds chat.KindSet
		wantErr   bool
	}{
		{"defaults", "", []string{"titles", "captions", "excerpts"}, chat.DefaultTone, chat.AllKinds, false},
		{"tone by label case", "POETIC", []string{"titles"}, chat.TonePoetic, chat.NewKindSet(chat.KindTitles), false},
		{"duplicate kinds", "neutral", []string{"captions", "captions"}, chat.ToneNeutral, chat.NewKindSet(chat.KindCaptions), false},
		{"unknown tone", "grumpy", []string{"titles"}, "", 0, true},
		{"unknown kind", "", []string{"haiku"}, "", 0, true},
		{"no kinds", "", nil, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptions(tt.tone, tt.kinds)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Tone != tt.wantTone || got.Kinds != tt.wantKinds {
				t.Errorf("got %+v, want tone %q kinds %v", got, tt.wantTone, tt.wantKinds)
			}
		})
	}
}

func TestParseOptionsNoKindsMessage(t *testing.T) {
	_, err := parseOptions("", []string{})
	if err == nil || err.Error() != analysis.MsgNoContentKinds {
		t.Errorf("err = %v, want %q", err, analysis.MsgNoContentKinds)
	}
}

func TestCheckFormat(t *testing.T) {
	for _, f := range []string{formatText, formatJSON, formatYAML} {
		if err := checkFormat(f); err != nil {
			t.Errorf("checkFormat(%q) = %v", f, err)
		}
	}
	if err := checkFormat("xml"); err == nil {
		t.Error("checkFormat(xml) should fail")
	}
}

func TestWriteSessionJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSession(&buf, sampleSession(), formatJSON); err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Status  string `json:"status"`
		Content struct {
			Titles []string `json:"titles"`
		} `json:"content"`
		Place struct {
			City string `json:"city"`
		} `json:"place"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if decoded.Status != "ready" || decoded.Content.Titles[0] != "Lumière du soir" || decoded.Place.City != "Paris" {
		t.Errorf("unexpected output: %+v", decoded)
	}
}

func TestWriteSessionYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSession(&buf, sampleSession(), formatYAML); err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, buf.String())
	}
	for _, key := range []string{"status", "image", "content", "metadata", "place", "mapUrl"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in:\n%s", key, buf.String())
		}
	}
	for _, key := range []string{"options", "revision", "placePending", "updatedAt"} {
		if _, ok := decoded[key]; ok {
			t.Errorf("unexpected key %q in YAML output", key)
		}
	}
}

func TestWriteSessionText(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSession(&buf, sampleSession(), formatText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Image: sunset.jpg",
		"Titles\n  1. Lumière du soir",
		"Paul Verlaine, Romances sans paroles",
		"Aperture:",
		"48.858400, 2.294500",
		"Paris, France",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Captions") {
		t.Errorf("empty captions section should be omitted:\n%s", out)
	}
}

func TestAnalysisFailure(t *testing.T) {
	vErr := &analysis.ValidationError{Err: analysis.ErrNoImage, Message: analysis.MsgNoImage}
	err := analysisFailure(vErr)
	if !strings.HasPrefix(err.Error(), analysis.MsgNoImage) || !errors.Is(err, analysis.ErrNoImage) {
		t.Errorf("validation: got %v", err)
	}

	genErr := &chat.GenerationError{Reason: chat.ReasonEmptyResponse}
	err = analysisFailure(genErr)
	if !strings.HasPrefix(err.Error(), analysis.MsgAnalysisFailed) || !errors.As(err, new(*chat.GenerationError)) {
		t.Errorf("generation: got %v", err)
	}

	err = analysisFailure(analysis.ErrSuperseded)
	if !strings.HasPrefix(err.Error(), analysis.MsgSuperseded) || !errors.Is(err, analysis.ErrSuperseded) {
		t.Errorf("superseded: got %v", err)
	}
}

func newTestApp(gen analysis.ContentGenerator) *boot.App {
	return &boot.App{
		Orchestrator: analysis.New(analysis.Config{Generator: gen, Options: chat.DefaultOptions()}),
		Fetcher:      filehandler.NewFetcher(nil, "image-insight-test"),
		Generator:    gen,
	}
}

func connectMCP(t *testing.T, app *boot.App) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	if _, err := newMCPServer(app).Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestMCPAnalyzeImage(t *testing.T) {
	gen := &fakeGenerator{}
	session := connectMCP(t, newTestApp(gen))

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "analyze_image",
		Arguments: map[string]any{
			"path":  writePNG(t),
			"tone":  "humorous",
			"kinds": []string{"titles", "excerpts"},
		},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool reported error: %+v", res.Content)
	}
	if len(res.Content) == 0 {
		t.Fatal("no content returned")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok || !strings.Contains(text.Text, "Lumière du soir") {
		t.Errorf("text content = %+v", res.Content[0])
	}

	if gen.lastOpts.Tone != chat.ToneHumorous {
		t.Errorf("tone = %q, want humorous", gen.lastOpts.Tone)
	}
	if gen.lastOpts.Kinds != chat.NewKindSet(chat.KindTitles, chat.KindExcerpts) {
		t.Errorf("kinds = %v", gen.lastOpts.Kinds.Kinds())
	}
}

func TestMCPAnalyzeImageNeedsOneSource(t *testing.T) {
	session := connectMCP(t, newTestApp(&fakeGenerator{}))

	for name, args := range map[string]map[string]any{
		"neither": {},
		"both":    {"path": "a.jpg", "url": "https://example.com/a.jpg"},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "analyze_image", Arguments: args})
			if err != nil {
				t.Fatalf("CallTool: %v", err)
			}
			if !res.IsError {
				t.Error("expected tool error")
			}
		})
	}
}

// kindGenerator returns one item per requested kind. Requests for titles
// block until release is closed.
type kindGenerator struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *kindGenerator) Generate(ctx context.Context, _ *filehandler.Image, opts chat.Options) (*chat.Content, error) {
	content := chat.EmptyContent()
	if opts.Kinds.Has(chat.KindTitles) {
		g.once.Do(func() { close(g.started) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		content.Titles = []string{"Titre lent"}
	}
	if opts.Kinds.Has(chat.KindCaptions) {
		content.Captions = []string{"Légende rapide"}
	}
	return content, nil
}

func TestMCPAnalyzeImageConcurrentCalls(t *testing.T) {
	gen := &kindGenerator{started: make(chan struct{}), release: make(chan struct{})}
	session := connectMCP(t, newTestApp(gen))
	path := writePNG(t)

	call := func(kinds ...string) (*mcp.CallToolResult, error) {
		return session.CallTool(context.Background(), &mcp.CallToolParams{
			Name:      "analyze_image",
			Arguments: map[string]any{"path": path, "kinds": kinds},
		})
	}

	type outcome struct {
		res *mcp.CallToolResult
		err error
	}
	slow := make(chan outcome, 1)
	go func() {
		res, err := call("titles")
		slow <- outcome{res, err}
	}()

	select {
	case <-gen.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first call never reached the generator")
	}

	fast, err := call("captions")
	close(gen.release)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	first := <-slow
	if first.err != nil {
		t.Fatalf("first call: %v", first.err)
	}

	for name, tc := range map[string]struct {
		res           *mcp.CallToolResult
		want, notWant string
	}{
		"first":  {first.res, "Titre lent", "Légende rapide"},
		"second": {fast, "Légende rapide", "Titre lent"},
	} {
		if tc.res.IsError {
			t.Errorf("%s call reported error: %+v", name, tc.res.Content)
			continue
		}
		text := tc.res.Content[0].(*mcp.TextContent).Text
		if !strings.Contains(text, tc.want) || strings.Contains(text, tc.notWant) {
			t.Errorf("%s call text = %q, want %q only", name, text, tc.want)
		}
	}
}
