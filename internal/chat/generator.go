package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fpang/image-insight/internal/assets"
	"github.com/fpang/image-insight/internal/filehandler"
	"github.com/fpang/image-insight/internal/jsonutil"
	"github.com/fpang/image-insight/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Reasons carried by GenerationError.
const (
	ReasonBackend         = "backend call failed"
	ReasonEmptyResponse   = "empty response"
	ReasonInvalidResponse = "invalid response"
)

// GenerationError reports that content could not be produced for an image.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("content generation failed: %s: %v", e.Reason, e.Err)
	}
	return "content generation failed: " + e.Reason
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Backend is the part of the Gemini client used for generation.
// *genai.Models satisfies it.
type Backend interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// DefaultLanguage is the language content is written in.
const DefaultLanguage = "fr"

var languageNames = map[string]string{
	"fr": "French",
	"en": "English",
	"es": "Spanish",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
}

// LanguageName returns the English name of a language code for use in
// prompts. Unknown codes are returned unchanged.
func LanguageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// Generator produces titles, captions and excerpts for images.
type Generator struct {
	backend  Backend
	model    string
	language string
}

// NewGenerator creates a Generator writing in the given language code.
func NewGenerator(backend Backend, model, language string) *Generator {
	if language == "" {
		language = DefaultLanguage
	}
	return &Generator{backend: backend, model: model, language: language}
}

// Model returns the model name used for generation.
func (g *Generator) Model() string { return g.model }

// Generate asks the model for the content kinds selected in opts.
// When no kind is selected it returns empty content without calling the
// backend. Failures are returned as *GenerationError; there are no retries.
func (g *Generator) Generate(ctx context.Context, img *filehandler.Image, opts Options) (*Content, error) {
	if opts.Kinds.Empty() {
		return EmptyContent(), nil
	}

	req := BuildRequest(opts, LanguageName(g.language))

	log.Debug().
		Str("model", g.model).
		Str("tone", string(opts.Tone)).
		Interface("kinds", req.Kinds).
		Int("image_bytes", img.Size()).
		Msg("Starting Gemini API call for content generation")

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.ContentSystemPrompt}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   req.Schema,
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}},
			{Text: req.Prompt},
		},
	}}

	start := time.Now()
	resp, err := g.backend.GenerateContent(ctx, g.model, contents, config)
	duration := time.Since(start)

	content, genErr := g.interpret(resp, err, opts.Kinds)

	result := "success"
	if genErr != nil {
		result = genErr.Reason
	}
	metrics.New(metrics.Namespace).
		Dimension("Operation", "generate").
		Dimension("Result", result).
		Metric("GenerationLatencyMs", float64(duration.Milliseconds()), metrics.UnitMilliseconds).
		Count("GenerationResult").
		Property("model", g.model).
		Flush()

	if genErr != nil {
		log.Error().Err(genErr).Dur("duration", duration).Msg("Content generation failed")
		return nil, genErr
	}

	log.Info().
		Int("titles", len(content.Titles)).
		Int("captions", len(content.Captions)).
		Int("excerpts", len(content.Excerpts)).
		Dur("duration", duration).
		Msg("Content generation complete")
	return content, nil
}

func (g *Generator) interpret(resp *genai.GenerateContentResponse, err error, kinds KindSet) (*Content, *GenerationError) {
	if err != nil {
		return nil, &GenerationError{Reason: ReasonBackend, Err: err}
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &GenerationError{Reason: ReasonEmptyResponse}
	}

	text := resp.Text()
	log.Debug().Int("response_length", len(text)).Msg("Gemini API response received for content generation")

	content, err := ParseContent(text, kinds)
	if err != nil {
		return nil, &GenerationError{Reason: ReasonInvalidResponse, Err: err}
	}
	return content, nil
}

// ParseContent decodes a model response holding the kinds in requested.
// The response must be a single JSON object whose keys are all requested
// kinds; each value must match its kind's type and size limit. Requested
// kinds that are missing or null come back as empty lists.
func ParseContent(raw string, requested KindSet) (*Content, error) {
	fields, err := jsonutil.DecodeObject(raw)
	if err != nil {
		return nil, err
	}

	for key := range fields {
		spec, ok := specFor(key)
		if !ok || !requested.Has(spec.kind) {
			return nil, fmt.Errorf("unexpected field %q", key)
		}
	}

	content := EmptyContent()
	for _, spec := range kindTable {
		if !requested.Has(spec.kind) {
			continue
		}
		value, ok := fields[string(spec.kind)]
		if !ok || string(value) == "null" {
			continue
		}
		if err := spec.decode(value, spec.maxItems, content); err != nil {
			return nil, fmt.Errorf("field %q: %w", spec.kind, err)
		}
	}
	return content, nil
}

var errTooManyItems = errors.New("too many items")

func decodeList[T any](raw json.RawMessage, limit int) ([]T, error) {
	items, err := jsonutil.DecodeStrict[[]T](raw)
	if err != nil {
		return []T{}, err
	}
	if len(items) > limit {
		return []T{}, fmt.Errorf("%w: got %d, limit %d", errTooManyItems, len(items), limit)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}
