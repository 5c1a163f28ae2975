package chat

import (
	"encoding/json"
	"fmt"

	"github.com/fpang/image-insight/internal/assets"
	"google.golang.org/genai"
)

// kindSpec describes everything the generator needs to know about one
// content kind. Adding a kind means adding a row here.
type kindSpec struct {
	kind     ContentKind
	maxItems int
	clause   func(language string) string
	schema   func() *genai.Schema
	decode   func(raw json.RawMessage, maxItems int, c *Content) error
}

var kindTable = []kindSpec{
	{
		kind:     KindTitles,
		maxItems: 3,
		clause: func(string) string {
			return "'titles': an array of 2 to 3 creative titles for the image."
		},
		schema: stringArraySchema,
		decode: func(raw json.RawMessage, limit int, c *Content) error {
			titles, err := decodeList[string](raw, limit)
			c.Titles = titles
			return err
		},
	},
	{
		kind:     KindCaptions,
		maxItems: 3,
		clause: func(string) string {
			return "'captions': an array of 2 to 3 short captions suitable for social media."
		},
		schema: stringArraySchema,
		decode: func(raw json.RawMessage, limit int, c *Content) error {
			captions, err := decodeList[string](raw, limit)
			c.Captions = captions
			return err
		},
	},
	{
		kind:     KindExcerpts,
		maxItems: 2,
		clause: func(language string) string {
			return fmt.Sprintf("'excerpts': an array of 2 objects, each a short excerpt from an existing literary work "+
				"(poem, novel, song) that echoes the image, with the keys 'text' (the excerpt in its original language), "+
				"'translation' (its translation into %[1]s, or an empty string if the excerpt is already in %[1]s), "+
				"'author' and 'work'.", language)
		},
		schema: func() *genai.Schema {
			return &genai.Schema{
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"text":        {Type: genai.TypeString},
						"translation": {Type: genai.TypeString},
						"author":      {Type: genai.TypeString},
						"work":        {Type: genai.TypeString},
					},
					Required: []string{"text", "translation", "author", "work"},
				},
			}
		},
		decode: func(raw json.RawMessage, limit int, c *Content) error {
			excerpts, err := decodeList[Excerpt](raw, limit)
			c.Excerpts = excerpts
			return err
		},
	},
}

func specFor(name string) (kindSpec, bool) {
	for _, spec := range kindTable {
		if string(spec.kind) == name {
			return spec, true
		}
	}
	return kindSpec{}, false
}

func stringArraySchema() *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
}

// Request is the prompt and response schema for one generation call.
type Request struct {
	Kinds  []ContentKind
	Prompt string
	Schema *genai.Schema
}

// BuildRequest assembles the prompt and schema for opts. Each requested kind
// contributes exactly one numbered clause, one schema property and one
// required entry, in canonical kind order.
func BuildRequest(opts Options, language string) Request {
	tone := opts.Tone
	if _, ok := toneLabels[tone]; !ok {
		tone = DefaultTone
	}

	req := Request{
		Schema: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{},
		},
	}
	var clauses []assets.PromptClause
	for _, spec := range kindTable {
		if !opts.Kinds.Has(spec.kind) {
			continue
		}
		name := string(spec.kind)
		req.Kinds = append(req.Kinds, spec.kind)

		prop := spec.schema()
		prop.MaxItems = int64Ptr(int64(spec.maxItems))
		req.Schema.Properties[name] = prop
		req.Schema.Required = append(req.Schema.Required, name)

		clauses = append(clauses, assets.PromptClause{Number: len(clauses) + 1, Text: spec.clause(language)})
	}

	req.Prompt = assets.RenderContentRequest(assets.ContentRequestData{
		Language: language,
		Tone:     tone.Label(),
		Clauses:  clauses,
	})
	return req
}

func int64Ptr(v int64) *int64 { return &v }
