package assets

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/rs/zerolog/log"
)

// template.Must panics on a malformed template, which surfaces at startup
// rather than on the first request.
var contentRequestTmpl = template.Must(template.New("content-request").Parse(contentRequestTemplate))

// PromptClause is one numbered instruction in the content request.
type PromptClause struct {
	Number int
	Text   string
}

// ContentRequestData holds the values injected into the content request.
type ContentRequestData struct {
	Language string
	Tone     string
	Clauses  []PromptClause
}

// RenderContentRequest renders the user prompt for a content generation call.
func RenderContentRequest(data ContentRequestData) string {
	var buf bytes.Buffer
	if err := contentRequestTmpl.Execute(&buf, data); err != nil {
		log.Error().Err(err).Msg("Failed to render content request template")
		return ""
	}
	return strings.TrimSpace(buf.String())
}
