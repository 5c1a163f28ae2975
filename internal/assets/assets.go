// Package assets embeds the prompt text sent to the generative model.
// Prompts live as plain files under prompts/ so they can be edited without
// touching Go code.
package assets

import (
	_ "embed"
)

// ContentSystemPrompt is the system instruction for content generation.
//
//go:embed prompts/content-system.txt
var ContentSystemPrompt string

//go:embed prompts/content-request.tmpl
var contentRequestTemplate string
