// Package analysis coordinates metadata extraction, content generation and
// reverse geocoding for the one image the user is currently working on.
//
// All session state lives in an Orchestrator and changes only through its
// reducer. Every asynchronous completion is tagged with the session and
// content revision it belongs to, and completions that no longer match the
// live session are discarded.
package analysis

import (
	"time"

	"github.com/fpang/image-insight/internal/chat"
	"github.com/fpang/image-insight/internal/filehandler"
	"github.com/fpang/image-insight/internal/geocode"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// User-facing messages.
const (
	MsgAnalysisFailed     = "Une erreur est survenue lors de l'analyse de l'image. Veuillez réessayer."
	MsgRegenerationFailed = "Une erreur est survenue lors de la régénération du contenu. Veuillez réessayer."
	MsgNoContentKinds     = "Veuillez sélectionner au moins un type de contenu à générer."
	MsgNoImage            = "Aucune image n'est chargée pour la régénération."
	MsgAnalysisInProgress = "Une analyse est déjà en cours pour cette image."
	MsgSuperseded         = "Une image plus récente a remplacé celle-ci."
	MsgMissingAPIKey      = "La clé API Gemini n'est pas configurée."
	MsgEmptyURL           = "Veuillez entrer une URL."
	MsgFetchFailed        = "Impossible de charger l'image depuis l'URL. Vérifiez le lien et réessayez."
)

// ImageInfo describes the session image without its bytes.
type ImageInfo struct {
	Name     string             `json:"name" yaml:"name"`
	MIMEType string             `json:"mimeType" yaml:"mimeType"`
	Size     int                `json:"size" yaml:"size"`
	Source   filehandler.Source `json:"source" yaml:"source"`
	Origin   string             `json:"origin,omitempty" yaml:"origin,omitempty"`
}

// Preview is the displayable copy of the session image. At most one exists
// at a time; it is dropped when the image is replaced or the session reset.
type Preview struct {
	ID       string
	MIMEType string
	Data     []byte
}

// Session is a snapshot of the analysis state handed to presentation code.
// Snapshots are copies; changing one has no effect on the orchestrator.
type Session struct {
	ID           string                    `json:"id,omitempty" yaml:"id,omitempty"`
	Status       Status                    `json:"status" yaml:"status"`
	Image        *ImageInfo                `json:"image,omitempty" yaml:"image,omitempty"`
	PreviewID    string                    `json:"previewId,omitempty" yaml:"-"`
	Options      chat.Options              `json:"options" yaml:"-"`
	Content      *chat.Content             `json:"content,omitempty" yaml:"content,omitempty"`
	Metadata     *filehandler.Metadata     `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Place        *geocode.PlaceDescription `json:"place,omitempty" yaml:"place,omitempty"`
	PlacePending bool                      `json:"placePending" yaml:"-"`
	MapURL       string                    `json:"mapUrl,omitempty" yaml:"mapUrl,omitempty"`
	Error        string                    `json:"error,omitempty" yaml:"error,omitempty"`
	Revision     int                       `json:"revision" yaml:"-"`
	UpdatedAt    time.Time                 `json:"updatedAt" yaml:"-"`
}

func (s Session) clone() Session {
	c := s
	if s.Image != nil {
		info := *s.Image
		c.Image = &info
	}
	c.Content = s.Content.Clone()
	c.Metadata = s.Metadata.Clone()
	if s.Place != nil {
		place := *s.Place
		c.Place = &place
	}
	return c
}
