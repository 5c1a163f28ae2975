package web

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/image-insight/internal/analysis"
	"github.com/fpang/image-insight/internal/chat"
	"github.com/fpang/image-insight/internal/filehandler"
)

// optionsRequest carries a partial options update; absent fields keep
// their current value.
type optionsRequest struct {
	Tone  *chat.Tone    `json:"tone,omitempty"`
	Kinds *chat.KindSet `json:"kinds,omitempty"`
}

func (o optionsRequest) empty() bool {
	return o.Tone == nil && o.Kinds == nil
}

func (o optionsRequest) applyTo(opts chat.Options) chat.Options {
	if o.Tone != nil {
		opts.Tone = *o.Tone
	}
	if o.Kinds != nil {
		opts.Kinds = *o.Kinds
	}
	return opts
}

// analyzeRequest is the JSON form of POST /api/analyze.
type analyzeRequest struct {
	URL string `json:"url"`
	optionsRequest
}

type toneOption struct {
	ID    chat.Tone `json:"id"`
	Label string    `json:"label"`
}

type optionsResponse struct {
	chat.Options
	ToneLabel string       `json:"toneLabel"`
	Tones     []toneOption `json:"tones"`
	AllKinds  chat.KindSet `json:"allKinds"`
}

func newOptionsResponse(opts chat.Options) optionsResponse {
	tones := make([]toneOption, 0, len(chat.Tones))
	for _, t := range chat.Tones {
		tones = append(tones, toneOption{ID: t, Label: t.Label()})
	}
	return optionsResponse{Options: opts, ToneLabel: opts.Tone.Label(), Tones: tones, AllKinds: chat.AllKinds}
}

// GET /api/options
func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, newOptionsResponse(s.orch.Options()))
}

// PUT /api/options
// Body: {"tone": "poetic", "kinds": ["titles", "excerpts"]}. An empty kinds
// list is accepted; analysis then refuses to start until one is selected.
func (s *Server) handlePutOptions(w http.ResponseWriter, r *http.Request) {
	req, err := readJSON[optionsRequest](w, r)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	opts := req.applyTo(s.orch.Options())
	s.orch.SetOptions(opts)
	s.respondJSON(w, http.StatusOK, newOptionsResponse(s.orch.Options()))
}

// POST /api/analyze
//
// Accepts either multipart/form-data with a "file" field (plus optional
// "tone" and "kinds" fields, kinds comma-separated), or JSON
// {"url": "...", "tone": "...", "kinds": [...]}. Blocks until metadata and
// content are ready; the place may still be pending in the response.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.keyErr != nil {
		s.httpError(w, http.StatusServiceUnavailable, analysis.MsgMissingAPIKey)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		img   *filehandler.Image
		patch optionsRequest
		ok    bool
	)
	switch mediaType {
	case "multipart/form-data":
		img, patch, ok = s.readUpload(w, r)
	case "application/json", "":
		img, patch, ok = s.readURL(w, r)
	default:
		s.httpError(w, http.StatusUnsupportedMediaType, msgInvalidRequest)
		return
	}
	if !ok {
		return
	}

	if !patch.empty() {
		s.orch.SetOptions(patch.applyTo(s.orch.Options()))
	}

	session, err := s.orch.Analyze(r.Context(), img)
	if err != nil {
		s.respondAnalysisError(w, err, analysis.MsgAnalysisFailed)
		return
	}
	if s.waitForPlace && session.PlacePending {
		s.orch.Wait()
		if snap := s.orch.Snapshot(); snap.ID == session.ID {
			session = snap
		}
	}
	s.respondJSON(w, http.StatusOK, session)
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*filehandler.Image, optionsRequest, bool) {
	var patch optionsRequest

	r.Body = http.MaxBytesReader(w, r.Body, filehandler.MaxImageBytes+formMemoryCap)
	if err := r.ParseMultipartForm(formMemoryCap); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.httpError(w, http.StatusRequestEntityTooLarge, msgImageTooLarge)
		} else {
			s.httpError(w, http.StatusBadRequest, msgInvalidRequest)
		}
		return nil, patch, false
	}

	if tone := r.FormValue("tone"); tone != "" {
		t, err := chat.ParseTone(tone)
		if err != nil {
			s.httpError(w, http.StatusBadRequest, msgInvalidRequest)
			return nil, patch, false
		}
		patch.Tone = &t
	}
	if _, present := r.MultipartForm.Value["kinds"]; present {
		kinds, err := chat.ParseKinds(splitList(r.FormValue("kinds")))
		if err != nil {
			s.httpError(w, http.StatusBadRequest, msgInvalidRequest)
			return nil, patch, false
		}
		patch.Kinds = &kinds
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.httpError(w, http.StatusBadRequest, msgMissingFile)
		return nil, patch, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, filehandler.MaxImageBytes+1))
	if err != nil {
		s.httpError(w, http.StatusBadRequest, msgInvalidRequest, err)
		return nil, patch, false
	}

	img, err := filehandler.NewImage(header.Filename, data, filehandler.SourceUpload)
	if err != nil {
		s.respondImageError(w, err)
		return nil, patch, false
	}
	return img, patch, true
}

func (s *Server) readURL(w http.ResponseWriter, r *http.Request) (*filehandler.Image, optionsRequest, bool) {
	req, err := readJSON[analyzeRequest](w, r)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, msgInvalidRequest)
		return nil, optionsRequest{}, false
	}

	img, err := s.fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		var fetchErr *filehandler.NetworkFetchError
		switch {
		case errors.Is(err, filehandler.ErrEmptyURL):
			s.httpError(w, http.StatusBadRequest, analysis.MsgEmptyURL)
		case errors.As(err, &fetchErr):
			log.Warn().Err(err).Str("url", req.URL).Msg("Image import from URL failed")
			s.httpError(w, http.StatusUnprocessableEntity, analysis.MsgFetchFailed)
		default:
			s.httpError(w, http.StatusUnprocessableEntity, analysis.MsgFetchFailed, err)
		}
		return nil, req.optionsRequest, false
	}
	return img, req.optionsRequest, true
}

func (s *Server) respondImageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, filehandler.ErrTooLarge):
		s.httpError(w, http.StatusRequestEntityTooLarge, msgImageTooLarge)
	case errors.Is(err, filehandler.ErrEmptyImage), errors.Is(err, filehandler.ErrUnsupportedType):
		s.httpError(w, http.StatusBadRequest, msgUnsupportedImage)
	default:
		s.httpError(w, http.StatusBadRequest, msgInvalidRequest, err)
	}
}

// POST /api/regenerate
// Optional body {"tone": "...", "kinds": [...]} updates the options first.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	if s.keyErr != nil {
		s.httpError(w, http.StatusServiceUnavailable, analysis.MsgMissingAPIKey)
		return
	}

	patch, err := readJSON[optionsRequest](w, r)
	if err != nil {
		s.httpError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	if !patch.empty() {
		s.orch.SetOptions(patch.applyTo(s.orch.Options()))
	}

	session, err := s.orch.Regenerate(r.Context())
	if err != nil {
		s.respondAnalysisError(w, err, analysis.MsgRegenerationFailed)
		return
	}
	s.respondJSON(w, http.StatusOK, session)
}

// respondAnalysisError maps orchestrator errors to status codes. Generation
// failures use failureMsg.
func (s *Server) respondAnalysisError(w http.ResponseWriter, err error, failureMsg string) {
	var valErr *analysis.ValidationError
	switch {
	case errors.Is(err, analysis.ErrSuperseded):
		s.httpError(w, http.StatusConflict, analysis.MsgSuperseded)
	case errors.Is(err, analysis.ErrAnalysisInProgress) && errors.As(err, &valErr):
		s.httpError(w, http.StatusConflict, valErr.Message)
	case errors.As(err, &valErr):
		s.httpError(w, http.StatusBadRequest, valErr.Message)
	default:
		var genErr *chat.GenerationError
		if errors.As(err, &genErr) {
			s.httpError(w, http.StatusBadGateway, failureMsg)
			return
		}
		s.httpError(w, http.StatusInternalServerError, failureMsg, err)
	}
}

// GET /api/session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.orch.Snapshot())
}

// DELETE /api/session
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	s.orch.Reset()
	s.respondJSON(w, http.StatusOK, s.orch.Snapshot())
}

// GET /api/session/preview?id=...
// Without id the live session's preview is served. Released previews are 404.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = s.orch.Snapshot().PreviewID
	}

	preview, ok := s.orch.Preview(id)
	if !ok || len(preview.Data) == 0 {
		s.httpError(w, http.StatusNotFound, msgPreviewUnavailable)
		return
	}

	w.Header().Set("Content-Type", preview.MIMEType)
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(preview.Data); err != nil {
		log.Debug().Err(err).Msg("Preview write interrupted")
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
