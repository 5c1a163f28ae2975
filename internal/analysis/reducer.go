package analysis

import (
	"errors"

	"github.com/fpang/image-insight/internal/chat"
	"github.com/fpang/image-insight/internal/filehandler"
	"github.com/fpang/image-insight/internal/geocode"
	"github.com/rs/zerolog/log"
)

// errStale marks an event whose tags no longer match the live session.
var errStale = errors.New("stale event")

// state is everything the reducer owns.
type state struct {
	options   chat.Options
	session   Session
	image     *filehandler.Image
	preview   *Preview
	analyzing bool
}

type event interface {
	name() string
}

type optionsChanged struct {
	options chat.Options
}

type imageSelected struct {
	sessionID string
	image     *filehandler.Image
	preview   *Preview
	options   chat.Options
}

type analysisCompleted struct {
	sessionID string
	revision  int
	content   *chat.Content
	metadata  *filehandler.Metadata
	err       error
	// geocode reports whether a place lookup will follow.
	geocode bool
}

type placeResolved struct {
	sessionID string
	place     *geocode.PlaceDescription
}

// regenerationRequested is filled in by the reducer with the tags and
// inputs the caller needs to run the generator.
type regenerationRequested struct {
	sessionID string
	revision  int
	image     *filehandler.Image
	options   chat.Options
}

type regenerationCompleted struct {
	sessionID string
	revision  int
	content   *chat.Content
	err       error
}

type sessionReset struct{}

func (optionsChanged) name() string         { return "options_changed" }
func (imageSelected) name() string          { return "image_selected" }
func (analysisCompleted) name() string      { return "analysis_completed" }
func (placeResolved) name() string          { return "place_resolved" }
func (*regenerationRequested) name() string { return "regeneration_requested" }
func (regenerationCompleted) name() string  { return "regeneration_completed" }
func (sessionReset) name() string           { return "session_reset" }

// apply is the only place session state changes. It returns errStale for
// completions that belong to a replaced session or revision, and a
// *ValidationError when a request cannot start.
func (o *Orchestrator) apply(ev event) error {
	o.mu.Lock()
	err := o.reduce(ev)
	var snapshot Session
	if err == nil {
		o.st.session.UpdatedAt = o.now()
		snapshot = o.st.session.clone()
	}
	o.mu.Unlock()

	if err != nil {
		if errors.Is(err, errStale) {
			log.Debug().Str("event", ev.name()).Msg("Ignoring stale completion")
		}
		return err
	}
	if o.observer != nil {
		o.observer(snapshot)
	}
	return nil
}

func (o *Orchestrator) reduce(ev event) error {
	st := &o.st

	switch e := ev.(type) {
	case optionsChanged:
		st.options = e.options

	case imageSelected:
		st.image = e.image
		st.preview = e.preview
		st.analyzing = true
		st.session = Session{
			ID:        e.sessionID,
			Status:    StatusLoading,
			Image:     imageInfo(e.image),
			PreviewID: e.preview.ID,
			Options:   e.options,
			Revision:  1,
		}

	case analysisCompleted:
		if !st.matches(e.sessionID, e.revision) {
			return errStale
		}
		st.analyzing = false
		if e.err != nil {
			st.session.Status = StatusFailed
			st.session.Error = MsgAnalysisFailed
			st.session.Content = nil
			st.session.Metadata = nil
			st.session.Place = nil
			st.session.PlacePending = false
			st.session.MapURL = ""
			return nil
		}
		st.session.Status = StatusReady
		st.session.Error = ""
		st.session.Content = e.content
		st.session.Metadata = e.metadata
		st.session.Place = nil
		st.session.PlacePending = e.geocode
		st.session.MapURL = ""
		if e.metadata.HasGPS() {
			st.session.MapURL = geocode.MapURL(e.metadata.GPS.Latitude, e.metadata.GPS.Longitude)
		}

	case placeResolved:
		if st.session.ID == "" || st.session.ID != e.sessionID || !st.session.PlacePending {
			return errStale
		}
		st.session.Place = e.place
		st.session.PlacePending = false

	case *regenerationRequested:
		if st.image == nil {
			return validationError(ErrNoImage, MsgNoImage)
		}
		if st.options.Kinds.Empty() {
			return validationError(ErrNoContentKinds, MsgNoContentKinds)
		}
		if st.analyzing {
			return validationError(ErrAnalysisInProgress, MsgAnalysisInProgress)
		}
		st.session.Revision++
		st.session.Status = StatusLoading
		st.session.Error = ""
		st.session.Content = nil
		st.session.Options = st.options
		e.sessionID = st.session.ID
		e.revision = st.session.Revision
		e.image = st.image
		e.options = st.options

	case regenerationCompleted:
		if !st.matches(e.sessionID, e.revision) {
			return errStale
		}
		if e.err != nil {
			st.session.Status = StatusFailed
			st.session.Error = MsgRegenerationFailed
			st.session.Content = nil
			return nil
		}
		st.session.Status = StatusReady
		st.session.Error = ""
		st.session.Content = e.content

	case sessionReset:
		st.image = nil
		st.preview = nil
		st.analyzing = false
		st.session = Session{Status: StatusIdle}
	}
	return nil
}

func (st *state) matches(sessionID string, revision int) bool {
	return st.session.ID != "" && st.session.ID == sessionID && st.session.Revision == revision
}

func imageInfo(img *filehandler.Image) *ImageInfo {
	return &ImageInfo{
		Name:     img.Name,
		MIMEType: img.MIMEType,
		Size:     img.Size(),
		Source:   img.Source,
		Origin:   img.Origin,
	}
}
