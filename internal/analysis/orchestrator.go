package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/fpang/image-insight/internal/chat"
	"github.com/fpang/image-insight/internal/filehandler"
	"github.com/fpang/image-insight/internal/geocode"
	"github.com/fpang/image-insight/internal/jobs"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ContentGenerator produces text for an image. *chat.Generator implements it.
type ContentGenerator interface {
	Generate(ctx context.Context, img *filehandler.Image, opts chat.Options) (*chat.Content, error)
}

// MetadataReader extracts camera metadata. It returns (nil, nil) for images
// without metadata.
type MetadataReader interface {
	ExtractMetadata(data []byte) (*filehandler.Metadata, error)
}

// MetadataFunc adapts a function to MetadataReader.
type MetadataFunc func(data []byte) (*filehandler.Metadata, error)

// ExtractMetadata calls f.
func (f MetadataFunc) ExtractMetadata(data []byte) (*filehandler.Metadata, error) {
	return f(data)
}

// PlaceLookup reverse geocodes coordinates. *geocode.Client implements it.
type PlaceLookup interface {
	Lookup(ctx context.Context, lat, lon float64) geocode.Result
}

// DefaultGeocodeTimeout bounds a background place lookup.
const DefaultGeocodeTimeout = 15 * time.Second

// Config wires an Orchestrator.
type Config struct {
	// Generator is required.
	Generator ContentGenerator
	// Metadata defaults to filehandler.ExtractMetadata.
	Metadata MetadataReader
	// Geocoder may be nil, in which case places are never resolved.
	Geocoder PlaceLookup
	// Policy renders lookup outcomes; the zero value means geocode.DefaultPolicy.
	Policy geocode.Policy

	Options             chat.Options
	PreviewMaxDimension int
	GeocodeTimeout      time.Duration

	// Observer, if set, receives a snapshot after every state change. It is
	// called without locks held and may call back into the Orchestrator.
	Observer func(Session)

	Now func() time.Time
}

// Orchestrator owns the single live analysis session.
type Orchestrator struct {
	generator      ContentGenerator
	metadata       MetadataReader
	geocoder       PlaceLookup
	policy         geocode.Policy
	previewMax     int
	geocodeTimeout time.Duration
	observer       func(Session)
	now            func() time.Time

	mu sync.Mutex
	st state

	background sync.WaitGroup
}

// New creates an Orchestrator in the idle state.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		generator:      cfg.Generator,
		metadata:       cfg.Metadata,
		geocoder:       cfg.Geocoder,
		policy:         cfg.Policy,
		previewMax:     cfg.PreviewMaxDimension,
		geocodeTimeout: cfg.GeocodeTimeout,
		observer:       cfg.Observer,
		now:            cfg.Now,
	}
	if o.metadata == nil {
		o.metadata = MetadataFunc(filehandler.ExtractMetadata)
	}
	if o.policy == (geocode.Policy{}) {
		o.policy = geocode.DefaultPolicy
	}
	if o.previewMax <= 0 {
		o.previewMax = filehandler.DefaultPreviewMaxDimension
	}
	if o.geocodeTimeout <= 0 {
		o.geocodeTimeout = DefaultGeocodeTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}

	o.st.options = cfg.Options
	if o.st.options.Tone == "" {
		o.st.options.Tone = chat.DefaultTone
	}
	o.st.session = Session{Status: StatusIdle, UpdatedAt: o.now()}
	return o
}

// Options returns the currently selected generation options.
func (o *Orchestrator) Options() chat.Options {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.options
}

// SetOptions replaces the selected generation options. The session itself
// is untouched; the new options apply to the next analysis or regeneration.
func (o *Orchestrator) SetOptions(opts chat.Options) {
	if opts.Tone == "" {
		opts.Tone = chat.DefaultTone
	}
	o.apply(optionsChanged{options: opts})
}

// Snapshot returns a copy of the live session.
func (o *Orchestrator) Snapshot() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.session.clone()
}

// Current returns a copy of the live session together with its image, or a
// nil image when none is loaded.
func (o *Orchestrator) Current() (Session, *filehandler.Image) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.session.clone(), o.st.image
}

// Preview returns the live preview if id names it.
func (o *Orchestrator) Preview(id string) (Preview, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.st.preview == nil || o.st.preview.ID != id {
		return Preview{}, false
	}
	return *o.st.preview, true
}

// Analyze makes img the session image and runs metadata extraction and
// content generation concurrently. Both must succeed for the session to
// become ready; a generation failure discards the metadata too. When the
// image has GPS coordinates, the place is resolved in the background.
//
// Analyze blocks until both tasks settle. If another image replaced this
// one in the meantime, the result is dropped and ErrSuperseded returned.
func (o *Orchestrator) Analyze(ctx context.Context, img *filehandler.Image) (Session, error) {
	opts := o.Options()
	if opts.Kinds.Empty() {
		return o.Snapshot(), validationError(ErrNoContentKinds, MsgNoContentKinds)
	}
	if img == nil || len(img.Data) == 0 {
		return o.Snapshot(), validationError(ErrNoImage, MsgNoImage)
	}

	sessionID := jobs.GenerateID(jobs.PrefixSession)
	o.apply(imageSelected{
		sessionID: sessionID,
		image:     img,
		preview:   o.newPreview(img),
		options:   opts,
	})

	log.Info().
		Str("session_id", sessionID).
		Str("image", img.Name).
		Str("tone", string(opts.Tone)).
		Interface("kinds", opts.Kinds.Kinds()).
		Msg("Analysis started")
	start := time.Now()

	var (
		metadata *filehandler.Metadata
		content  *chat.Content
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		metadata = o.readMetadata(img)
		return nil
	})
	g.Go(func() error {
		c, err := o.generator.Generate(gctx, img, opts)
		if err != nil {
			return err
		}
		content = c
		return nil
	})
	err := g.Wait()

	lookup := err == nil && metadata.HasGPS() && o.geocoder != nil
	if applyErr := o.apply(analysisCompleted{
		sessionID: sessionID,
		revision:  1,
		content:   content,
		metadata:  metadata,
		err:       err,
		geocode:   lookup,
	}); applyErr != nil {
		log.Info().Str("session_id", sessionID).Msg("Analysis result discarded, image was replaced")
		return o.Snapshot(), ErrSuperseded
	}

	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Dur("duration", time.Since(start)).Msg("Analysis failed")
		return o.Snapshot(), err
	}

	if lookup {
		o.resolvePlace(ctx, sessionID, metadata.GPS.Latitude, metadata.GPS.Longitude)
	}

	log.Info().
		Str("session_id", sessionID).
		Bool("has_metadata", metadata != nil).
		Bool("place_pending", lookup).
		Dur("duration", time.Since(start)).
		Msg("Analysis complete")
	return o.Snapshot(), nil
}

// Regenerate re-runs content generation for the session image with the
// currently selected options, keeping metadata and place. Results of an
// older regeneration that finish after a newer one started are dropped.
func (o *Orchestrator) Regenerate(ctx context.Context) (Session, error) {
	req := &regenerationRequested{}
	if err := o.apply(req); err != nil {
		return o.Snapshot(), err
	}

	log.Info().
		Str("session_id", req.sessionID).
		Int("revision", req.revision).
		Str("tone", string(req.options.Tone)).
		Msg("Regeneration started")

	content, err := o.generator.Generate(ctx, req.image, req.options)
	if applyErr := o.apply(regenerationCompleted{
		sessionID: req.sessionID,
		revision:  req.revision,
		content:   content,
		err:       err,
	}); applyErr != nil {
		return o.Snapshot(), ErrSuperseded
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", req.sessionID).Msg("Regeneration failed")
		return o.Snapshot(), err
	}
	return o.Snapshot(), nil
}

// Reset discards the session and its preview.
func (o *Orchestrator) Reset() {
	o.apply(sessionReset{})
}

// Wait blocks until background place lookups have finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// resolvePlace runs the lookup outside the request lifetime. It is not part
// of the analysis join, and its result is dropped if the session changed.
func (o *Orchestrator) resolvePlace(ctx context.Context, sessionID string, lat, lon float64) {
	o.background.Add(1)
	go func() {
		defer o.background.Done()

		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.geocodeTimeout)
		defer cancel()

		place := o.policy.Describe(o.geocoder.Lookup(lookupCtx, lat, lon))
		if err := o.apply(placeResolved{sessionID: sessionID, place: place}); err == nil {
			log.Info().Str("session_id", sessionID).Str("place", place.FullAddress).Msg("Place resolved")
		}
	}()
}

func (o *Orchestrator) readMetadata(img *filehandler.Image) *filehandler.Metadata {
	meta, err := o.metadata.ExtractMetadata(img.Data)
	if err != nil {
		log.Warn().Err(err).Str("image", img.Name).Msg("Failed to extract image metadata, continuing without it")
		return nil
	}
	return meta
}

func (o *Orchestrator) newPreview(img *filehandler.Image) *Preview {
	data, mimeType, _ := filehandler.GeneratePreview(img, o.previewMax)
	return &Preview{ID: jobs.GenerateID(jobs.PrefixPreview), MIMEType: mimeType, Data: data}
}
