package analysis

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/fpang/image-insight/internal/chat"
	"github.com/fpang/image-insight/internal/filehandler"
	"github.com/fpang/image-insight/internal/geocode"
)

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	generate func(ctx context.Context, img *filehandler.Image, opts chat.Options) (*chat.Content, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, img *filehandler.Image, opts chat.Options) (*chat.Content, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.generate(ctx, img, opts)
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func contentFor(title string) *chat.Content {
	return &chat.Content{Titles: []string{title}, Captions: []string{}, Excerpts: []chat.Excerpt{}}
}

func staticGenerator(title string) *fakeGenerator {
	return &fakeGenerator{generate: func(context.Context, *filehandler.Image, chat.Options) (*chat.Content, error) {
		return contentFor(title), nil
	}}
}

// fakeGeocoder blocks each lookup until release is closed (when set).
type fakeGeocoder struct {
	mu      sync.Mutex
	calls   int
	result  geocode.Result
	release chan struct{}
}

func (f *fakeGeocoder) Lookup(ctx context.Context, lat, lon float64) geocode.Result {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return f.result
}

func (f *fakeGeocoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var paris = &geocode.PlaceDescription{City: "Paris", Country: "France", FullAddress: "Paris, France"}

func metadataWithGPS() *filehandler.Metadata {
	return &filehandler.Metadata{Make: "FUJIFILM", Model: "X-T5", ExposureTime: "1/125", GPS: &filehandler.GPS{Latitude: 48.85, Longitude: 2.35}}
}

func staticMetadata(meta *filehandler.Metadata) MetadataFunc {
	return func([]byte) (*filehandler.Metadata, error) { return meta.Clone(), nil }
}

func testImage(name string) *filehandler.Image {
	return &filehandler.Image{Name: name, MIMEType: "image/jpeg", Data: []byte("jpeg:" + name), Source: filehandler.SourceUpload}
}

func newTestOrchestrator(gen ContentGenerator, meta MetadataReader, geo PlaceLookup) *Orchestrator {
	return New(Config{
		Generator: gen,
		Metadata:  meta,
		Geocoder:  geo,
		Options:   chat.DefaultOptions(),
	})
}

func TestAnalyzeRequiresContentKind(t *testing.T) {
	gen := staticGenerator("t")
	o := newTestOrchestrator(gen, staticMetadata(nil), nil)
	o.SetOptions(chat.Options{Tone: chat.ToneNeutral})

	snap, err := o.Analyze(context.Background(), testImage("a.jpg"))

	var valErr *ValidationError
	if !errors.As(err, &valErr) || !errors.Is(err, ErrNoContentKinds) {
		t.Fatalf("err = %v, want ValidationError wrapping ErrNoContentKinds", err)
	}
	if valErr.Message != MsgNoContentKinds {
		t.Errorf("Message = %q", valErr.Message)
	}
	if snap.Status != StatusIdle || snap.ID != "" {
		t.Errorf("session changed: %+v", snap)
	}
	if gen.callCount() != 0 {
		t.Errorf("generator called %d times, want 0", gen.callCount())
	}
}

func TestAnalyzeSuccessResolvesPlaceInBackground(t *testing.T) {
	geo := &fakeGeocoder{
		result:  geocode.Result{Status: geocode.StatusFound, Place: paris},
		release: make(chan struct{}),
	}
	o := newTestOrchestrator(staticGenerator("Lumière"), staticMetadata(metadataWithGPS()), geo)

	snap, err := o.Analyze(context.Background(), testImage("a.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != StatusReady {
		t.Fatalf("Status = %s, want ready", snap.Status)
	}
	if !snap.PlacePending || snap.Place != nil {
		t.Errorf("expected pending place, got pending=%v place=%+v", snap.PlacePending, snap.Place)
	}
	if snap.Content.Titles[0] != "Lumière" || !reflect.DeepEqual(snap.Metadata, metadataWithGPS()) {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.MapURL == "" {
		t.Error("MapURL not set for image with GPS")
	}
	if snap.Image == nil || snap.Image.Name != "a.jpg" || snap.PreviewID == "" {
		t.Errorf("image info = %+v, preview = %q", snap.Image, snap.PreviewID)
	}

	close(geo.release)
	o.Wait()

	snap = o.Snapshot()
	if snap.PlacePending || snap.Place == nil || *snap.Place != *paris {
		t.Errorf("place = %+v pending = %v, want Paris", snap.Place, snap.PlacePending)
	}
}

func TestAnalyzeWithoutGPSSkipsGeocoder(t *testing.T) {
	geo := &fakeGeocoder{}
	o := newTestOrchestrator(staticGenerator("t"), staticMetadata(&filehandler.Metadata{ISO: "200"}), geo)

	snap, err := o.Analyze(context.Background(), testImage("a.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o.Wait()

	if snap.PlacePending || snap.Place != nil || snap.MapURL != "" {
		t.Errorf("unexpected place state: %+v", snap)
	}
	if geo.callCount() != 0 {
		t.Errorf("geocoder called %d times", geo.callCount())
	}
}

func TestAnalyzeGeocodeFailureUsesSentinel(t *testing.T) {
	geo := &fakeGeocoder{result: geocode.Result{Status: geocode.StatusFailed, Err: &geocode.GeocodeError{StatusCode: 500}}}
	o := newTestOrchestrator(staticGenerator("t"), staticMetadata(metadataWithGPS()), geo)

	if _, err := o.Analyze(context.Background(), testImage("a.jpg")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o.Wait()

	snap := o.Snapshot()
	if snap.Place == nil || snap.Place.FullAddress != geocode.DefaultPolicy.Unavailable {
		t.Errorf("place = %+v, want unavailable sentinel", snap.Place)
	}
	if snap.Status != StatusReady {
		t.Errorf("Status = %s, geocode failures must not fail the session", snap.Status)
	}
}

func TestAnalyzeGenerationFailureDiscardsMetadata(t *testing.T) {
	genErr := &chat.GenerationError{Reason: chat.ReasonInvalidResponse}
	gen := &fakeGenerator{generate: func(context.Context, *filehandler.Image, chat.Options) (*chat.Content, error) {
		return nil, genErr
	}}
	geo := &fakeGeocoder{}
	o := newTestOrchestrator(gen, staticMetadata(metadataWithGPS()), geo)

	snap, err := o.Analyze(context.Background(), testImage("a.jpg"))
	if !errors.Is(err, genErr) {
		t.Fatalf("err = %v, want generation error", err)
	}
	o.Wait()

	if snap.Status != StatusFailed || snap.Error != MsgAnalysisFailed {
		t.Errorf("Status = %s, Error = %q", snap.Status, snap.Error)
	}
	if snap.Metadata != nil || snap.Content != nil || snap.Place != nil {
		t.Errorf("partial results kept: %+v", snap)
	}
	if geo.callCount() != 0 {
		t.Error("geocoder must not run after a failed analysis")
	}
}

func TestAnalyzeMetadataFailureDegrades(t *testing.T) {
	meta := MetadataFunc(func([]byte) (*filehandler.Metadata, error) {
		return nil, &filehandler.MetadataError{Op: "decode", Err: errors.New("corrupt")}
	})
	o := newTestOrchestrator(staticGenerator("t"), meta, nil)

	snap, err := o.Analyze(context.Background(), testImage("a.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != StatusReady || snap.Metadata != nil {
		t.Errorf("Status = %s, Metadata = %+v", snap.Status, snap.Metadata)
	}
}

func TestRegenerateKeepsMetadataAndPlace(t *testing.T) {
	var title = "first"
	gen := &fakeGenerator{generate: func(_ context.Context, _ *filehandler.Image, opts chat.Options) (*chat.Content, error) {
		return contentFor(title + ":" + string(opts.Tone)), nil
	}}
	geo := &fakeGeocoder{result: geocode.Result{Status: geocode.StatusFound, Place: paris}}
	o := newTestOrchestrator(gen, staticMetadata(metadataWithGPS()), geo)

	if _, err := o.Analyze(context.Background(), testImage("a.jpg")); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	o.Wait()
	before := o.Snapshot()

	title = "second"
	o.SetOptions(chat.Options{Tone: chat.TonePoetic, Kinds: chat.NewKindSet(chat.KindTitles)})
	after, err := o.Regenerate(context.Background())
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	if after.Status != StatusReady || after.Content.Titles[0] != "second:poetic" {
		t.Errorf("after = %+v", after)
	}
	if !reflect.DeepEqual(after.Metadata, before.Metadata) || !reflect.DeepEqual(after.Place, before.Place) {
		t.Errorf("metadata or place changed: before %+v / %+v, after %+v / %+v", before.Metadata, before.Place, after.Metadata, after.Place)
	}
	if after.ID != before.ID || after.PreviewID != before.PreviewID {
		t.Error("regeneration must keep the session and preview")
	}
	if after.Revision != before.Revision+1 {
		t.Errorf("Revision = %d, want %d", after.Revision, before.Revision+1)
	}
	if geo.callCount() != 1 {
		t.Errorf("geocoder called %d times, want 1", geo.callCount())
	}
	if gen.callCount() != 2 {
		t.Errorf("generator called %d times, want 2", gen.callCount())
	}
}

func TestRegenerateValidation(t *testing.T) {
	gen := staticGenerator("t")
	o := newTestOrchestrator(gen, staticMetadata(nil), nil)

	snap, err := o.Regenerate(context.Background())
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("err = %v, want ErrNoImage", err)
	}
	if snap.Status != StatusIdle {
		t.Errorf("Status = %s, want idle", snap.Status)
	}

	if _, err := o.Analyze(context.Background(), testImage("a.jpg")); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	o.SetOptions(chat.Options{Tone: chat.ToneCreative})
	before := o.Snapshot()

	snap, err = o.Regenerate(context.Background())
	if !errors.Is(err, ErrNoContentKinds) {
		t.Fatalf("err = %v, want ErrNoContentKinds", err)
	}
	if !reflect.DeepEqual(snap, before) {
		t.Errorf("rejected regeneration changed the session:\n%+v\n%+v", before, snap)
	}
	if gen.callCount() != 1 {
		t.Errorf("generator called %d times, want 1", gen.callCount())
	}
}

func TestRegenerateFailureKeepsMetadata(t *testing.T) {
	fail := false
	gen := &fakeGenerator{generate: func(context.Context, *filehandler.Image, chat.Options) (*chat.Content, error) {
		if fail {
			return nil, &chat.GenerationError{Reason: chat.ReasonBackend}
		}
		return contentFor("ok"), nil
	}}
	o := newTestOrchestrator(gen, staticMetadata(&filehandler.Metadata{Make: "Canon"}), nil)

	if _, err := o.Analyze(context.Background(), testImage("a.jpg")); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	fail = true
	snap, err := o.Regenerate(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if snap.Status != StatusFailed || snap.Error != MsgRegenerationFailed {
		t.Errorf("Status = %s, Error = %q", snap.Status, snap.Error)
	}
	if snap.Content != nil || snap.Metadata == nil || snap.Metadata.Make != "Canon" {
		t.Errorf("content = %+v, metadata = %+v", snap.Content, snap.Metadata)
	}
}

func TestStalePlaceIsIgnored(t *testing.T) {
	geo := &fakeGeocoder{
		result:  geocode.Result{Status: geocode.StatusFound, Place: paris},
		release: make(chan struct{}),
	}
	meta := MetadataFunc(func(data []byte) (*filehandler.Metadata, error) {
		if string(data) == "jpeg:first.jpg" {
			return metadataWithGPS(), nil
		}
		return nil, nil
	})
	o := newTestOrchestrator(staticGenerator("t"), meta, geo)

	if _, err := o.Analyze(context.Background(), testImage("first.jpg")); err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := o.Analyze(context.Background(), testImage("second.jpg"))
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	close(geo.release)
	o.Wait()

	snap := o.Snapshot()
	if snap.ID != second.ID {
		t.Fatalf("session changed unexpectedly")
	}
	if snap.Place != nil || snap.PlacePending {
		t.Errorf("place from the previous image leaked into the new session: %+v", snap.Place)
	}
}

func TestStaleAnalysisIsIgnored(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := &fakeGenerator{generate: func(_ context.Context, img *filehandler.Image, _ chat.Options) (*chat.Content, error) {
		if img.Name == "slow.jpg" {
			close(started)
			<-release
		}
		return contentFor(img.Name), nil
	}}
	o := newTestOrchestrator(gen, staticMetadata(nil), nil)

	type result struct {
		snap Session
		err  error
	}
	slowDone := make(chan result, 1)
	go func() {
		snap, err := o.Analyze(context.Background(), testImage("slow.jpg"))
		slowDone <- result{snap, err}
	}()
	<-started

	fast, err := o.Analyze(context.Background(), testImage("fast.jpg"))
	if err != nil {
		t.Fatalf("fast: %v", err)
	}
	close(release)

	select {
	case r := <-slowDone:
		if !errors.Is(r.err, ErrSuperseded) {
			t.Errorf("slow err = %v, want ErrSuperseded", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("slow analysis did not return")
	}

	snap := o.Snapshot()
	if snap.ID != fast.ID || snap.Content.Titles[0] != "fast.jpg" || snap.Status != StatusReady {
		t.Errorf("stale result overwrote the session: %+v", snap)
	}
}

func TestStaleRegenerationIsIgnored(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var n int
	var mu sync.Mutex
	gen := &fakeGenerator{generate: func(context.Context, *filehandler.Image, chat.Options) (*chat.Content, error) {
		mu.Lock()
		n++
		call := n
		mu.Unlock()
		if call == 2 {
			close(started)
			<-release
			return contentFor("older"), nil
		}
		return contentFor("newer"), nil
	}}
	o := newTestOrchestrator(gen, staticMetadata(nil), nil)
	if _, err := o.Analyze(context.Background(), testImage("a.jpg")); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	olderDone := make(chan error, 1)
	go func() {
		_, err := o.Regenerate(context.Background())
		olderDone <- err
	}()
	<-started

	if _, err := o.Regenerate(context.Background()); err != nil {
		t.Fatalf("newer regenerate: %v", err)
	}
	close(release)
	if err := <-olderDone; !errors.Is(err, ErrSuperseded) {
		t.Errorf("older err = %v, want ErrSuperseded", err)
	}

	if got := o.Snapshot().Content.Titles[0]; got != "newer" {
		t.Errorf("title = %q, want newer", got)
	}
}

func TestRegenerateRejectedWhileAnalyzing(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := &fakeGenerator{generate: func(context.Context, *filehandler.Image, chat.Options) (*chat.Content, error) {
		close(started)
		<-release
		return contentFor("t"), nil
	}}
	o := newTestOrchestrator(gen, staticMetadata(nil), nil)

	done := make(chan struct{})
	go func() {
		o.Analyze(context.Background(), testImage("a.jpg"))
		close(done)
	}()
	<-started

	if _, err := o.Regenerate(context.Background()); !errors.Is(err, ErrAnalysisInProgress) {
		t.Errorf("err = %v, want ErrAnalysisInProgress", err)
	}
	close(release)
	<-done
}

func TestPreviewReplacedPerImage(t *testing.T) {
	o := newTestOrchestrator(staticGenerator("t"), staticMetadata(nil), nil)

	first, _ := o.Analyze(context.Background(), testImage("first.jpg"))
	if _, ok := o.Preview(first.PreviewID); !ok {
		t.Fatal("first preview not available")
	}

	second, _ := o.Analyze(context.Background(), testImage("second.jpg"))
	if first.PreviewID == second.PreviewID {
		t.Fatal("preview not replaced")
	}
	if _, ok := o.Preview(first.PreviewID); ok {
		t.Error("old preview still available")
	}
	p, ok := o.Preview(second.PreviewID)
	if !ok || string(p.Data) != "jpeg:second.jpg" {
		t.Errorf("preview = %+v, ok = %v", p, ok)
	}

	o.Reset()
	if _, ok := o.Preview(second.PreviewID); ok {
		t.Error("preview survived reset")
	}
	if snap := o.Snapshot(); snap.Status != StatusIdle || snap.ID != "" {
		t.Errorf("after reset: %+v", snap)
	}
}

func TestObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var statuses []Status
	o := New(Config{
		Generator: staticGenerator("t"),
		Metadata:  staticMetadata(nil),
		Options:   chat.DefaultOptions(),
		Observer: func(s Session) {
			mu.Lock()
			statuses = append(statuses, s.Status)
			mu.Unlock()
		},
	})

	if _, err := o.Analyze(context.Background(), testImage("a.jpg")); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if want := []Status{StatusLoading, StatusReady}; !reflect.DeepEqual(statuses, want) {
		t.Errorf("statuses = %v, want %v", statuses, want)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	o := newTestOrchestrator(staticGenerator("original"), staticMetadata(&filehandler.Metadata{Make: "Leica"}), nil)
	snap, _ := o.Analyze(context.Background(), testImage("a.jpg"))

	snap.Content.Titles[0] = "mutated"
	snap.Metadata.Make = "mutated"

	again := o.Snapshot()
	if again.Content.Titles[0] != "original" || again.Metadata.Make != "Leica" {
		t.Errorf("snapshot mutation leaked into the orchestrator: %+v", again)
	}
}
