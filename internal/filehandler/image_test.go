package filehandler

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestFormatExposureTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0.008, "1/125"},
		{1.0 / 60, "1/60"},
		{0.5, "1/2"},
		{0.3, "1/3"},
		{2, "2"},
		{1, "1"},
		{2.5, "2.5"},
		{30, "30"},
	}
	for _, tt := range tests {
		if got := FormatExposureTime(tt.seconds); got != tt.want {
			t.Errorf("FormatExposureTime(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestCleanString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ILCE-7M3\x00\x00\x00", "ILCE-7M3"},
		{"  Canon EOS R5 ", "Canon EOS R5"},
		{"\x00", ""},
	}
	for _, tt := range tests {
		if got := cleanString(tt.in); got != tt.want {
			t.Errorf("cleanString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMetadataIsEmpty(t *testing.T) {
	var nilMeta *Metadata
	if !nilMeta.IsEmpty() {
		t.Error("nil metadata should be empty")
	}
	if !(&Metadata{}).IsEmpty() {
		t.Error("zero metadata should be empty")
	}
	if (&Metadata{ISO: "100"}).IsEmpty() {
		t.Error("metadata with ISO should not be empty")
	}
	if (&Metadata{GPS: &GPS{Latitude: 1}}).IsEmpty() {
		t.Error("metadata with GPS should not be empty")
	}
}

func TestMetadataClone(t *testing.T) {
	orig := &Metadata{Make: "SONY", GPS: &GPS{Latitude: 48.85, Longitude: 2.35}}
	c := orig.Clone()
	c.GPS.Latitude = 0
	c.Make = "Canon"

	if orig.GPS.Latitude != 48.85 || orig.Make != "SONY" {
		t.Errorf("Clone shares state with original: %+v", orig)
	}
}

func TestExtractMetadataEmptyData(t *testing.T) {
	meta, err := ExtractMetadata(nil)
	if meta != nil {
		t.Errorf("meta = %+v, want nil", meta)
	}
	var metaErr *MetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("err = %v, want *MetadataError", err)
	}
	if !errors.Is(err, ErrEmptyImage) {
		t.Errorf("err = %v, want wrapping ErrEmptyImage", err)
	}
}

func TestExtractNeverFails(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("not an image"), encodePNG(t, 4, 4)} {
		if meta := Extract(data); meta != nil {
			t.Errorf("Extract(%d bytes) = %+v, want nil", len(data), meta)
		}
	}
}

func TestNewImage(t *testing.T) {
	pngData := encodePNG(t, 2, 2)

	img, err := NewImage("photo.png", pngData, SourceUpload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", img.MIMEType)
	}

	// Content wins over a misleading extension.
	img, err = NewImage("photo.jpg", pngData, SourceUpload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", img.MIMEType)
	}

	// HEIC is not sniffable and falls back to the extension.
	img, err = NewImage("IMG_0001.HEIC", []byte("\x00\x00\x00\x18ftypheic"), SourcePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.MIMEType != "image/heic" {
		t.Errorf("MIMEType = %q, want image/heic", img.MIMEType)
	}

	img, err = NewImage("", pngData, SourceUpload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Name != "image.png" {
		t.Errorf("Name = %q, want image.png", img.Name)
	}
}

func TestNewImageRejects(t *testing.T) {
	if _, err := NewImage("a.png", nil, SourceUpload); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("empty: err = %v, want ErrEmptyImage", err)
	}
	if _, err := NewImage("notes.txt", []byte("hello world"), SourceUpload); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("text: err = %v, want ErrUnsupportedType", err)
	}
	if _, err := NewImage("big.jpg", make([]byte, MaxImageBytes+1), SourceUpload); !errors.Is(err, ErrTooLarge) {
		t.Errorf("oversized: err = %v, want ErrTooLarge", err)
	}
}

func TestPreviewDimensions(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{800, 600, 1024, 800, 600},
		{4000, 3000, 1024, 1024, 768},
		{3000, 4000, 1024, 768, 1024},
		{5000, 2, 1024, 1024, 1},
	}
	for _, tt := range tests {
		w, h := previewDimensions(tt.w, tt.h, tt.max)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("previewDimensions(%d, %d, %d) = (%d, %d), want (%d, %d)",
				tt.w, tt.h, tt.max, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestGeneratePreview(t *testing.T) {
	img := &Image{Name: "big.png", MIMEType: "image/png", Data: encodePNG(t, 300, 150)}

	data, mimeType, ok := GeneratePreview(img, 100)
	if !ok {
		t.Fatal("expected preview to be generated")
	}
	if mimeType != "image/jpeg" {
		t.Errorf("mimeType = %q, want image/jpeg", mimeType)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("preview is not a JPEG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("preview size = %dx%d, want 100x50", b.Dx(), b.Dy())
	}
}

func TestGeneratePreviewUndecodable(t *testing.T) {
	img := &Image{Name: "a.heic", MIMEType: "image/heic", Data: []byte("heic bytes")}

	data, mimeType, ok := GeneratePreview(img, 100)
	if ok {
		t.Error("ok = true for undecodable image")
	}
	if mimeType != "image/heic" || !bytes.Equal(data, img.Data) {
		t.Error("undecodable image should be returned unchanged")
	}
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
