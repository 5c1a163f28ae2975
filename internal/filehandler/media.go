// Package filehandler loads images from uploads, disk and URLs, reads their
// camera metadata and produces downscaled previews.
//
// Metadata comes from two pure Go decoders:
//   - evanoberholster/imagemeta for camera identity and GPS (JPEG, HEIC, TIFF)
//   - rwcarlsen/goexif for the rational exposure tags
package filehandler

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// SupportedImageExtensions maps accepted file extensions to MIME types.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// MaxImageBytes caps the size of any image accepted for analysis.
const MaxImageBytes = 20 << 20

var (
	// ErrEmptyImage is returned for zero-length image data.
	ErrEmptyImage = errors.New("image is empty")
	// ErrUnsupportedType is returned when the data is not a supported image format.
	ErrUnsupportedType = errors.New("unsupported image type")
	// ErrTooLarge is returned when the image exceeds MaxImageBytes.
	ErrTooLarge = errors.New("image exceeds maximum size")
)

// Source records how an image entered the application.
type Source string

const (
	SourceUpload Source = "upload"
	SourcePath   Source = "path"
	SourceURL    Source = "url"
)

// Image is an image held in memory together with its detected type.
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
	Source   Source
	// Origin is the file path or URL the image was read from, if any.
	Origin string
}

// Size returns the number of bytes in the image.
func (img *Image) Size() int {
	return len(img.Data)
}

// NewImage validates data and wraps it in an Image, detecting its MIME type
// from the content first and the file name second.
func NewImage(name string, data []byte, source Source) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	mimeType := DetectMIMEType(name, data)
	if mimeType == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, name)
	}

	if name == "" {
		name = "image" + extensionFor(mimeType)
	}
	return &Image{Name: name, MIMEType: mimeType, Data: data, Source: source}, nil
}

// LoadImage reads an image file from disk.
func LoadImage(path string) (*Image, error) {
	log.Debug().Str("path", path).Msg("Loading image file")

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}
	if info.Size() > MaxImageBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	img, err := NewImage(filepath.Base(path), data, SourcePath)
	if err != nil {
		return nil, err
	}
	img.Origin = path

	log.Info().
		Str("path", path).
		Str("mime_type", img.MIMEType).
		Int("size_bytes", img.Size()).
		Msg("Image file loaded")
	return img, nil
}

// DetectMIMEType sniffs data for a supported image type, falling back to the
// extension of name for formats the sniffer does not know (HEIC/HEIF).
// It returns "" for unsupported data.
func DetectMIMEType(name string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	for _, supported := range SupportedImageExtensions {
		if sniffed == supported {
			return sniffed
		}
	}
	if mimeType, ok := SupportedImageExtensions[strings.ToLower(filepath.Ext(name))]; ok {
		return mimeType
	}
	return ""
}

// IsImage reports whether ext is a supported image extension.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "":
		return ""
	}
	for ext, m := range SupportedImageExtensions {
		if m == mimeType {
			return ext
		}
	}
	return ""
}
