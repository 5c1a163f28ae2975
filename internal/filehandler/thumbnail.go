package filehandler

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultPreviewMaxDimension is the longest edge of a generated preview.
const DefaultPreviewMaxDimension = 1024

const previewJPEGQuality = 85

// GeneratePreview returns a displayable copy of img no larger than
// maxDimension on its longest edge, encoded as JPEG. Formats the standard
// decoders cannot read (HEIC) are returned unchanged with ok=false.
func GeneratePreview(img *Image, maxDimension int) (data []byte, mimeType string, ok bool) {
	if maxDimension <= 0 {
		maxDimension = DefaultPreviewMaxDimension
	}

	src, format, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		log.Debug().Err(err).Str("mime_type", img.MIMEType).Msg("Preview decode unsupported, using original bytes")
		return img.Data, img.MIMEType, false
	}

	bounds := src.Bounds()
	width, height := previewDimensions(bounds.Dx(), bounds.Dy(), maxDimension)

	out := src
	if width != bounds.Dx() || height != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: previewJPEGQuality}); err != nil {
		log.Warn().Err(err).Msg("Failed to encode preview, using original bytes")
		return img.Data, img.MIMEType, false
	}

	log.Debug().
		Str("format", format).
		Int("orig_width", bounds.Dx()).
		Int("orig_height", bounds.Dy()).
		Int("new_width", width).
		Int("new_height", height).
		Int("output_size", buf.Len()).
		Msg("Preview generated")
	return buf.Bytes(), "image/jpeg", true
}

// previewDimensions scales (width, height) so the longest edge is at most
// maxDimension, preserving aspect ratio. Smaller images keep their size.
func previewDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}
	if width >= height {
		h := height * maxDimension / width
		return maxDimension, max(h, 1)
	}
	w := width * maxDimension / height
	return max(w, 1), maxDimension
}
