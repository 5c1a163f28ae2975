package filehandler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/evanoberholster/imagemeta"
	"github.com/evanoberholster/imagemeta/exif2"
	"github.com/rs/zerolog/log"
	"github.com/rwcarlsen/goexif/exif"
)

// GPS holds decimal-degree coordinates.
type GPS struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Metadata is the camera information read from an image. Every field is
// optional; a Metadata with no field set is never returned.
type Metadata struct {
	Make         string `json:"make,omitempty" yaml:"make,omitempty"`
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
	FocalLength  string `json:"focalLength,omitempty" yaml:"focalLength,omitempty"`
	FNumber      string `json:"fNumber,omitempty" yaml:"fNumber,omitempty"`
	ExposureTime string `json:"exposureTime,omitempty" yaml:"exposureTime,omitempty"`
	ISO          string `json:"iso,omitempty" yaml:"iso,omitempty"`
	GPS          *GPS   `json:"gps,omitempty" yaml:"gps,omitempty"`
}

// IsEmpty reports whether no field is set.
func (m *Metadata) IsEmpty() bool {
	return m == nil || (m.Make == "" && m.Model == "" && m.FocalLength == "" &&
		m.FNumber == "" && m.ExposureTime == "" && m.ISO == "" && m.GPS == nil)
}

// HasGPS reports whether coordinates are present.
func (m *Metadata) HasGPS() bool {
	return m != nil && m.GPS != nil
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	if m.GPS != nil {
		gps := *m.GPS
		c.GPS = &gps
	}
	return &c
}

// MetadataError reports that the image could not be parsed for metadata.
// It never reaches the user; callers degrade to "no metadata".
type MetadataError struct {
	Op  string
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata %s: %v", e.Op, e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// ExtractMetadata reads camera metadata from image bytes.
// It returns (nil, nil) when the image carries none of the known fields and
// (nil, *MetadataError) when neither decoder can parse it.
func ExtractMetadata(data []byte) (*Metadata, error) {
	if len(data) == 0 {
		return nil, &MetadataError{Op: "read", Err: ErrEmptyImage}
	}

	meta := &Metadata{}

	identityErr := readIdentity(data, meta)
	settingsErr := readSettings(data, meta, identityErr != nil)
	if identityErr != nil && settingsErr != nil {
		return nil, &MetadataError{Op: "decode", Err: errors.Join(identityErr, settingsErr)}
	}

	if meta.IsEmpty() {
		log.Debug().Msg("Image carries no camera metadata")
		return nil, nil
	}

	log.Debug().
		Str("make", meta.Make).
		Str("model", meta.Model).
		Str("exposure", meta.ExposureTime).
		Bool("has_gps", meta.HasGPS()).
		Msg("Camera metadata extracted")
	return meta, nil
}

// Extract is ExtractMetadata with failures logged and reported as absence.
func Extract(data []byte) *Metadata {
	meta, err := ExtractMetadata(data)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to extract image metadata, continuing without it")
		return nil
	}
	return meta
}

// readIdentity fills camera make, model and GPS using imagemeta.
func readIdentity(data []byte, meta *Metadata) error {
	ex, err := decodeExifSafe(bytes.NewReader(data))
	if err != nil {
		return err
	}

	meta.Make = cleanString(ex.Make)
	meta.Model = cleanString(ex.Model)
	if lat, lon := ex.GPS.Latitude(), ex.GPS.Longitude(); lat != 0 || lon != 0 {
		meta.GPS = &GPS{Latitude: lat, Longitude: lon}
	}
	return nil
}

// decodeExifSafe converts decoder panics on malformed files into errors.
func decodeExifSafe(r io.ReadSeeker) (ex exif2.Exif, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while decoding EXIF: %v", rec)
		}
	}()
	return imagemeta.Decode(r)
}

// readSettings fills the exposure fields using goexif, and GPS when it is
// still unset. When fillIdentity is set it also supplies make and model.
func readSettings(data []byte, meta *Metadata, fillIdentity bool) error {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("goexif: %w", err)
	}

	if v, ok := rationalTag(x, exif.ExposureTime); ok {
		meta.ExposureTime = FormatExposureTime(v)
	}
	if v, ok := rationalTag(x, exif.FNumber); ok {
		meta.FNumber = formatDecimal(v)
	}
	if v, ok := rationalTag(x, exif.FocalLength); ok {
		meta.FocalLength = formatDecimal(v) + "mm"
	}
	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if iso, err := tag.Int(0); err == nil {
			meta.ISO = strconv.Itoa(iso)
		}
	}

	if fillIdentity {
		meta.Make = stringTag(x, exif.Make)
		meta.Model = stringTag(x, exif.Model)
	}
	// imagemeta reports missing GPS as (0,0); goexif errors instead, so a
	// real fix on the equator at the prime meridian is only kept here.
	if meta.GPS == nil {
		if lat, lon, err := x.LatLong(); err == nil {
			meta.GPS = &GPS{Latitude: lat, Longitude: lon}
		}
	}
	return nil
}

func rationalTag(x *exif.Exif, field exif.FieldName) (float64, bool) {
	tag, err := x.Get(field)
	if err != nil {
		return 0, false
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return 0, false
	}
	return float64(num) / float64(den), true
}

func stringTag(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return cleanString(s)
}

// cleanString drops the NUL padding some cameras write into ASCII tags.
func cleanString(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// FormatExposureTime renders an exposure in seconds the way photographers
// read it: sub-second values as "1/N" with N rounded, others as a plain
// decimal ("2", "2.5").
func FormatExposureTime(seconds float64) string {
	if seconds > 0 && seconds < 1 {
		return "1/" + formatDecimal(math.Round(1/seconds))
	}
	return formatDecimal(seconds)
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
