package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fpang/image-insight/internal/analysis"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

// writeSession prints a finished session in the requested format.
func writeSession(w io.Writer, s analysis.Session, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	case formatText:
		_, err := io.WriteString(w, renderText(s))
		return err
	}
	return checkFormat(format)
}

func renderText(s analysis.Session) string {
	var b strings.Builder
	if s.Image != nil {
		fmt.Fprintf(&b, "Image: %s (%s, %d bytes)\n", s.Image.Name, s.Image.MIMEType, s.Image.Size)
	}

	if c := s.Content; c != nil {
		section(&b, "Titles", c.Titles)
		section(&b, "Captions", c.Captions)
		if len(c.Excerpts) > 0 {
			b.WriteString("\nExcerpts\n")
			for i, e := range c.Excerpts {
				fmt.Fprintf(&b, "  %d. %q\n", i+1, e.Text)
				if e.Translation != "" {
					fmt.Fprintf(&b, "     %q\n", e.Translation)
				}
				fmt.Fprintf(&b, "     %s, %s\n", e.Author, e.Work)
			}
		}
	}

	if m := s.Metadata; m != nil && !m.IsEmpty() {
		b.WriteString("\nCamera\n")
		field(&b, "Make", m.Make)
		field(&b, "Model", m.Model)
		field(&b, "Focal length", m.FocalLength)
		field(&b, "Aperture", m.FNumber)
		field(&b, "Exposure", m.ExposureTime)
		field(&b, "ISO", m.ISO)
		if m.GPS != nil {
			field(&b, "GPS", fmt.Sprintf("%.6f, %.6f", m.GPS.Latitude, m.GPS.Longitude))
		}
	}

	if s.Place != nil {
		b.WriteString("\nPlace\n")
		field(&b, "Address", s.Place.FullAddress)
		field(&b, "Map", s.MapURL)
	}
	return b.String()
}

func section(b *strings.Builder, name string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s\n", name)
	for i, item := range items {
		fmt.Fprintf(b, "  %d. %s\n", i+1, item)
	}
}

func field(b *strings.Builder, name, value string) {
	if value != "" {
		fmt.Fprintf(b, "  %-13s %s\n", name+":", value)
	}
}
