// Package jobs generates opaque identifiers for sessions, previews and
// history records.
package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/rs/zerolog/log"
)

// Identifier prefixes. Each includes its trailing dash.
const (
	PrefixSession = "img-"
	PrefixPreview = "prv-"
	PrefixRecord  = "rec-"
)

// GenerateID returns prefix followed by 32 random hex characters.
func GenerateID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msgf("Failed to generate random %s identifier", prefix)
	}
	return prefix + hex.EncodeToString(b)
}

// HasPrefix reports whether id was generated with prefix and carries a
// well-formed random part.
func HasPrefix(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}
