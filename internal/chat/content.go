package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tone is the writing register requested from the model.
type Tone string

const (
	ToneCreative     Tone = "creative"
	ToneProfessional Tone = "professional"
	TonePoetic       Tone = "poetic"
	ToneHumorous     Tone = "humorous"
	ToneNeutral      Tone = "neutral"
)

// DefaultTone is selected when the user has not chosen one.
const DefaultTone = ToneCreative

// Tones lists every tone in display order.
var Tones = []Tone{ToneCreative, ToneProfessional, TonePoetic, ToneHumorous, ToneNeutral}

var toneLabels = map[Tone]string{
	ToneCreative:     "Créatif",
	ToneProfessional: "Professionnel",
	TonePoetic:       "Poétique",
	ToneHumorous:     "Humoristique",
	ToneNeutral:      "Neutre",
}

// Label returns the French display label of the tone, which is also the word
// placed in the prompt.
func (t Tone) Label() string {
	if label, ok := toneLabels[t]; ok {
		return label
	}
	return toneLabels[DefaultTone]
}

// ParseTone accepts a tone identifier or its label, ignoring case.
func ParseTone(s string) (Tone, error) {
	s = strings.TrimSpace(s)
	for _, t := range Tones {
		if strings.EqualFold(s, string(t)) || strings.EqualFold(s, t.Label()) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tone %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tone) UnmarshalText(b []byte) error {
	parsed, err := ParseTone(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ContentKind is one category of generated text.
type ContentKind string

const (
	KindTitles   ContentKind = "titles"
	KindCaptions ContentKind = "captions"
	KindExcerpts ContentKind = "excerpts"
)

// KindSet is a set of content kinds. Adding a kind twice has no effect.
type KindSet uint8

// AllKinds contains every content kind.
var AllKinds = NewKindSet(KindTitles, KindCaptions, KindExcerpts)

func kindBit(k ContentKind) KindSet {
	for i, spec := range kindTable {
		if spec.kind == k {
			return 1 << i
		}
	}
	return 0
}

// NewKindSet returns a set holding kinds.
func NewKindSet(kinds ...ContentKind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

// ParseKinds builds a set from kind names, rejecting unknown names.
func ParseKinds(names []string) (KindSet, error) {
	var s KindSet
	for _, name := range names {
		k := ContentKind(strings.ToLower(strings.TrimSpace(name)))
		if kindBit(k) == 0 {
			return 0, fmt.Errorf("unknown content kind %q", name)
		}
		s = s.With(k)
	}
	return s, nil
}

// With returns the set with k added.
func (s KindSet) With(k ContentKind) KindSet { return s | kindBit(k) }

// Without returns the set with k removed.
func (s KindSet) Without(k ContentKind) KindSet { return s &^ kindBit(k) }

// Has reports whether k is in the set.
func (s KindSet) Has(k ContentKind) bool {
	bit := kindBit(k)
	return bit != 0 && s&bit != 0
}

// Empty reports whether the set has no kinds.
func (s KindSet) Empty() bool { return s&AllKinds == 0 }

// Kinds lists the members in canonical order.
func (s KindSet) Kinds() []ContentKind {
	kinds := make([]ContentKind, 0, len(kindTable))
	for _, spec := range kindTable {
		if s.Has(spec.kind) {
			kinds = append(kinds, spec.kind)
		}
	}
	return kinds
}

// MarshalJSON encodes the set as an array of kind names.
func (s KindSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Kinds())
}

// UnmarshalJSON decodes an array of kind names.
func (s *KindSet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	parsed, err := ParseKinds(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Options selects what to generate and in which tone.
type Options struct {
	Tone  Tone    `json:"tone"`
	Kinds KindSet `json:"kinds"`
}

// DefaultOptions returns the creative tone with every kind selected.
func DefaultOptions() Options {
	return Options{Tone: DefaultTone, Kinds: AllKinds}
}

// Excerpt is a literary quotation matched to an image. Translation is empty
// when Text is already in the target language.
type Excerpt struct {
	Text        string `json:"text" yaml:"text"`
	Translation string `json:"translation" yaml:"translation"`
	Author      string `json:"author" yaml:"author"`
	Work        string `json:"work" yaml:"work"`
}

// Content is the text generated for one image.
type Content struct {
	Titles   []string  `json:"titles" yaml:"titles"`
	Captions []string  `json:"captions" yaml:"captions"`
	Excerpts []Excerpt `json:"excerpts" yaml:"excerpts"`
}

// EmptyContent returns content with every list present and empty.
func EmptyContent() *Content {
	return &Content{Titles: []string{}, Captions: []string{}, Excerpts: []Excerpt{}}
}

// IsEmpty reports whether no text was generated.
func (c *Content) IsEmpty() bool {
	return c == nil || (len(c.Titles) == 0 && len(c.Captions) == 0 && len(c.Excerpts) == 0)
}

// Clone returns a deep copy.
func (c *Content) Clone() *Content {
	if c == nil {
		return nil
	}
	return &Content{
		Titles:   append([]string{}, c.Titles...),
		Captions: append([]string{}, c.Captions...),
		Excerpts: append([]Excerpt{}, c.Excerpts...),
	}
}
