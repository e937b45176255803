// Package speech defines the speech synthesis boundary and the markup
// rendering for everything firecentral speaks.
//
// Each spoken component is an Utterance: a closed set of kinds, each mapping
// the raw label text to SSML-like markup. The markup mirrors the station's
// announcement conventions for European Portuguese: a slow, compressed voice
// for most cues, extra-slow spell-out for vehicle call signs.
package speech

import (
	"context"
	"fmt"
	"strings"
)

// Synthesizer converts a markup-annotated text string into audio bytes.
// Voice, locale and engine selection are fixed external configuration of
// the concrete backend, not part of this contract.
type Synthesizer interface {
	// Synthesize produces an audio clip for the given markup text.
	Synthesize(ctx context.Context, markup string) ([]byte, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Kind discriminates the closed set of utterance variants.
type Kind int

const (
	// KindOccurrence announces the occurrence label with the "Saída para"
	// dispatch intro.
	KindOccurrence Kind = iota

	// KindStaff speaks a numeric staff label with leading zeros stripped.
	KindStaff

	// KindVehicle spells out a vehicle call sign, uppercased, whitespace
	// removed.
	KindVehicle

	// KindPattern speaks a fixed linking phrase as-is.
	KindPattern

	// KindRaw passes the text through untouched (already marked up).
	KindRaw
)

// Utterance is one spoken component awaiting synthesis.
type Utterance struct {
	Kind Kind
	Text string
}

func Occurrence(label string) Utterance { return Utterance{Kind: KindOccurrence, Text: label} }
func Staff(label string) Utterance      { return Utterance{Kind: KindStaff, Text: label} }
func Vehicle(label string) Utterance    { return Utterance{Kind: KindVehicle, Text: label} }
func Pattern(text string) Utterance     { return Utterance{Kind: KindPattern, Text: text} }
func Raw(markup string) Utterance       { return Utterance{Kind: KindRaw, Text: markup} }

// Prosody wrappers shared by the renderers.
const (
	slowSpeech  = `<speak><prosody rate="medium"><amazon:effect name="drc">`
	xSlowSpeech = `<speak><prosody rate="slow"><amazon:effect name="drc">`
	speechEnd   = `</amazon:effect></prosody></speak>`
)

// renderers maps each kind to its markup template.
var renderers = map[Kind]func(text string) string{
	KindOccurrence: func(text string) string {
		return slowSpeech + `Saída <phoneme alphabet="ipa" ph="pɐ.ɾɐ">para</phoneme> <break strength="weak" /> ` + text + speechEnd
	},
	KindStaff: func(text string) string {
		return slowSpeech + strings.TrimLeft(text, "0") + speechEnd
	},
	KindVehicle: func(text string) string {
		return xSlowSpeech + `<say-as interpret-as="spell-out">` + spellOutFixups(stripWhitespace(strings.ToUpper(text))) + `</say-as>` + speechEnd
	},
	KindPattern: func(text string) string {
		return slowSpeech + text + speechEnd
	},
	KindRaw: func(text string) string {
		return text
	},
}

// Markup renders the utterance to the markup string handed to the
// synthesizer.
func (u Utterance) Markup() string {
	render, ok := renderers[u.Kind]
	if !ok {
		return u.Text
	}
	return render(u.Text)
}

func (u Utterance) String() string {
	return fmt.Sprintf("utterance(%d, %q)", u.Kind, u.Text)
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// spellOutFixups patches letters the spell-out voice mispronounces: "S" is
// forced to its Portuguese letter name via an IPA phoneme.
func spellOutFixups(s string) string {
	return strings.ReplaceAll(s, "S",
		`</say-as><phoneme alphabet="ipa" ph="ˈɛs">S</phoneme><say-as interpret-as="spell-out">`)
}
