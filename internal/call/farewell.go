package call

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// farewellPhrases are closing phrases that should end the call after the
// agent's next response. Matched phonetically so STT mishearings like
// "good by" or "goodby" still register.
var farewellPhrases = []string{
	"goodbye",
	"bye",
	"bye bye",
	"see you",
	"talk to you later",
	"have a good day",
	"that's all",
	"that is all",
	"hang up",
}

// jwFarewellThreshold is the minimum Jaro-Winkler score for a phrase match.
const jwFarewellThreshold = 0.92

// FarewellDetector spots caller goodbyes in transcripts. Phrase codes are
// precomputed once; detection per utterance is a token scan.
type FarewellDetector struct {
	phrases []farewellPhrase
}

type farewellPhrase struct {
	text   string
	tokens []string
	codes  map[string]struct{}
}

// NewFarewellDetector builds a detector over the standard phrase list plus
// any extra phrases from configuration.
func NewFarewellDetector(extra ...string) *FarewellDetector {
	all := make([]string, 0, len(farewellPhrases)+len(extra))
	all = append(all, farewellPhrases...)
	all = append(all, extra...)

	d := &FarewellDetector{phrases: make([]farewellPhrase, 0, len(all))}
	for _, p := range all {
		tokens := tokenize(p)
		if len(tokens) == 0 {
			continue
		}
		d.phrases = append(d.phrases, farewellPhrase{
			text:   p,
			tokens: tokens,
			codes:  metaphoneCodes(tokens),
		})
	}
	return d
}

// IsFarewell reports whether the transcript's closing words look like a
// goodbye. Only the final few tokens are considered: "bye" at the end of an
// utterance is a farewell, mid-sentence it usually is not.
func (d *FarewellDetector) IsFarewell(transcript string) bool {
	tokens := tokenize(transcript)
	if len(tokens) == 0 {
		return false
	}
	// Longest phrase is five tokens; look at the tail only.
	const tailLen = 5
	if len(tokens) > tailLen {
		tokens = tokens[len(tokens)-tailLen:]
	}
	tail := strings.Join(tokens, " ")

	for _, p := range d.phrases {
		if strings.Contains(" "+tail+" ", " "+strings.Join(p.tokens, " ")+" ") {
			return true
		}
		if matchr.JaroWinkler(tail, strings.Join(p.tokens, " "), false) >= jwFarewellThreshold {
			return true
		}
		// Single-word phrases also match phonetically against the last token.
		if len(p.tokens) == 1 && codesOverlap(p.codes, metaphoneCodes(tokens[len(tokens)-1:])) {
			if matchr.JaroWinkler(tokens[len(tokens)-1], p.tokens[0], false) >= 0.85 {
				return true
			}
		}
	}
	return false
}

// tokenize lowercases and splits on non-letter runs.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// metaphoneCodes returns the double-metaphone code set for the tokens.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
