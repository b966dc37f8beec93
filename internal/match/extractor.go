package match

import (
	"strings"
	"unicode"
)

// Candidate is one extracted place-name span.
type Candidate struct {
	Raw  string // original span as written
	Norm string // Normalize(Raw)
}

// stopwords are tokens that never open or close a candidate span.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "any": true, "at": true,
	"but": true, "by": true, "for": true, "from": true, "get": true,
	"go": true, "has": true, "have": true, "how": true, "i": true,
	"if": true, "in": true, "is": true, "it": true, "its": true,
	"my": true, "not": true, "of": true, "on": true, "or": true,
	"our": true, "so": true, "that": true, "the": true, "their": true,
	"then": true, "they": true, "this": true, "to": true, "try": true,
	"was": true, "we": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "why": true, "with": true, "you": true,
	"also": true, "just": true, "really": true, "very": true,
}

// ExtractCandidates pulls likely place names out of free discussion text:
// quoted spans and runs of capitalized tokens. Spans of two characters or
// fewer are dropped, as are spans made entirely of stopwords. Results are
// deduplicated on the normalized form.
func ExtractCandidates(text string) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate

	add := func(span string) {
		span = strings.TrimSpace(span)
		norm := Normalize(span)
		if len(norm) <= 2 || seen[norm] {
			return
		}
		if allStopwords(norm) {
			return
		}
		seen[norm] = true
		out = append(out, Candidate{Raw: span, Norm: norm})
	}

	for _, span := range quotedSpans(text) {
		add(span)
	}
	for _, span := range capitalizedRuns(text) {
		add(span)
	}

	return out
}

// quotedSpans returns the contents of double-quoted regions, straight or
// typographic.
func quotedSpans(text string) []string {
	var out []string
	var cur strings.Builder
	open := false

	for _, r := range text {
		switch r {
		case '"', '“', '”':
			if open {
				out = append(out, cur.String())
				cur.Reset()
			}
			open = !open
		default:
			if open {
				cur.WriteRune(r)
			}
		}
	}

	return out
}

// connectives are the only lowercase tokens allowed inside a run, so
// "House of Prime Rib" survives intact without gluing unrelated capitals
// across prepositions like "on" or "at".
var connectives = map[string]bool{
	"of": true, "the": true, "and": true, "de": true, "del": true,
	"la": true, "le": true, "di": true, "da": true, "du": true,
	"el": true, "al": true, "y": true,
}

// capitalizedRuns returns maximal runs of capitalized tokens, with lowercase
// connectives kept when the run continues past them.
func capitalizedRuns(text string) []string {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	})

	var out []string
	var run []string

	flush := func() {
		// Trim trailing connectives that only made it in speculatively.
		for len(run) > 0 && connectives[strings.ToLower(run[len(run)-1])] {
			run = run[:len(run)-1]
		}
		if len(run) > 0 {
			out = append(out, strings.Join(run, " "))
		}
		run = nil
	}

	for _, tok := range tokens {
		word := strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
		})
		if word == "" {
			flush()
			continue
		}

		first, _ := firstLetter(word)
		lower := strings.ToLower(word)

		switch {
		case unicode.IsUpper(first) && !stopwords[lower]:
			run = append(run, word)
		case len(run) > 0 && connectives[lower]:
			// Speculative; the flush trims it if the run ends here.
			run = append(run, word)
		default:
			flush()
		}

		// Sentence punctuation ends a run even mid-token.
		if strings.ContainsAny(tok, ".!?,;:") {
			flush()
		}
	}
	flush()

	return out
}

func firstLetter(s string) (rune, bool) {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return r, true
		}
	}
	return 0, false
}

func allStopwords(norm string) bool {
	fields := strings.Fields(norm)
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if !stopwords[f] {
			return false
		}
	}
	return true
}
