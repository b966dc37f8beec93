package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norms(cands []Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Norm)
	}
	return out
}

func TestExtractCandidates_CapitalizedRuns(t *testing.T) {
	got := ExtractCandidates("You have to try Katz's Delicatessen on Houston, best pastrami in town.")

	assert.Contains(t, norms(got), "katz s delicatessen")
	assert.Contains(t, norms(got), "houston")
}

func TestExtractCandidates_QuotedSpans(t *testing.T) {
	got := ExtractCandidates(`the place everyone calls "di fara" is worth the wait`)

	require.Len(t, got, 1)
	assert.Equal(t, "di fara", got[0].Norm)
	assert.Equal(t, "di fara", got[0].Raw)
}

func TestExtractCandidates_ConnectivesInsideRuns(t *testing.T) {
	got := ExtractCandidates("dinner at House of Prime Rib was great")

	assert.Contains(t, norms(got), "house of prime rib")
}

func TestExtractCandidates_TrailingConnectiveTrimmed(t *testing.T) {
	got := ExtractCandidates("went to Roberta's and then home")

	assert.Contains(t, norms(got), "roberta s")
	assert.NotContains(t, norms(got), "roberta s and")
}

func TestExtractCandidates_Filters(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"short span dropped", "I went to LA yesterday"},
		{"stopword-only dropped", "The And Or"},
		{"no candidates in lowercase text", "nothing capitalized or quoted here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, ExtractCandidates(tt.text))
		})
	}
}

func TestExtractCandidates_Dedupes(t *testing.T) {
	got := ExtractCandidates(`Lucali is packed. "Lucali" always is.`)

	require.Len(t, got, 1)
	assert.Equal(t, "lucali", got[0].Norm)
}

func TestExtractCandidates_SentencePunctuationEndsRun(t *testing.T) {
	got := ExtractCandidates("Best slice? Prince Street Pizza. Totonno's is close though")

	assert.Contains(t, norms(got), "prince street pizza")
	assert.Contains(t, norms(got), "totonno s")
	assert.NotContains(t, norms(got), "prince street pizza totonno s")
}
