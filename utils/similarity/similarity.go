package similarity

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
)

// Similarity scores two release or file names between 0.0 (completely
// different) and 1.0 (identical after normalization), using Levenshtein
// distance over the normalized forms.
//
// When the shorter name is a whole-word prefix of the longer one and covers
// most of it (e.g. "The Matrix" vs "The Matrix 1999 1080p") the score stays
// high, since release names routinely append tags to the title.
func Similarity(s1, s2 string) float64 {
	s1 = normalize(s1)
	s2 = normalize(s2)

	if s1 == s2 {
		return 1.0
	}
	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}

	if score := containmentScore(s1, s2); score > 0 {
		return score
	}

	r1, r2 := []rune(s1), []rune(s2)
	longest := max(len(r1), len(r2))
	return 1.0 - float64(levenshteinDistance(r1, r2))/float64(longest)
}

func containmentScore(s1, s2 string) float64 {
	longer, shorter := s1, s2
	if len(s1) < len(s2) {
		longer, shorter = s2, s1
	}
	ratio := float64(len(shorter)) / float64(len(longer))
	if ratio < 0.5 {
		return 0
	}
	if strings.HasPrefix(longer, shorter) && longer[len(shorter)] == ' ' {
		return 0.85 + ratio*0.10
	}
	if strings.HasSuffix(longer, shorter) && longer[len(longer)-len(shorter)-1] == ' ' {
		return 0.85 + ratio*0.10
	}
	return 0
}

// normalize transliterates to ASCII, lowercases, turns separators into single
// spaces and maps "&" to "and".
func normalize(s string) string {
	s = unidecode.Unidecode(s)
	s = strings.ReplaceAll(s, "&", " and ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '.' || r == '-' || r == '_' || r == '[' || r == ']' || r == '(' || r == ')':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func levenshteinDistance(r1, r2 []rune) int {
	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(r2)]
}
