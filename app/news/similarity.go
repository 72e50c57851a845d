package news

import (
	"math"
	"strings"
	"unicode"
)

// HeadlineSimilarity is the cosine similarity of the word unigram and
// bigram counts of two headlines, in [0, 1]. Case and punctuation are ignored.
func HeadlineSimilarity(a, b string) float64 {
	va, vb := termVector(a), termVector(b)
	if len(va) == 0 || len(vb) == 0 {
		return 0
	}

	var dot, na, nb float64
	for term, x := range va {
		na += x * x
		dot += x * vb[term]
	}
	for _, y := range vb {
		nb += y * y
	}

	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MostSimilar returns the highest similarity of headline to any candidate.
func MostSimilar(headline string, candidates []string) float64 {
	best := 0.0
	for _, c := range candidates {
		if s := HeadlineSimilarity(headline, c); s > best {
			best = s
		}
	}
	return best
}

func termVector(s string) map[string]float64 {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := make(map[string]float64, 2*len(words))
	for i, w := range words {
		terms[w]++
		if i > 0 {
			terms[words[i-1]+" "+w]++
		}
	}
	return terms
}
