package filings

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Okapi BM25 parameters.
const (
	bm25K1      = 1.2
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// index is an immutable BM25 index over one ticker's chunks, safe for
// concurrent reads.
type index struct {
	chunks    []chunk
	termFreqs []map[string]int
	lengths   []int
	avgLength float64
	idf       map[string]float64
}

type chunk struct {
	Text   string
	Source string
}

type hit struct {
	pos   int
	score float64
}

func newIndex(chunks []chunk) *index {
	idx := &index{
		chunks:    chunks,
		termFreqs: make([]map[string]int, len(chunks)),
		lengths:   make([]int, len(chunks)),
		idf:       make(map[string]float64),
	}
	docFreq := make(map[string]int)
	total := 0
	for i, c := range chunks {
		tokens := tokenize(c.Text)
		idx.lengths[i] = len(tokens)
		total += len(tokens)
		tf := make(map[string]int)
		for _, tok := range tokens {
			if tf[tok] == 0 {
				docFreq[tok]++
			}
			tf[tok]++
		}
		idx.termFreqs[i] = tf
	}
	if len(chunks) > 0 {
		idx.avgLength = float64(total) / float64(len(chunks))
	}
	n := float64(len(chunks))
	for term, df := range docFreq {
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		if idf < 0 {
			idf = bm25Epsilon
		}
		idx.idf[term] = idf
	}
	return idx
}

// search returns up to limit chunk positions with a positive score, best
// first; equal scores keep index order.
func (idx *index) search(query string, limit int) []hit {
	terms := tokenize(query)
	if len(terms) == 0 || idx.avgLength == 0 {
		return nil
	}
	var hits []hit
	for i := range idx.chunks {
		if s := idx.score(i, terms); s > 0 {
			hits = append(hits, hit{pos: i, score: s})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (idx *index) score(i int, terms []string) float64 {
	tf := idx.termFreqs[i]
	length := float64(idx.lengths[i])
	var score float64
	for _, term := range terms {
		idf, ok := idx.idf[term]
		if !ok {
			continue
		}
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		score += idf * f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*length/idx.avgLength))
	}
	return score
}

// tokenize lowercases text into alphanumeric runs of two or more characters.
func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := matches[:0]
	for _, m := range matches {
		if len(m) >= 2 {
			tokens = append(tokens, m)
		}
	}
	return tokens
}
