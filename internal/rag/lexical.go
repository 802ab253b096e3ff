package rag

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var tokenRE = regexp.MustCompile(`[A-Za-z0-9]+`)

func tokenize(text string) []string {
	matches := tokenRE.FindAllString(strings.ToLower(text), -1)
	return matches
}

// lexicalIndex is a BM25 index over chunk text, used as one leg of the
// hybrid lexical+vector retriever.
type lexicalIndex struct {
	mu         sync.RWMutex
	k1         float64
	b          float64
	docs       map[string][]string // chunkID -> tokens
	docLen     map[string]int
	totalLen   int
	postings   map[string]map[string]int // term -> chunkID -> term frequency
}

func newLexicalIndex() *lexicalIndex {
	return &lexicalIndex{
		k1:       1.2,
		b:        0.75,
		docs:     make(map[string][]string),
		docLen:   make(map[string]int),
		postings: make(map[string]map[string]int),
	}
}

func (idx *lexicalIndex) Add(chunkID, text string) {
	tokens := tokenize(text)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.remove(chunkID)

	idx.docs[chunkID] = tokens
	idx.docLen[chunkID] = len(tokens)
	idx.totalLen += len(tokens)

	tf := make(map[string]int)
	for _, tok := range tokens {
		tf[tok]++
	}
	for term, freq := range tf {
		if idx.postings[term] == nil {
			idx.postings[term] = make(map[string]int)
		}
		idx.postings[term][chunkID] = freq
	}
}

func (idx *lexicalIndex) Remove(chunkID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.remove(chunkID)
}

func (idx *lexicalIndex) remove(chunkID string) {
	if _, ok := idx.docs[chunkID]; !ok {
		return
	}
	idx.totalLen -= idx.docLen[chunkID]
	delete(idx.docs, chunkID)
	delete(idx.docLen, chunkID)
	for term, posting := range idx.postings {
		delete(posting, chunkID)
		if len(posting) == 0 {
			delete(idx.postings, term)
		}
	}
}

// Search returns the topK chunk IDs ranked by BM25 score against query.
func (idx *lexicalIndex) Search(query string, topK int) []rankedID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 {
		return nil
	}
	avgDocLen := float64(idx.totalLen) / float64(n)

	scores := make(map[string]float64)
	for _, term := range tokenize(query) {
		posting, ok := idx.postings[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + (float64(n)-float64(len(posting))+0.5)/(float64(len(posting))+0.5))
		for docID, freq := range posting {
			dl := float64(idx.docLen[docID])
			denom := float64(freq) + idx.k1*(1-idx.b+idx.b*dl/avgDocLen)
			scores[docID] += idf * (float64(freq) * (idx.k1 + 1) / denom)
		}
	}

	return topRanked(scores, topK)
}

type rankedID struct {
	ID    string
	Score float64
}

func topRanked(scores map[string]float64, topK int) []rankedID {
	out := make([]rankedID, 0, len(scores))
	for id, s := range scores {
		out = append(out, rankedID{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
