// Package index holds the mutable inverted index a build accumulates before
// it is frozen into a searchindex.Index.
package index

import (
	"sort"
	"sync"

	"github.com/darpa-sail-on/docsearch/internal/indexer/tokenizer"
)

type MemoryIndex struct {
	mu    sync.RWMutex
	index map[string]map[string]*Posting
	docs  map[string]struct{}
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index: make(map[string]map[string]*Posting),
		docs:  make(map[string]struct{}),
	}
}

// AddTokens records tokens as occurring in docName. Tokens for a document
// already present are merged into its postings.
func (m *MemoryIndex) AddTokens(docName string, tokens []tokenizer.Token) {
	termData := make(map[string]*Posting)
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				DocName:   docName,
				Positions: make([]int, 0, 4),
			}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for term, posting := range termData {
		docs, exists := m.index[term]
		if !exists {
			docs = make(map[string]*Posting)
			m.index[term] = docs
		}
		if prev, ok := docs[docName]; ok {
			prev.Frequency += posting.Frequency
			prev.Positions = append(prev.Positions, posting.Positions...)
			continue
		}
		docs[docName] = posting
	}
	m.docs[docName] = struct{}{}
}

// Contains reports whether term was recorded for docName.
func (m *MemoryIndex) Contains(term, docName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.index[term][docName]
	return ok
}

func (m *MemoryIndex) Search(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.index[term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocName < result[j].DocName
	})
	return result
}

// Snapshot returns every term with its postings, terms and postings sorted.
func (m *MemoryIndex) Snapshot() []TermEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.index))
	for term, docs := range m.index {
		postings := make(PostingList, 0, len(docs))
		for _, posting := range docs {
			postings = append(postings, *posting)
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocName < postings[j].DocName
		})
		entries = append(entries, TermEntry{
			Term:     term,
			Postings: postings,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

// Terms returns the number of distinct terms.
func (m *MemoryIndex) Terms() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]map[string]*Posting)
	m.docs = make(map[string]struct{})
}
