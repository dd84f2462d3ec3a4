// Package executor runs a parsed query against loaded search indices.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/darpa-sail-on/docsearch/internal/searcher/parser"
	"github.com/darpa-sail-on/docsearch/internal/searcher/ranker"
	"github.com/darpa-sail-on/docsearch/internal/searchindex"
	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
	"github.com/darpa-sail-on/docsearch/pkg/tracing"
)

type SearchResult struct {
	Query     string          `json:"query"`
	TotalHits int             `json:"total_hits"`
	Results   []ranker.Result `json:"results"`
	Highlight []string        `json:"highlight"`
}

// Source yields the index to search. A store.Store satisfies it.
type Source interface {
	Current() *searchindex.Index
}

// Executor searches one project's index.
type Executor struct {
	project string
	source  Source
	scorer  ranker.Scorer
	logger  *slog.Logger
}

func New(project string, source Source, scorer ranker.Scorer) *Executor {
	return &Executor{
		project: project,
		source:  source,
		scorer:  scorer,
		logger:  slog.Default().With("component", "query-executor", "project", project),
	}
}

// Execute returns up to limit results; limit <= 0 means no limit.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*SearchResult, error) {
	idx := e.source.Current()
	if idx == nil {
		return nil, fmt.Errorf("project %q: %w", e.project, apperrors.ErrIndexNotLoaded)
	}
	_, span := tracing.StartChildSpan(ctx, "executor.search")
	defer span.End()
	span.SetAttr("project", e.project)

	results := Search(idx, plan, e.scorer)
	for i := range results {
		results[i].Project = e.project
	}
	ranked, total := ranker.Rank(results, limit)
	span.SetAttr("hits", total)

	e.logger.Debug("query executed",
		"query", plan.RawQuery,
		"object_terms", plan.ObjectTerms,
		"search_terms", plan.SearchTerms,
		"total_hits", total,
		"results", len(ranked),
	)
	return &SearchResult{
		Query:     plan.RawQuery,
		TotalHits: total,
		Results:   ranked,
		Highlight: plan.HighlightTerms,
	}, nil
}

// Search matches plan against idx and returns unranked, possibly duplicated
// results: object hits for every object term, then page hits for the search
// terms.
func Search(idx *searchindex.Index, plan *parser.QueryPlan, s ranker.Scorer) []ranker.Result {
	var results []ranker.Result
	for i, term := range plan.ObjectTerms {
		others := make([]string, 0, len(plan.ObjectTerms)-1)
		others = append(others, plan.ObjectTerms[:i]...)
		others = append(others, plan.ObjectTerms[i+1:]...)
		results = append(results, objectSearch(idx, term, others, s)...)
	}
	results = append(results, termSearch(idx, plan.SearchTerms, plan.ExcludeTerms, s)...)
	return results
}

func objectSearch(idx *searchindex.Index, term string, others []string, s ranker.Scorer) []ranker.Result {
	var results []ranker.Result
	for _, prefix := range idx.ObjectPrefixes() {
		for _, e := range idx.Objects[prefix] {
			full := searchindex.FullName(prefix, e.Name)
			fullLower := strings.ToLower(full)
			if !strings.Contains(fullLower, term) {
				continue
			}
			score := 0
			last := fullLower[strings.LastIndexByte(fullLower, '.')+1:]
			switch {
			case fullLower == term || last == term:
				score += s.ObjNameMatch
			case strings.Contains(last, term):
				score += s.ObjPartialMatch
			}

			obj := idx.Resolve(prefix, e)
			if len(others) > 0 {
				haystack := strings.ToLower(prefix + " " + e.Name + " " + obj.Label + " " + obj.Title)
				if !containsAll(haystack, others) {
					continue
				}
			}
			score += s.Prio(e.Prio)
			results = append(results, ranker.Result{
				DocName:     obj.DocName,
				FileName:    obj.FileName,
				Title:       full,
				Anchor:      obj.Anchor,
				Description: obj.Label + ", in " + obj.Title,
				Kind:        obj.Kind,
				Score:       score,
			})
		}
	}
	return results
}

func containsAll(haystack string, needles []string) bool {
	for _, n := range needles {
		if !strings.Contains(haystack, n) {
			return false
		}
	}
	return true
}

type termSource struct {
	docs  searchindex.DocSet
	score int
}

// termSearch scores pages against the search terms. Every page must contain
// each term longer than two runes; shorter terms only add to the score.
// Pages containing an excluded term are dropped.
func termSearch(idx *searchindex.Index, terms, excluded []string, s ranker.Scorer) []ranker.Result {
	if len(terms) == 0 {
		return nil
	}
	// doc -> term -> best score
	scores := make(map[int]map[string]int)
	for _, word := range terms {
		sources := lookup(idx, word, s)
		if len(sources) == 0 {
			if utf8.RuneCountInString(word) > 2 {
				return nil
			}
			continue
		}
		for _, src := range sources {
			for _, doc := range src.docs {
				m, ok := scores[doc]
				if !ok {
					m = make(map[string]int)
					scores[doc] = m
				}
				if prev, seen := m[word]; !seen || src.score > prev {
					m[word] = src.score
				}
			}
		}
	}

	var results []ranker.Result
	for doc, matched := range scores {
		if !hasRequired(matched, terms) || isExcluded(idx, doc, excluded) {
			continue
		}
		if doc < 0 || doc >= len(idx.DocNames) {
			continue
		}
		best := 0
		first := true
		for _, sc := range matched {
			if first || sc > best {
				best, first = sc, false
			}
		}
		results = append(results, ranker.Result{
			DocName:  idx.DocNames[doc],
			FileName: idx.FileNames[doc],
			Title:    idx.Titles[doc],
			Score:    best,
		})
	}
	return results
}

// lookup finds the document sets for word: exact entries in terms and
// titleterms, plus entries containing word when it is longer than two runes
// and has no exact entry in that section.
func lookup(idx *searchindex.Index, word string, s ranker.Scorer) []termSource {
	var sources []termSource
	exactTerm, hasTerm := idx.Terms[word]
	exactTitle, hasTitle := idx.TitleTerms[word]
	if hasTerm {
		sources = append(sources, termSource{exactTerm, s.Term})
	}
	if hasTitle {
		sources = append(sources, termSource{exactTitle, s.Title})
	}
	if utf8.RuneCountInString(word) <= 2 {
		return sources
	}
	if !hasTerm {
		for w, docs := range idx.Terms {
			if strings.Contains(w, word) {
				sources = append(sources, termSource{docs, s.PartialTerm})
			}
		}
	}
	if !hasTitle {
		for w, docs := range idx.TitleTerms {
			if strings.Contains(w, word) {
				sources = append(sources, termSource{docs, s.PartialTitle})
			}
		}
	}
	return sources
}

func hasRequired(matched map[string]int, terms []string) bool {
	for _, t := range terms {
		if utf8.RuneCountInString(t) <= 2 {
			continue
		}
		if _, ok := matched[t]; !ok {
			return false
		}
	}
	return true
}

func isExcluded(idx *searchindex.Index, doc int, excluded []string) bool {
	for _, t := range excluded {
		if idx.Terms[t].Contains(doc) || idx.TitleTerms[t].Contains(doc) {
			return true
		}
	}
	return false
}
