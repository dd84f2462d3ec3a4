// Package parser turns a raw query string into the term lists the executor
// looks up.
package parser

import (
	"sort"
	"strings"

	"github.com/darpa-sail-on/docsearch/internal/indexer/tokenizer"
)

type QueryPlan struct {
	RawQuery string
	// ObjectTerms are the lowercased whitespace tokens, dots kept, matched
	// against object names.
	ObjectTerms []string
	// SearchTerms are stemmed words looked up in terms and titleterms.
	SearchTerms []string
	// ExcludeTerms are stemmed words from tokens prefixed with "-".
	ExcludeTerms []string
	// HighlightTerms are the unstemmed search words, for the front-end to
	// mark in result pages.
	HighlightTerms []string
}

// Empty reports whether the plan can match nothing.
func (p *QueryPlan) Empty() bool {
	return len(p.ObjectTerms) == 0 && len(p.SearchTerms) == 0
}

func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		RawQuery:       query,
		ObjectTerms:    make([]string, 0),
		SearchTerms:    make([]string, 0),
		ExcludeTerms:   make([]string, 0),
		HighlightTerms: make([]string, 0),
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	for _, field := range strings.Fields(query) {
		exclude := strings.HasPrefix(field, "-")
		field = strings.TrimLeft(field, "-")
		if field == "" {
			continue
		}
		if !exclude {
			plan.ObjectTerms = appendUnique(plan.ObjectTerms, strings.ToLower(tokenizer.Normalize(field)))
		}
		for _, w := range tokenizer.SplitQuery(field) {
			lower := strings.ToLower(w)
			if tokenizer.IsStopWord(lower) {
				continue
			}
			term := tokenizer.QueryTerm(lower)
			if exclude {
				plan.ExcludeTerms = appendUnique(plan.ExcludeTerms, term)
				continue
			}
			plan.SearchTerms = appendUnique(plan.SearchTerms, term)
			plan.HighlightTerms = appendUnique(plan.HighlightTerms, lower)
		}
	}
	return plan
}

// Normalized is a canonical spelling of the plan, used as a cache key so
// queries differing only in case, spacing or word order share an entry.
func (p *QueryPlan) Normalized() string {
	var b strings.Builder
	b.WriteString(strings.Join(sortedCopy(p.ObjectTerms), " "))
	b.WriteByte('|')
	b.WriteString(strings.Join(sortedCopy(p.SearchTerms), " "))
	b.WriteByte('|')
	b.WriteString(strings.Join(sortedCopy(p.ExcludeTerms), " "))
	return b.String()
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
