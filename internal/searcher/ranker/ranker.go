// Package ranker holds the scoring weights and the ordering of search
// results.
package ranker

import (
	"sort"
	"strings"

	"github.com/darpa-sail-on/docsearch/pkg/config"
)

// Scorer weights the ways a result can match a query.
type Scorer struct {
	// ObjNameMatch is added when the object's full name or its last dotted
	// part equals the query term.
	ObjNameMatch int
	// ObjPartialMatch is added when the last dotted part only contains it.
	ObjPartialMatch int
	// ObjPrio maps an object's priority to an extra weight.
	ObjPrio        map[int]int
	ObjPrioDefault int
	Title          int
	PartialTitle   int
	Term           int
	PartialTerm    int
}

func DefaultScorer() Scorer {
	return Scorer{
		ObjNameMatch:    11,
		ObjPartialMatch: 6,
		ObjPrio:         map[int]int{0: 15, 1: 5, 2: -5},
		ObjPrioDefault:  0,
		Title:           15,
		PartialTitle:    7,
		Term:            5,
		PartialTerm:     2,
	}
}

// FromConfig applies the configured overrides to the defaults.
func FromConfig(cfg config.ScorerConfig) Scorer {
	s := DefaultScorer()
	override := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	override(&s.ObjNameMatch, cfg.ObjNameMatch)
	override(&s.ObjPartialMatch, cfg.ObjPartialMatch)
	override(&s.ObjPrioDefault, cfg.ObjPrioDefault)
	override(&s.Title, cfg.Title)
	override(&s.PartialTitle, cfg.PartialTitle)
	override(&s.Term, cfg.Term)
	override(&s.PartialTerm, cfg.PartialTerm)
	for prio, weight := range cfg.ObjPrio {
		s.ObjPrio[prio] = weight
	}
	return s
}

// Prio returns the weight for an object priority.
func (s Scorer) Prio(prio int) int {
	if w, ok := s.ObjPrio[prio]; ok {
		return w
	}
	return s.ObjPrioDefault
}

// Result is one hit: a page, or an anchor on a page for object hits.
type Result struct {
	Project     string `json:"project,omitempty"`
	DocName     string `json:"doc_name"`
	FileName    string `json:"file_name"`
	Title       string `json:"title"`
	Anchor      string `json:"anchor,omitempty"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Score       int    `json:"score"`
}

// Less orders a before b: higher score first, then title, then location.
func Less(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	at, bt := strings.ToLower(a.Title), strings.ToLower(b.Title)
	if at != bt {
		return at < bt
	}
	if a.Project != b.Project {
		return a.Project < b.Project
	}
	if a.DocName != b.DocName {
		return a.DocName < b.DocName
	}
	return a.Anchor < b.Anchor
}

// Rank deduplicates results by location, keeping the best score, sorts them
// and truncates to limit. It returns the ranked slice and the number of
// distinct hits before truncation.
func Rank(results []Result, limit int) ([]Result, int) {
	type location struct{ project, doc, anchor string }
	best := make(map[location]int, len(results))
	deduped := make([]Result, 0, len(results))
	for _, r := range results {
		key := location{r.Project, r.DocName, r.Anchor}
		if i, ok := best[key]; ok {
			if Less(r, deduped[i]) {
				deduped[i] = r
			}
			continue
		}
		best[key] = len(deduped)
		deduped = append(deduped, r)
	}
	sort.Slice(deduped, func(i, j int) bool {
		return Less(deduped[i], deduped[j])
	})
	total := len(deduped)
	if limit > 0 && len(deduped) > limit {
		deduped = deduped[:limit]
	}
	return deduped, total
}
