package searchindex

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
)

// ValidationError lists every structural problem found in an index.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid search index: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrMalformedIndex
}

// Validate checks the cross references inside idx: the page tables have
// equal length and every document and type index points at an existing
// entry.
func Validate(idx *Index) error {
	var problems []string
	n := len(idx.DocNames)
	if len(idx.FileNames) != n {
		problems = append(problems, fmt.Sprintf("filenames has %d entries, docnames has %d", len(idx.FileNames), n))
	}
	if len(idx.Titles) != n {
		problems = append(problems, fmt.Sprintf("titles has %d entries, docnames has %d", len(idx.Titles), n))
	}
	seen := make(map[string]struct{}, n)
	for _, d := range idx.DocNames {
		if _, dup := seen[d]; dup {
			problems = append(problems, fmt.Sprintf("duplicate docname %q", d))
		}
		seen[d] = struct{}{}
	}

	for _, prefix := range idx.ObjectPrefixes() {
		for _, e := range idx.Objects[prefix] {
			full := FullName(prefix, e.Name)
			if e.DocIndex < 0 || e.DocIndex >= n {
				problems = append(problems, fmt.Sprintf("object %q: document index %d out of range", full, e.DocIndex))
			}
			if _, ok := idx.ObjNames[e.TypeIndex]; !ok {
				problems = append(problems, fmt.Sprintf("object %q: type %d missing from objnames", full, e.TypeIndex))
			}
			if _, ok := idx.ObjTypes[e.TypeIndex]; !ok {
				problems = append(problems, fmt.Sprintf("object %q: type %d missing from objtypes", full, e.TypeIndex))
			}
		}
	}
	problems = append(problems, checkDocSets("terms", idx.Terms, n)...)
	problems = append(problems, checkDocSets("titleterms", idx.TitleTerms, n)...)

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func checkDocSets(section string, sets map[string]DocSet, n int) []string {
	terms := make([]string, 0, len(sets))
	for term := range sets {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	var problems []string
	for _, term := range terms {
		for _, doc := range sets[term] {
			if doc < 0 || doc >= n {
				problems = append(problems, fmt.Sprintf("%s[%q]: document index %d out of range", section, term, doc))
			}
		}
	}
	return problems
}
