// Package indexer builds searchindex.js artifacts from documentation
// sources.
package indexer

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/darpa-sail-on/docsearch/internal/indexer/index"
	"github.com/darpa-sail-on/docsearch/internal/indexer/tokenizer"
	"github.com/darpa-sail-on/docsearch/internal/searchindex"
	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
)

// DefaultEnvVersion is stamped into built indices so front-ends that check
// the environment version accept them.
var DefaultEnvVersion = map[string]int{"sphinx": 56}

type document struct {
	fileName string
	title    string
}

// Builder accumulates documents and objects and freezes them into an
// immutable searchindex.Index. It is safe for concurrent use.
type Builder struct {
	mu      sync.Mutex
	docs    map[string]document
	body    *index.MemoryIndex
	titles  *index.MemoryIndex
	objects []searchindex.Object
	logger  *slog.Logger
}

func NewBuilder() *Builder {
	return &Builder{
		docs:   make(map[string]document),
		body:   index.NewMemoryIndex(),
		titles: index.NewMemoryIndex(),
		logger: slog.Default().With("component", "indexer"),
	}
}

// AddDocument tokenizes a page. Title words go to the title terms; body
// words go to the terms unless the same term already names the page in its
// title.
func (b *Builder) AddDocument(docName, fileName, title, text string) error {
	if docName == "" {
		return fmt.Errorf("%w: empty docname", apperrors.ErrInvalidInput)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.docs[docName]; dup {
		return fmt.Errorf("%w: duplicate docname %q", apperrors.ErrInvalidInput, docName)
	}
	b.docs[docName] = document{fileName: fileName, title: title}

	titleTokens := tokenizer.Tokenize(title)
	b.titles.AddTokens(docName, titleTokens)

	bodyTokens := tokenizer.Tokenize(text)
	kept := bodyTokens[:0]
	for _, tok := range bodyTokens {
		if !b.titles.Contains(tok.Term, docName) {
			kept = append(kept, tok)
		}
	}
	b.body.AddTokens(docName, kept)

	b.logger.Debug("document indexed",
		"doc_name", docName,
		"title_terms", len(titleTokens),
		"body_terms", len(kept),
	)
	return nil
}

// AddObject records a documented symbol on docName. An anchor equal to the
// full name, or to "<kind>-<full name>", is stored in its compact form.
// Duplicate descriptions are resolved by Freeze.
func (b *Builder) AddObject(obj searchindex.Object) error {
	if obj.Name == "" || obj.DocName == "" {
		return fmt.Errorf("%w: object needs a name and a docname", apperrors.ErrInvalidInput)
	}
	if obj.Domain == "" || obj.Kind == "" {
		return fmt.Errorf("%w: object %q needs a domain and a kind", apperrors.ErrInvalidInput, obj.Name)
	}
	full := searchindex.FullName(obj.Prefix, obj.Name)
	switch obj.Anchor {
	case full:
		obj.Anchor = ""
	case obj.Kind + "-" + full:
		obj.Anchor = "-"
	}
	if obj.Label == "" {
		obj.Label = DefaultLabel(obj.Domain, obj.Kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects = append(b.objects, obj)
	return nil
}

func objectKey(obj searchindex.Object) string {
	return obj.Domain + ":" + obj.Kind + ":" + searchindex.FullName(obj.Prefix, obj.Name)
}

// uniqueObjects orders the recorded objects and keeps one description per
// domain, kind and full name: the one on the first docname in sorted order.
// The outcome does not depend on the order pages were added in.
func (b *Builder) uniqueObjects() []searchindex.Object {
	objs := append([]searchindex.Object(nil), b.objects...)
	sort.Slice(objs, func(i, j int) bool {
		ki, kj := objectKey(objs[i]), objectKey(objs[j])
		if ki != kj {
			return ki < kj
		}
		if objs[i].DocName != objs[j].DocName {
			return objs[i].DocName < objs[j].DocName
		}
		if objs[i].Anchor != objs[j].Anchor {
			return objs[i].Anchor < objs[j].Anchor
		}
		return objs[i].Prio < objs[j].Prio
	})
	kept := objs[:0]
	for _, obj := range objs {
		if n := len(kept); n > 0 && objectKey(kept[n-1]) == objectKey(obj) {
			b.logger.Warn("duplicate object description",
				"object", searchindex.FullName(obj.Prefix, obj.Name),
				"kept_doc_name", kept[n-1].DocName,
				"doc_name", obj.DocName,
			)
			continue
		}
		kept = append(kept, obj)
	}
	return kept
}

// Freeze produces a validated index. Documents are numbered in sorted
// docname order; object type indices follow sorted "domain:kind" order.
func (b *Builder) Freeze() (*searchindex.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	docNames := make([]string, 0, len(b.docs))
	for name := range b.docs {
		docNames = append(docNames, name)
	}
	sort.Strings(docNames)
	docIndex := make(map[string]int, len(docNames))

	idx := &searchindex.Index{
		DocNames:   docNames,
		EnvVersion: make(map[string]int, len(DefaultEnvVersion)),
		FileNames:  make([]string, len(docNames)),
		Objects:    make(map[string][]searchindex.ObjectEntry),
		ObjNames:   make(map[int]searchindex.ObjName),
		ObjTypes:   make(map[int]string),
		Titles:     make([]string, len(docNames)),
	}
	for i, name := range docNames {
		docIndex[name] = i
		idx.FileNames[i] = b.docs[name].fileName
		idx.Titles[i] = b.docs[name].title
	}
	idx.Terms = docSets(b.body.Snapshot(), docIndex)
	idx.TitleTerms = docSets(b.titles.Snapshot(), docIndex)
	for k, v := range DefaultEnvVersion {
		idx.EnvVersion[k] = v
	}

	objects := b.uniqueObjects()
	typeIndex := make(map[string]int)
	var typeKeys []string
	labels := make(map[string]searchindex.ObjName)
	for _, obj := range objects {
		key := obj.Domain + ":" + obj.Kind
		if _, ok := labels[key]; !ok {
			labels[key] = searchindex.ObjName{Domain: obj.Domain, Kind: obj.Kind, Label: obj.Label}
			typeKeys = append(typeKeys, key)
		}
	}
	sort.Strings(typeKeys)
	for i, key := range typeKeys {
		typeIndex[key] = i
		idx.ObjNames[i] = labels[key]
		idx.ObjTypes[i] = key
	}

	for _, obj := range objects {
		doc, ok := docIndex[obj.DocName]
		if !ok {
			return nil, fmt.Errorf("%w: object %q refers to unknown document %q",
				apperrors.ErrInvalidInput, searchindex.FullName(obj.Prefix, obj.Name), obj.DocName)
		}
		idx.Objects[obj.Prefix] = append(idx.Objects[obj.Prefix], searchindex.ObjectEntry{
			DocIndex:  doc,
			TypeIndex: typeIndex[obj.Domain+":"+obj.Kind],
			Prio:      obj.Prio,
			Anchor:    obj.Anchor,
			Name:      obj.Name,
		})
	}
	for _, entries := range idx.Objects {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Name != entries[j].Name {
				return entries[i].Name < entries[j].Name
			}
			return entries[i].TypeIndex < entries[j].TypeIndex
		})
	}

	if err := searchindex.Validate(idx); err != nil {
		return nil, fmt.Errorf("freezing index: %w", err)
	}
	b.logger.Info("index frozen",
		"documents", len(docNames),
		"terms", len(idx.Terms),
		"title_terms", len(idx.TitleTerms),
		"objects", len(objects),
	)
	return idx, nil
}

func docSets(entries []index.TermEntry, docIndex map[string]int) map[string]searchindex.DocSet {
	sets := make(map[string]searchindex.DocSet, len(entries))
	for _, e := range entries {
		if len(e.Postings) == 0 {
			continue
		}
		set := make(searchindex.DocSet, 0, len(e.Postings))
		for _, p := range e.Postings {
			set = append(set, docIndex[p.DocName])
		}
		sort.Ints(set)
		sets[e.Term] = set
	}
	return sets
}

var domainLabels = map[string]string{
	"py":  "Python",
	"js":  "JavaScript",
	"c":   "C",
	"cpp": "C++",
	"rst": "reStructuredText",
}

// DefaultLabel is the human readable legend for an object type, e.g.
// "Python class".
func DefaultLabel(domain, kind string) string {
	if l, ok := domainLabels[domain]; ok {
		return l + " " + kind
	}
	if domain == "std" {
		return kind
	}
	return strings.ToUpper(domain[:1]) + domain[1:] + " " + kind
}
