// Package searchindex models the searchindex.js artifact written by the
// documentation build: page names, the object inventory, the inverted term
// index and the page title tables. An Index is immutable once decoded or
// frozen; a new documentation build replaces it as a whole.
package searchindex

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Index is one decoded searchindex.js file.
type Index struct {
	DocNames   []string                 `json:"docnames"`
	EnvVersion map[string]int           `json:"envversion"`
	FileNames  []string                 `json:"filenames"`
	Objects    map[string][]ObjectEntry `json:"objects"`
	ObjNames   map[int]ObjName          `json:"objnames"`
	ObjTypes   map[int]string           `json:"objtypes"`
	Terms      map[string]DocSet        `json:"terms"`
	Titles     []string                 `json:"titles"`
	TitleTerms map[string]DocSet        `json:"titleterms"`
}

// ObjectEntry is one documented symbol below an object prefix. On the wire
// it is the tuple [docIndex, typeIndex, prio, anchor, name].
type ObjectEntry struct {
	DocIndex  int
	TypeIndex int
	Prio      int
	Anchor    string
	Name      string
}

func (e ObjectEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.DocIndex, e.TypeIndex, e.Prio, e.Anchor, e.Name})
}

func (e *ObjectEntry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("object entry: %w", err)
	}
	if len(raw) != 5 {
		return fmt.Errorf("object entry: want 5 fields, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.DocIndex); err != nil {
		return fmt.Errorf("object entry doc index: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.TypeIndex); err != nil {
		return fmt.Errorf("object entry type index: %w", err)
	}
	if err := json.Unmarshal(raw[2], &e.Prio); err != nil {
		return fmt.Errorf("object entry prio: %w", err)
	}
	if err := json.Unmarshal(raw[3], &e.Anchor); err != nil {
		return fmt.Errorf("object entry anchor: %w", err)
	}
	if err := json.Unmarshal(raw[4], &e.Name); err != nil {
		return fmt.Errorf("object entry name: %w", err)
	}
	return nil
}

// ObjName is the legend for an object type: [domain, kind, label], e.g.
// ["py", "class", "Python class"].
type ObjName struct {
	Domain string
	Kind   string
	Label  string
}

func (n ObjName) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{n.Domain, n.Kind, n.Label})
}

func (n *ObjName) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("object name: %w", err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("object name: want 3 fields, got %d", len(parts))
	}
	n.Domain, n.Kind, n.Label = parts[0], parts[1], parts[2]
	return nil
}

// DocSet is a sorted set of document indices. The generator writes a set of
// one as a bare integer.
type DocSet []int

func (s DocSet) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]int(s))
}

func (s *DocSet) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var single int
	if err := json.Unmarshal(data, &single); err == nil {
		*s = DocSet{single}
		return nil
	}
	var many []int
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("document set: %w", err)
	}
	*s = DocSet(many)
	return nil
}

// Contains reports whether doc is in the set.
func (s DocSet) Contains(doc int) bool {
	for _, d := range s {
		if d == doc {
			return true
		}
	}
	return false
}

// Object is an inventory entry resolved against the index legends.
type Object struct {
	Prefix   string `json:"prefix"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	DocName  string `json:"doc_name"`
	FileName string `json:"file_name"`
	Title    string `json:"title"`
	Anchor   string `json:"anchor"`
	Domain   string `json:"domain"`
	Kind     string `json:"kind"`
	Label    string `json:"label"`
	Prio     int    `json:"prio"`
}

// Stats summarises the size of an index.
type Stats struct {
	Documents  int `json:"documents"`
	Objects    int `json:"objects"`
	Prefixes   int `json:"prefixes"`
	Terms      int `json:"terms"`
	TitleTerms int `json:"title_terms"`
}

// Stats returns size counters for the index.
func (idx *Index) Stats() Stats {
	st := Stats{
		Documents:  len(idx.DocNames),
		Prefixes:   len(idx.Objects),
		Terms:      len(idx.Terms),
		TitleTerms: len(idx.TitleTerms),
	}
	for _, entries := range idx.Objects {
		st.Objects += len(entries)
	}
	return st
}

// FullName joins an object prefix and name the way the inventory does.
func FullName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// ResolveAnchor expands the compact anchor forms: "" means the full name
// and "-" means "<kind>-<full name>".
func ResolveAnchor(anchor, kind, fullName string) string {
	switch anchor {
	case "":
		return fullName
	case "-":
		return kind + "-" + fullName
	default:
		return anchor
	}
}

// Resolve expands an inventory entry under prefix into an Object.
func (idx *Index) Resolve(prefix string, e ObjectEntry) Object {
	full := FullName(prefix, e.Name)
	legend := idx.ObjNames[e.TypeIndex]
	obj := Object{
		Prefix:   prefix,
		Name:     e.Name,
		FullName: full,
		Anchor:   ResolveAnchor(e.Anchor, legend.Kind, full),
		Domain:   legend.Domain,
		Kind:     legend.Kind,
		Label:    legend.Label,
		Prio:     e.Prio,
	}
	if e.DocIndex >= 0 && e.DocIndex < len(idx.DocNames) {
		obj.DocName = idx.DocNames[e.DocIndex]
	}
	if e.DocIndex >= 0 && e.DocIndex < len(idx.FileNames) {
		obj.FileName = idx.FileNames[e.DocIndex]
	}
	if e.DocIndex >= 0 && e.DocIndex < len(idx.Titles) {
		obj.Title = idx.Titles[e.DocIndex]
	}
	return obj
}

// ObjectByName looks up an inventory entry by its fully-qualified name.
func (idx *Index) ObjectByName(fullName string) (Object, bool) {
	prefix, name := "", fullName
	if i := strings.LastIndexByte(fullName, '.'); i >= 0 {
		prefix, name = fullName[:i], fullName[i+1:]
	}
	for _, e := range idx.Objects[prefix] {
		if e.Name == name {
			return idx.Resolve(prefix, e), true
		}
	}
	// Names may themselves contain dots (Class.method under a module prefix).
	for p, entries := range idx.Objects {
		for _, e := range entries {
			if FullName(p, e.Name) == fullName {
				return idx.Resolve(p, e), true
			}
		}
	}
	return Object{}, false
}

// ObjectPrefixes returns the object prefixes in sorted order.
func (idx *Index) ObjectPrefixes() []string {
	prefixes := make([]string, 0, len(idx.Objects))
	for p := range idx.Objects {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return prefixes
}

// DocIndex returns the position of docname, or -1.
func (idx *Index) DocIndex(docname string) int {
	for i, d := range idx.DocNames {
		if d == docname {
			return i
		}
	}
	return -1
}
