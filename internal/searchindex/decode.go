package searchindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
)

const setIndexCall = "Search.setIndex("

// Decode reads a searchindex.js payload. It accepts the generator's
// `Search.setIndex({...})` wrapper, a bare JavaScript object literal with
// unquoted keys, or plain JSON.
func Decode(r io.Reader) (*Index, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading search index: %w", err)
	}
	return DecodeBytes(data)
}

// DecodeBytes is Decode over an in-memory payload.
func DecodeBytes(data []byte) (*Index, error) {
	body, err := unwrap(data)
	if err != nil {
		return nil, err
	}
	jsonBody, err := literalToJSON(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedIndex, err)
	}
	var wire wireIndex
	if err := json.Unmarshal(jsonBody, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedIndex, err)
	}
	idx, err := wire.index()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedIndex, err)
	}
	return idx, nil
}

// wireIndex accepts both object inventory layouts: the current list form
// {prefix: [[doc, type, prio, anchor, name], ...]} and the older map form
// {prefix: {name: [doc, type, prio, anchor]}}.
type wireIndex struct {
	DocNames   []string                   `json:"docnames"`
	EnvVersion map[string]int             `json:"envversion"`
	FileNames  []string                   `json:"filenames"`
	Objects    map[string]json.RawMessage `json:"objects"`
	ObjNames   map[int]ObjName            `json:"objnames"`
	ObjTypes   map[int]string             `json:"objtypes"`
	Terms      map[string]DocSet          `json:"terms"`
	Titles     []string                   `json:"titles"`
	TitleTerms map[string]DocSet          `json:"titleterms"`
}

func (w *wireIndex) index() (*Index, error) {
	idx := &Index{
		DocNames:   w.DocNames,
		EnvVersion: w.EnvVersion,
		FileNames:  w.FileNames,
		Objects:    make(map[string][]ObjectEntry, len(w.Objects)),
		ObjNames:   w.ObjNames,
		ObjTypes:   w.ObjTypes,
		Terms:      w.Terms,
		Titles:     w.Titles,
		TitleTerms: w.TitleTerms,
	}
	for prefix, raw := range w.Objects {
		entries, err := decodeObjects(raw)
		if err != nil {
			return nil, fmt.Errorf("objects[%q]: %w", prefix, err)
		}
		idx.Objects[prefix] = entries
	}
	idx.normalize()
	return idx, nil
}

func decodeObjects(raw json.RawMessage) ([]ObjectEntry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var legacy map[string][]json.RawMessage
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(legacy))
		for name := range legacy {
			names = append(names, name)
		}
		sort.Strings(names)
		entries := make([]ObjectEntry, 0, len(names))
		for _, name := range names {
			fields := legacy[name]
			if len(fields) != 4 {
				return nil, fmt.Errorf("legacy entry %q: want 4 fields, got %d", name, len(fields))
			}
			var e ObjectEntry
			e.Name = name
			for i, dst := range []any{&e.DocIndex, &e.TypeIndex, &e.Prio, &e.Anchor} {
				if err := json.Unmarshal(fields[i], dst); err != nil {
					return nil, fmt.Errorf("legacy entry %q field %d: %w", name, i, err)
				}
			}
			entries = append(entries, e)
		}
		return entries, nil
	}
	var entries []ObjectEntry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// normalize replaces absent sections with empty ones so a decoded index and
// a re-encoded copy compare equal.
func (idx *Index) normalize() {
	if idx.DocNames == nil {
		idx.DocNames = []string{}
	}
	if idx.FileNames == nil {
		idx.FileNames = []string{}
	}
	if idx.Titles == nil {
		idx.Titles = []string{}
	}
	if idx.EnvVersion == nil {
		idx.EnvVersion = map[string]int{}
	}
	if idx.Objects == nil {
		idx.Objects = map[string][]ObjectEntry{}
	}
	if idx.ObjNames == nil {
		idx.ObjNames = map[int]ObjName{}
	}
	if idx.ObjTypes == nil {
		idx.ObjTypes = map[int]string{}
	}
	if idx.Terms == nil {
		idx.Terms = map[string]DocSet{}
	}
	if idx.TitleTerms == nil {
		idx.TitleTerms = map[string]DocSet{}
	}
	for prefix, entries := range idx.Objects {
		if entries == nil {
			idx.Objects[prefix] = []ObjectEntry{}
		}
	}
}

// unwrap strips the Search.setIndex(...) call around the object literal.
func unwrap(data []byte) ([]byte, error) {
	body := bytes.TrimSpace(data)
	body = bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF})
	if bytes.HasPrefix(body, []byte(setIndexCall)) {
		body = bytes.TrimPrefix(body, []byte(setIndexCall))
		body = bytes.TrimSpace(body)
		body = bytes.TrimSuffix(body, []byte(";"))
		body = bytes.TrimSpace(body)
		if !bytes.HasSuffix(body, []byte(")")) {
			return nil, fmt.Errorf("%w: unterminated %s call", apperrors.ErrMalformedIndex, setIndexCall)
		}
		body = bytes.TrimSpace(body[:len(body)-1])
	}
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("%w: expected an object literal", apperrors.ErrMalformedIndex)
	}
	return body, nil
}

// literalToJSON rewrites a JavaScript object literal into JSON: bare
// identifier keys are quoted, single-quoted strings become double-quoted and
// \xHH escapes become \u00HH. Everything else is copied through for
// encoding/json to check.
func literalToJSON(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src)+len(src)/8)
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			end, s, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			out = append(out, s...)
			i = end
		case c == '-' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(src) && isNumberByte(src[j]) {
				j++
			}
			out = append(out, src[i:j]...)
			i = j
		case c < utf8.RuneSelf && !isIdentStart(rune(c)):
			out = append(out, c)
			i++
		default:
			r, size := utf8.DecodeRune(src[i:])
			if !isIdentStart(r) {
				return nil, fmt.Errorf("unexpected character %q at offset %d", r, i)
			}
			j := i + size
			for j < len(src) {
				r, size = utf8.DecodeRune(src[j:])
				if !isIdentPart(r) {
					break
				}
				j += size
			}
			ident := string(src[i:j])
			switch ident {
			case "true", "false", "null":
				out = append(out, ident...)
			default:
				out = strconv.AppendQuote(out, ident)
			}
			i = j
		}
	}
	return out, nil
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-'
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

// scanString reads the string literal starting at src[start] and returns
// the offset after it and its JSON form.
func scanString(src []byte, start int) (int, []byte, error) {
	quote := src[start]
	out := []byte{'"'}
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			out = append(out, '"')
			return i + 1, out, nil
		case c == '\\':
			if i+1 >= len(src) {
				return 0, nil, fmt.Errorf("unterminated escape at offset %d", i)
			}
			next := src[i+1]
			switch next {
			case '\'':
				out = append(out, '\'')
				i += 2
			case 'x':
				if i+3 >= len(src) {
					return 0, nil, fmt.Errorf("short \\x escape at offset %d", i)
				}
				out = append(out, '\\', 'u', '0', '0', src[i+2], src[i+3])
				i += 4
			default:
				out = append(out, c, next)
				i += 2
			}
		case c == '"':
			// Only reachable inside a single-quoted string.
			out = append(out, '\\', '"')
			i++
		default:
			out = append(out, c)
			i++
		}
	}
	return 0, nil, fmt.Errorf("unterminated string starting at offset %d", start)
}
