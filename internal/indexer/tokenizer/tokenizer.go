// Package tokenizer provides the text tokenisation shared by the index
// builder and the query parser. Text is NFKC-normalised, split on every rune
// that is not a letter, digit or underscore, and words are reduced with the
// Porter stemmer so that query words meet the stemmed terms stored in a
// searchindex.js file.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "if": {}, "in": {}, "into": {},
	"is": {}, "it": {}, "near": {}, "no": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "such": {}, "that": {}, "the": {}, "their": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "to": {},
	"was": {}, "will": {}, "with": {},
}

// Token is a single indexable word: the surface form as it appeared and the
// term it is stored under.
type Token struct {
	Word     string
	Term     string
	Position int
}

// Normalize applies NFKC so compatibility forms (fullwidth letters,
// ligatures) compare equal to their plain spelling.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

// SplitQuery breaks s into words. Separators are runs of runes that are
// neither letters, digits nor underscores.
func SplitQuery(s string) []string {
	s = Normalize(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !isWordRune(r)
	})
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// IsStopWord reports whether w (compared case-sensitively, the way the
// generator does) is an English stop word.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// Keep reports whether a term may be stored in an index. Empty terms and
// stop words are rejected.
func Keep(term string) bool {
	if term == "" {
		return false
	}
	return !IsStopWord(term)
}

// Tokenize splits text into index tokens. Each word is lowercased and
// stemmed; when the stemmed form is rejected the raw word is kept instead if
// it passes on its own, so capitalised stop words in titles survive exactly
// as the documentation generator emits them.
func Tokenize(text string) []Token {
	words := SplitQuery(text)
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		term := Stem(strings.ToLower(word))
		switch {
		case Keep(term):
		case Keep(word):
			term = word
		default:
			continue
		}
		tokens = append(tokens, Token{Word: word, Term: term, Position: pos})
		pos++
	}
	return tokens
}

// QueryTerm converts one lowercased query word into the term to look up.
// The stemmer is not allowed to cut a word of three or more runes below
// three runes.
func QueryTerm(word string) string {
	term := Stem(word)
	if utf8.RuneCountInString(term) < 3 && utf8.RuneCountInString(word) >= 3 {
		return word
	}
	return term
}
