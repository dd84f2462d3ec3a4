package tokenizer

import porterstemmer "github.com/blevesearch/go-porterstemmer"

// Stem reduces a lowercased word to its Porter (1980) stem, the algorithm
// the generated index and the browser front-end both use. Words shorter than
// three bytes are returned unchanged.
func Stem(w string) string {
	if len(w) < 3 {
		return w
	}
	return string(porterstemmer.StemWithoutLowerCasing([]rune(w)))
}
