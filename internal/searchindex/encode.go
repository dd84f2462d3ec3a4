package searchindex

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// canonicalJSON is the stable JSON form: keys sorted, no HTML escaping,
// single-document sets collapsed to bare integers.
func (idx *Index) canonicalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(idx); err != nil {
		return nil, fmt.Errorf("encoding search index: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Encode writes idx in the generator's searchindex.js form.
func Encode(w io.Writer, idx *Index) error {
	body, err := idx.canonicalJSON()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, setIndexCall); err != nil {
		return fmt.Errorf("writing search index: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing search index: %w", err)
	}
	if _, err := io.WriteString(w, ")"); err != nil {
		return fmt.Errorf("writing search index: %w", err)
	}
	return nil
}

// EncodeJSON writes idx as plain JSON, optionally indented.
func EncodeJSON(w io.Writer, idx *Index, indent bool) error {
	body, err := idx.canonicalJSON()
	if err != nil {
		return err
	}
	if indent {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			return fmt.Errorf("indenting search index: %w", err)
		}
		body = pretty.Bytes()
	}
	if _, err := w.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("writing search index: %w", err)
	}
	return nil
}

// Checksum identifies an index build by the sha256 of its canonical JSON.
func (idx *Index) Checksum() (string, error) {
	body, err := idx.canonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
