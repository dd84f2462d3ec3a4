package indexer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/darpa-sail-on/docsearch/internal/searchindex"
)

// SourceExtensions are the page formats BuildDir reads.
var SourceExtensions = map[string]bool{
	".rst": true,
	".md":  true,
	".txt": true,
}

// Page is one documentation source file.
type Page struct {
	DocName  string
	FileName string
	Title    string
	Text     string
	Objects  []searchindex.Object
}

// BuildDir indexes every source page under root. Pages are read
// concurrently; the result does not depend on read order.
func BuildDir(ctx context.Context, root string) (*searchindex.Index, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if (path != root && strings.HasPrefix(d.Name(), ".")) || d.Name() == "_build" {
				return filepath.SkipDir
			}
			return nil
		}
		if SourceExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	b := NewBuilder()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			page, err := ReadPage(path, filepath.ToSlash(rel))
			if err != nil {
				return err
			}
			return b.AddPage(page)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	b.logger.Info("source directory indexed", "root", root, "pages", len(files))
	return b.Freeze()
}

// AddPage adds a page and the objects it describes. Objects must follow
// their page, so AddPage holds no state between the two steps.
func (b *Builder) AddPage(p *Page) error {
	if err := b.AddDocument(p.DocName, p.FileName, p.Title, p.Text); err != nil {
		return err
	}
	for _, obj := range p.Objects {
		if err := b.AddObject(obj); err != nil {
			return err
		}
	}
	return nil
}

// ReadPage reads a source file. rel is the slash-separated path below the
// source root; the docname is rel without its extension.
func ReadPage(path, rel string) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading page %s: %w", path, err)
	}
	return ParsePage(rel, data), nil
}

var (
	directiveRe = regexp.MustCompile(`^\.\.\s+([a-z]+):([a-z]+)::\s*([A-Za-z_][\w.]*)`)
	moduleRe    = regexp.MustCompile(`^\.\.\s+(?:py:)?(current)?module::\s*([A-Za-z_][\w.]*)`)
)

// ParsePage extracts the title, text and described objects of a page. The
// title is the first non-empty line that is not markup; markdown heading
// marks are stripped. Objects come from reStructuredText domain directives
// such as ".. py:class:: pkg.Client".
func ParsePage(rel string, data []byte) *Page {
	p := &Page{
		DocName:  strings.TrimSuffix(rel, filepath.Ext(rel)),
		FileName: rel,
		Text:     string(data),
	}
	var module string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if m := moduleRe.FindStringSubmatch(line); m != nil {
			module = m[2]
			if m[1] == "" {
				p.Objects = append(p.Objects, objectFor(p.DocName, "py", "module", "", module, 0))
			}
			continue
		}
		if m := directiveRe.FindStringSubmatch(line); m != nil {
			p.Objects = append(p.Objects, objectFor(p.DocName, m[1], m[2], module, m[3], 1))
			continue
		}
		if p.Title == "" && !isAdornment(line) && !strings.HasPrefix(line, "..") {
			p.Title = strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	if p.Title == "" {
		p.Title = p.DocName
	}
	return p
}

// isAdornment reports whether line is a section over- or underline: three
// or more repetitions of one punctuation character.
func isAdornment(line string) bool {
	if len(line) < 3 || !strings.ContainsRune(adornmentChars, rune(line[0])) {
		return false
	}
	return strings.Count(line, line[:1]) == len(line)
}

const adornmentChars = "=-~^\"'#*+`:._"

// objectFor qualifies name with the current module unless it already is,
// then splits the full name into prefix and name at the last dot.
func objectFor(docName, domain, kind, module, name string, prio int) searchindex.Object {
	full := name
	if module != "" && kind != "module" && !strings.HasPrefix(name, module+".") {
		full = module + "." + name
	}
	prefix, short := "", full
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		prefix, short = full[:i], full[i+1:]
	}
	anchor := full
	if kind == "module" {
		anchor = "module-" + full
	}
	return searchindex.Object{
		Prefix:  prefix,
		Name:    short,
		DocName: docName,
		Anchor:  anchor,
		Domain:  domain,
		Kind:    kind,
		Label:   DefaultLabel(domain, kind),
		Prio:    prio,
	}
}
