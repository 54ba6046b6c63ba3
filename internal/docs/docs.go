// Package docs holds the fixed catalog of signable documents. Documents
// are markdown files compiled into the binary; the catalog is not
// user-extensible at runtime.
package docs

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed documents/*.md
var documentFS embed.FS

// ErrNotFound is returned when a document id is not in the catalog.
var ErrNotFound = errors.New("document not found")

var catalog = map[string]string{
	"company_policy": "documents/company_policy.md",
	"nda_policy":     "documents/nda_policy.md",
	"dev_guidelines": "documents/dev_guidelines.md",
}

type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	HTML    string `json:"html"`
}

type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Library resolves document ids to their content. All documents are parsed
// and rendered once at construction.
type Library struct {
	byID map[string]Document
}

func NewLibrary() (*Library, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	byID := make(map[string]Document, len(catalog))
	for id, path := range catalog {
		raw, err := documentFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", id, err)
		}
		var buf bytes.Buffer
		if err := md.Convert(raw, &buf); err != nil {
			return nil, fmt.Errorf("render document %s: %w", id, err)
		}
		content := string(raw)
		byID[id] = Document{
			ID:      id,
			Title:   titleOf(content, id),
			Content: content,
			HTML:    buf.String(),
		}
	}
	return &Library{byID: byID}, nil
}

// Load resolves a document id, failing with ErrNotFound for ids outside
// the catalog.
func (l *Library) Load(id string) (Document, error) {
	doc, ok := l.byID[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, nil
}

// List returns the catalog sorted by id.
func (l *Library) List() []Info {
	infos := make([]Info, 0, len(l.byID))
	for id := range l.byID {
		infos = append(infos, Info{ID: id, Name: displayName(id)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// titleOf extracts the first heading line, falling back to a name derived
// from the id.
func titleOf(content, id string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.TrimSpace(strings.TrimLeft(line, "# "))
	}
	return displayName(id)
}

func displayName(id string) string {
	words := strings.Split(id, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
