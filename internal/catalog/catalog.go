// Package catalog holds the curated NMKR website and documentation links the
// agent pipeline may cite.
package catalog

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// SwaggerURL is the Studio API definition the technical specialist always
// researches.
const SwaggerURL = "https://studio-api.nmkr.io/swagger/v2/swagger.json"

const (
	siteFile = "data/links_with_descriptions.json"
	docsFile = "data/docs_links_with_descriptions.json"
)

//go:embed data/*.json
var defaults embed.FS

// Link is one catalog entry.
type Link struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Catalog is the set of links the pipeline may select from.
type Catalog struct {
	Site  []Link
	Docs  []Link
	known map[string]struct{}
}

// Load reads the site and docs catalogs. An empty path uses the embedded
// default for that catalog.
func Load(sitePath, docsPath string) (*Catalog, error) {
	site, err := readLinks(sitePath, siteFile)
	if err != nil {
		return nil, fmt.Errorf("load site links: %w", err)
	}
	docs, err := readLinks(docsPath, docsFile)
	if err != nil {
		return nil, fmt.Errorf("load docs links: %w", err)
	}
	return New(site, docs), nil
}

// New builds a Catalog from link lists.
func New(site, docs []Link) *Catalog {
	c := &Catalog{Site: site, Docs: docs, known: make(map[string]struct{}, len(site)+len(docs)+1)}
	for _, l := range site {
		c.known[normalize(l.URL)] = struct{}{}
	}
	for _, l := range docs {
		c.known[normalize(l.URL)] = struct{}{}
	}
	c.known[normalize(SwaggerURL)] = struct{}{}
	return c
}

// Contains reports whether url is a catalog link.
func (c *Catalog) Contains(url string) bool {
	_, ok := c.known[normalize(url)]
	return ok
}

// Filter keeps catalog URLs in order, drops duplicates and stops at limit.
// A limit of zero or less keeps everything.
func (c *Catalog) Filter(urls []string, limit int) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		key := normalize(u)
		if !c.Contains(u) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Format renders links one per line for a prompt.
func Format(links []Link) string {
	var b strings.Builder
	for _, l := range links {
		b.WriteString("- ")
		b.WriteString(l.URL)
		if l.Description != "" {
			b.WriteString(": ")
			b.WriteString(l.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseLinks decodes a JSON array of links.
func ParseLinks(r io.Reader) ([]Link, error) {
	var links []Link
	if err := json.NewDecoder(r).Decode(&links); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}
	for i, l := range links {
		if strings.TrimSpace(l.URL) == "" {
			return nil, fmt.Errorf("link %d has no url", i)
		}
	}
	return links, nil
}

func readLinks(path, embedded string) ([]Link, error) {
	var (
		f   io.ReadCloser
		err error
	)
	if path == "" {
		f, err = defaults.Open(embedded)
	} else {
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open links: %w", err)
	}
	defer f.Close()
	return ParseLinks(f)
}

func normalize(u string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(u)), "/")
}
