// Package memsearch is an in-memory lexical implementation of
// retrieval.Searcher, used in development and when no vector store is
// configured.
package memsearch

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/traceback/internal/retrieval"
)

// Document is one indexed source file.
type Document struct {
	Source string // file name, used as the source label
	Type   string // markdown | sql
	Text   string
}

// SampleDocuments is indexed when no documents are found on disk.
func SampleDocuments() []Document {
	return []Document{
		{
			Source: "sales_orders_spec.md",
			Type:   "markdown",
			Text:   "Sales orders pipeline processes raw order data into curated datasets for analytics and reporting.",
		},
		{
			Source: "sales_orders_pipeline.sql",
			Type:   "sql",
			Text:   "SELECT * FROM curated.sales_orders WHERE order_date >= CURRENT_DATE - 1",
		},
		{
			Source: "incident_playbook.md",
			Type:   "markdown",
			Text:   "Data pipeline incident response procedures: 1. Acknowledge incident 2. Assess impact 3. Determine blast radius 4. Notify stakeholders",
		},
	}
}

type entry struct {
	doc   Document
	terms map[string]int
	len   int
}

// Index scores documents by TF-IDF overlap with the query. It is safe for
// concurrent use.
type Index struct {
	mu      sync.RWMutex
	entries []entry
	df      map[string]int
}

// New returns an index over docs.
func New(docs ...Document) *Index {
	idx := &Index{df: make(map[string]int)}
	idx.Add(docs...)
	return idx
}

// Add indexes additional documents.
func (idx *Index) Add(docs ...Document) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, d := range docs {
		toks := tokenize(d.Text)
		terms := make(map[string]int, len(toks))
		for _, t := range toks {
			terms[t]++
		}
		for t := range terms {
			idx.df[t]++
		}
		idx.entries = append(idx.entries, entry{doc: d, terms: terms, len: len(toks)})
	}
}

// Count returns the number of indexed documents.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// DocumentCount implements the stats interface shared with the Weaviate
// searcher.
func (idx *Index) DocumentCount(context.Context) (int, error) {
	return idx.Count(), nil
}

// SimilaritySearch returns up to k documents with a positive score, best
// first. Ties keep index order.
func (idx *Index) SimilaritySearch(ctx context.Context, query string, k int) ([]retrieval.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []retrieval.Hit{}, nil
	}

	q := tokenize(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := float64(len(idx.entries))
	type scored struct {
		i     int
		score float64
	}
	var ranked []scored
	for i, e := range idx.entries {
		var s float64
		for _, t := range q {
			tf := e.terms[t]
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + n/float64(idx.df[t]))
			s += float64(tf) / float64(e.len) * idf
		}
		if s > 0 {
			ranked = append(ranked, scored{i: i, score: s})
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]retrieval.Hit, 0, len(ranked))
	for _, r := range ranked {
		e := idx.entries[r.i]
		out = append(out, retrieval.Hit{Text: e.doc.Text, Source: e.doc.Source, Score: r.score})
	}
	return out, nil
}

// LoadDir reads every *.md and *.sql file directly under dir. A missing
// directory yields no documents.
func LoadDir(dir string) ([]Document, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var docs []Document
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		var typ string
		switch strings.ToLower(filepath.Ext(de.Name())) {
		case ".md":
			typ = "markdown"
		case ".sql":
			typ = "sql"
		default:
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", de.Name(), err)
		}
		docs = append(docs, Document{Source: de.Name(), Type: typ, Text: string(data)})
	}
	return docs, nil
}

// FromDirs indexes the documents found in dirs, or SampleDocuments when none
// are found. Unreadable directories are logged and skipped.
func FromDirs(ctx context.Context, logger log.Logger, dirs ...string) *Index {
	if logger == nil {
		logger = log.Nop()
	}
	var all []Document
	for _, dir := range dirs {
		docs, err := LoadDir(dir)
		if err != nil {
			logger.Warn(ctx, "skipping document directory", "dir", dir, "err", err)
			continue
		}
		all = append(all, docs...)
	}
	if len(all) == 0 {
		logger.Warn(ctx, "no documents found, indexing sample documents")
		return New(SampleDocuments()...)
	}
	logger.Info(ctx, "indexed documents", "count", len(all))
	return New(all...)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
