// Package retrieval provides full-text search over the knowledge base
// so conversational replies can be grounded in platform documents.
package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"github.com/thinkxlife/brain/internal/provider"
)

// Config holds index settings.
type Config struct {
	IndexPath string // Path for the on-disk index; ignored when InMemory.
	InMemory  bool
	MaxDocs   int // Result cap per query (default 3).
}

// document is the indexed shape of one knowledge-base file.
type document struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Index is a bleve-backed document retriever.
type Index struct {
	index  bleve.Index
	config Config
	logger *zap.Logger

	mu   sync.RWMutex
	docs map[string]document
}

// NewIndex creates the document index.
func NewIndex(cfg Config, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDocs <= 0 {
		cfg.MaxDocs = 3
	}

	mapping := bleve.NewIndexMapping()

	var (
		idx bleve.Index
		err error
	)
	if cfg.InMemory || cfg.IndexPath == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else if _, statErr := os.Stat(cfg.IndexPath); statErr == nil {
		idx, err = bleve.Open(cfg.IndexPath)
	} else {
		idx, err = bleve.New(cfg.IndexPath, mapping)
	}
	if err != nil {
		return nil, fmt.Errorf("open document index: %w", err)
	}

	return &Index{
		index:  idx,
		config: cfg,
		logger: logger,
		docs:   make(map[string]document),
	}, nil
}

// LoadDir indexes every markdown and text file under dir. The file name
// (without extension) becomes the document title.
func (i *Index) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read knowledge base dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".md" && ext != ".txt" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			i.logger.Warn("Skipping unreadable knowledge file",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}

		title := strings.TrimSuffix(entry.Name(), ext)
		if err := i.Add(title, string(data)); err != nil {
			return loaded, err
		}
		loaded++
	}

	i.logger.Info("Knowledge base loaded", zap.String("dir", dir), zap.Int("documents", loaded))
	return loaded, nil
}

// Add indexes a single document.
func (i *Index) Add(title, content string) error {
	doc := document{Title: title, Content: content}
	if err := i.index.Index(title, doc); err != nil {
		return fmt.Errorf("index document %q: %w", title, err)
	}
	i.mu.Lock()
	i.docs[title] = doc
	i.mu.Unlock()
	return nil
}

// Retrieve returns the best-matching documents for the query, highest
// score first. An empty result is not an error.
func (i *Index) Retrieve(ctx context.Context, query string, limit int) ([]provider.Doc, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 || limit > i.config.MaxDocs {
		limit = i.config.MaxDocs
	}

	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)

	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]provider.Doc, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, ok := i.docs[hit.ID]
		if !ok {
			continue
		}
		out = append(out, provider.Doc{
			Title:   doc.Title,
			Content: snippet(doc.Content, 500),
			Score:   hit.Score,
		})
	}
	return out, nil
}

// DocumentCount returns how many documents are indexed.
func (i *Index) DocumentCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.docs)
}

// Close releases the underlying index.
func (i *Index) Close() error {
	return i.index.Close()
}

// snippet truncates content at a rune boundary.
func snippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
