package guidelines

import (
	"context"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/impcg-clinical-engine/internal/domain"
)

// MinQueryLength is the shortest normalized query that is searched.
const MinQueryLength = 2

// DefaultCacheSize bounds the query result cache when none is configured.
const DefaultCacheSize = 256

type indexedChunk struct {
	chunk   domain.GuidelineChunk
	title   string
	content string
	tags    []string
}

// Index is an in-memory substring index over guideline chunks. It is safe
// for concurrent use.
type Index struct {
	chunks []indexedChunk
	byID   map[string]int
	cache  *lru.Cache[string, []domain.GuidelineChunk]
	audit  domain.AuditRecorder
	logger *logrus.Logger
}

// NewIndex builds an index over chunks. cacheSize <= 0 uses DefaultCacheSize.
func NewIndex(chunks []domain.GuidelineChunk, cacheSize int, audit domain.AuditRecorder, logger *logrus.Logger) (*Index, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []domain.GuidelineChunk](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create search cache: %w", err)
	}
	if audit == nil {
		audit = domain.NopAuditRecorder{}
	}
	if logger == nil {
		logger = logrus.New()
	}

	idx := &Index{
		chunks: make([]indexedChunk, 0, len(chunks)),
		byID:   make(map[string]int, len(chunks)),
		cache:  cache,
		audit:  audit,
		logger: logger,
	}
	for _, c := range chunks {
		tags := make([]string, len(c.Tags))
		for i, t := range c.Tags {
			tags[i] = strings.ToLower(t)
		}
		idx.byID[c.ID] = len(idx.chunks)
		idx.chunks = append(idx.chunks, indexedChunk{
			chunk:   c,
			title:   strings.ToLower(c.Title),
			content: strings.ToLower(c.Content),
			tags:    tags,
		})
	}
	return idx, nil
}

// NormalizeQuery trims and lower-cases a query.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// Search returns the chunks whose tags, title or content contain the query.
// Title matches come first; dataset order is kept within each group.
// Queries shorter than MinQueryLength after normalization return nothing.
func (x *Index) Search(query string) []domain.GuidelineChunk {
	q := NormalizeQuery(query)
	if len([]rune(q)) < MinQueryLength {
		return []domain.GuidelineChunk{}
	}
	if hit, ok := x.cache.Get(q); ok {
		return append([]domain.GuidelineChunk(nil), hit...)
	}

	type match struct {
		chunk domain.GuidelineChunk
		title bool
	}
	var matches []match
	for _, c := range x.chunks {
		inTitle := strings.Contains(c.title, q)
		if inTitle || c.hasTag(q) || strings.Contains(c.content, q) {
			matches = append(matches, match{chunk: c.chunk, title: inTitle})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].title && !matches[j].title
	})

	out := make([]domain.GuidelineChunk, len(matches))
	for i, m := range matches {
		out[i] = m.chunk
	}
	x.cache.Add(q, out)
	x.logger.WithFields(logrus.Fields{"query": q, "results": len(out)}).Debug("Guideline search")
	return append([]domain.GuidelineChunk(nil), out...)
}

func (c indexedChunk) hasTag(q string) bool {
	for _, t := range c.tags {
		if strings.Contains(t, q) {
			return true
		}
	}
	return false
}

// Chunk looks up a chunk by id.
func (x *Index) Chunk(id string) (domain.GuidelineChunk, error) {
	i, ok := x.byID[id]
	if !ok {
		return domain.GuidelineChunk{}, fmt.Errorf("guideline chunk %s: %w", id, domain.ErrNotFound)
	}
	return x.chunks[i].chunk, nil
}

// View returns a chunk and records that the clinician opened it.
func (x *Index) View(ctx context.Context, id string) (domain.GuidelineChunk, error) {
	c, err := x.Chunk(id)
	if err != nil {
		return c, err
	}
	x.audit.Record(ctx, domain.AuditViewProtocol,
		fmt.Sprintf("User viewed protocol: %s (Page %d)", c.Title, c.Page), "")
	return c, nil
}

// TagSearch runs a quick-tag search and records it.
func (x *Index) TagSearch(ctx context.Context, tag string) []domain.GuidelineChunk {
	x.audit.Record(ctx, domain.AuditViewProtocol, fmt.Sprintf("Quick tag search: %s", tag), "")
	return x.Search(tag)
}

// Len reports how many chunks are indexed.
func (x *Index) Len() int {
	return len(x.chunks)
}
