package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/renderinc/sonymous/internal/storage"
)

// Index wraps a Bleve search index over mirrored messages
type Index struct {
	index bleve.Index
	style string
}

// IndexedMessage represents a message in the search index
type IndexedMessage struct {
	ID         string
	Content    string
	Category   string
	Campus     string
	LikesCount int
	CreatedAt  time.Time
}

// SearchResult represents a search result
type SearchResult struct {
	ID         int64
	Content    string
	Category   string
	Campus     string
	LikesCount int
	CreatedAt  time.Time
	Score      float64
	Fragments  map[string][]string // Highlighted snippets
}

// Open opens or creates a Bleve index
func Open(path string) (*Index, error) {
	var idx bleve.Index
	var err error

	// Try to open existing index
	idx, err = bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Index{index: idx, style: "html"}, nil
}

// buildIndexMapping analyzes content in English and keeps campus and
// category as exact keywords for filtering
func buildIndexMapping() mapping.IndexMapping {
	contentFieldMapping := bleve.NewTextFieldMapping()
	contentFieldMapping.Analyzer = "en"

	keywordFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping.Analyzer = keyword.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("Content", contentFieldMapping)
	docMapping.AddFieldMappingsAt("Category", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("Campus", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("LikesCount", bleve.NewNumericFieldMapping())
	docMapping.AddFieldMappingsAt("CreatedAt", bleve.NewDateTimeFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)
	indexMapping.DefaultField = "Content"

	return indexMapping
}

// SetHighlightStyle picks the fragment highlighter, "html" or "ansi"
func (i *Index) SetHighlightStyle(style string) {
	i.style = style
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

// IndexMessage adds or updates a message in the index
func (i *Index) IndexMessage(rec *storage.MessageRecord) error {
	return i.index.Index(docID(rec.ID), toIndexed(rec))
}

// Delete removes a message from the index
func (i *Index) Delete(id int64) error {
	return i.index.Delete(docID(id))
}

// Search performs a query string search, optionally restricted to one campus
func (i *Index) Search(queryStr, campus string, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	// Query string syntax: quotes, +/- terms, fuzzy ~
	var q query.Query = bleve.NewQueryStringQuery(queryStr)
	if campus != "" {
		campusQuery := bleve.NewTermQuery(campus)
		campusQuery.SetField("Campus")
		q = bleve.NewConjunctionQuery(q, campusQuery)
	}

	search := bleve.NewSearchRequestOptions(q, limit, 0, false)
	search.Highlight = bleve.NewHighlightWithStyle(i.style)
	search.Highlight.AddField("Content")
	search.Fields = []string{"Content", "Category", "Campus", "LikesCount", "CreatedAt"}

	results, err := i.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	searchResults := make([]*SearchResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		result := &SearchResult{
			ID:        id,
			Score:     hit.Score,
			Fragments: hit.Fragments,
		}

		if content, ok := hit.Fields["Content"].(string); ok {
			result.Content = content
		}
		if category, ok := hit.Fields["Category"].(string); ok {
			result.Category = category
		}
		if c, ok := hit.Fields["Campus"].(string); ok {
			result.Campus = c
		}
		if likes, ok := hit.Fields["LikesCount"].(float64); ok {
			result.LikesCount = int(likes)
		}
		if created, ok := hit.Fields["CreatedAt"].(string); ok {
			result.CreatedAt, _ = time.Parse(time.RFC3339, created)
		}

		searchResults = append(searchResults, result)
	}

	return searchResults, nil
}

// Rebuild indexes every active mirrored message. progress may be nil.
func (i *Index) Rebuild(db *storage.DB, progress func(done, total int)) error {
	recs, err := db.List("", false)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	const batchSize = 500
	batch := i.index.NewBatch()
	for n, rec := range recs {
		if err := batch.Index(docID(rec.ID), toIndexed(rec)); err != nil {
			return fmt.Errorf("batch index %d: %w", rec.ID, err)
		}

		if batch.Size() >= batchSize || n == len(recs)-1 {
			if err := i.index.Batch(batch); err != nil {
				return fmt.Errorf("commit batch: %w", err)
			}
			batch.Reset()
			if progress != nil {
				progress(n+1, len(recs))
			}
		}
	}

	return nil
}

// Count returns the number of messages in the index
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func toIndexed(rec *storage.MessageRecord) *IndexedMessage {
	return &IndexedMessage{
		ID:         docID(rec.ID),
		Content:    rec.Content,
		Category:   strings.ToLower(rec.Category),
		Campus:     rec.Campus,
		LikesCount: rec.LikesCount,
		CreatedAt:  rec.CreatedAt,
	}
}
