// Package search implements the full-text index over archived emails with
// bleve.
package search

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/rs/zerolog"

	"archive_server/core/port/out"
)

// Query-time field boosts: subject hits count double, sender hits half
// again as much as plain content.
const (
	subjectBoost = 2.0
	senderBoost  = 1.5
)

type BleveIndex struct {
	index bleve.Index
	log   zerolog.Logger
}

// Open opens the index at path, creating it with the current mapping when
// absent.
func Open(path string, log zerolog.Logger) (*BleveIndex, error) {
	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	return &BleveIndex{index: index, log: log}, nil
}

// Rebuild drops the index on disk and recreates it empty with the current
// mapping. Used when the stored mapping predates a schema change; the
// caller refills it from the store.
func Rebuild(path string, log zerolog.Logger) (*BleveIndex, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove search index: %w", err)
	}
	return Open(path, log)
}

// NeedsRebuild reports whether the stored mapping is missing the user_id
// field, the marker of pre-identity index layouts.
func (b *BleveIndex) NeedsRebuild() bool {
	fields, err := b.index.Fields()
	if err != nil {
		return false
	}
	for _, f := range fields {
		if f == "user_id" {
			return false
		}
	}
	count, err := b.index.DocCount()
	if err != nil || count == 0 {
		// An empty index has no fields yet; nothing to rebuild.
		return false
	}
	return true
}

func buildMapping() *mapping.IndexMappingImpl {
	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	stemmedField := bleve.NewTextFieldMapping()
	stemmedField.Analyzer = en.AnalyzerName

	dateField := bleve.NewDateTimeFieldMapping()
	boolField := bleve.NewBooleanFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("list_name", keywordField)
	doc.AddFieldMappingsAt("message_id", keywordField)
	doc.AddFieldMappingsAt("sender", bleve.NewTextFieldMapping())
	doc.AddFieldMappingsAt("user_id", keywordField)
	doc.AddFieldMappingsAt("subject", stemmedField)
	doc.AddFieldMappingsAt("content", stemmedField)
	doc.AddFieldMappingsAt("date", dateField)
	doc.AddFieldMappingsAt("attachments", bleve.NewTextFieldMapping())
	doc.AddFieldMappingsAt("tags", keywordField)
	doc.AddFieldMappingsAt("private_list", boolField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

func docID(listName, messageID string) string {
	return listName + "/" + messageID
}

func (b *BleveIndex) Add(ctx context.Context, doc *out.SearchDoc) error {
	if err := b.index.Index(docID(doc.ListName, doc.MessageID), doc); err != nil {
		return fmt.Errorf("index document: %w", err)
	}
	return nil
}

// Search runs a multifield query over sender, subject, content and
// attachment names. A named list restricts to it; otherwise only public
// lists are searched.
func (b *BleveIndex) Search(ctx context.Context, queryString, listName string, page, limit int) (*out.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if page <= 0 {
		page = 1
	}

	fields := []struct {
		name  string
		boost float64
	}{
		{"sender", senderBoost},
		{"subject", subjectBoost},
		{"content", 0},
		{"attachments", 0},
	}
	text := bleve.NewDisjunctionQuery()
	for _, f := range fields {
		mq := bleve.NewMatchQuery(queryString)
		mq.SetField(f.name)
		if f.boost > 0 {
			mq.SetBoost(f.boost)
		}
		text.AddQuery(mq)
	}

	var filter query.Query
	if listName != "" {
		tq := bleve.NewTermQuery(listName)
		tq.SetField("list_name")
		filter = tq
	} else {
		bq := bleve.NewBoolFieldQuery(false)
		bq.SetField("private_list")
		filter = bq
	}

	req := bleve.NewSearchRequestOptions(
		bleve.NewConjunctionQuery(text, filter), limit, (page-1)*limit, false)
	req.Fields = []string{"*"}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	result := &out.SearchResult{Total: res.Total, Results: make([]out.SearchDoc, 0, len(res.Hits))}
	for _, hit := range res.Hits {
		result.Results = append(result.Results, docFromFields(hit.Fields))
	}
	return result, nil
}

func docFromFields(fields map[string]any) out.SearchDoc {
	str := func(name string) string {
		if v, ok := fields[name].(string); ok {
			return v
		}
		return ""
	}
	doc := out.SearchDoc{
		ListName:    str("list_name"),
		MessageID:   str("message_id"),
		Sender:      str("sender"),
		UserID:      str("user_id"),
		Subject:     str("subject"),
		Content:     str("content"),
		Attachments: str("attachments"),
		Tags:        str("tags"),
	}
	if v, ok := fields["private_list"].(bool); ok {
		doc.PrivateList = v
	}
	if v, ok := fields["date"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			doc.Date = t
		}
	}
	return doc
}

// Flush is a no-op: adds commit immediately.
func (b *BleveIndex) Flush(ctx context.Context) error {
	return nil
}

func (b *BleveIndex) Close() error {
	return b.index.Close()
}

var _ out.SearchIndex = (*BleveIndex)(nil)
