// Package index keeps a bleve full-text index of completed transcript segments.
package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	versionKey     = "voicelog_index_version"
	indexVersion   = "1"
	fingerprintKey = "voicelog_index_fingerprint"
	lastBuiltKey   = "voicelog_index_last_built"

	defaultLimit = 20
	maxLimit     = 200
)

// Document is one completed segment as stored in the index.
type Document struct {
	ID           string  `json:"id"`
	SessionID    string  `json:"session_id"`
	SessionTitle string  `json:"title"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	Created      int64   `json:"created"`
}

// Hit is a matching document with its highlighted fragment.
type Hit struct {
	Document
	Snippet string
	Score   float64
}

// Index wraps a bleve index with a RW lock so Reset can swap it safely.
type Index struct {
	mu   sync.RWMutex
	idx  bleve.Index
	path string
}

// Open opens the index at path, creating it with the segment mapping if absent.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index parent dir: %w", err)
	}

	var (
		idx bleve.Index
		err error
	)
	if _, statErr := os.Stat(path); statErr == nil {
		idx, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open bleve index: %w", err)
		}
	} else if errors.Is(statErr, os.ErrNotExist) {
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create bleve index: %w", err)
		}
	} else {
		return nil, fmt.Errorf("stat index: %w", statErr)
	}
	return &Index{idx: idx, path: path}, nil
}

func (i *Index) Close() error {
	if i == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.idx == nil {
		return nil
	}
	err := i.idx.Close()
	i.idx = nil
	return err
}

// Reset drops every document and recreates the index.
func (i *Index) Reset() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.idx != nil {
		_ = i.idx.Close()
	}
	if err := os.RemoveAll(i.path); err != nil {
		return fmt.Errorf("remove index dir: %w", err)
	}
	idx, err := bleve.New(i.path, buildMapping())
	if err != nil {
		return fmt.Errorf("recreate bleve index: %w", err)
	}
	i.idx = idx
	return nil
}

func (i *Index) setMetadata(key string, value []byte) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.idx == nil {
		return errors.New("index not initialized")
	}
	return i.idx.SetInternal([]byte(key), value)
}

func (i *Index) metadata(key string) []byte {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.idx == nil {
		return nil
	}
	b, err := i.idx.GetInternal([]byte(key))
	if err != nil {
		return nil
	}
	return b
}

// Put indexes documents in batches, replacing documents with the same id.
func (i *Index) Put(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.idx == nil {
		return errors.New("index not initialized")
	}

	const batchSize = 250
	batch := i.idx.NewBatch()
	for n, doc := range docs {
		if doc.ID == "" {
			return errors.New("document without id")
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("batch index: %w", err)
		}
		if (n+1)%batchSize == 0 {
			if err := i.idx.Batch(batch); err != nil {
				return fmt.Errorf("flush batch: %w", err)
			}
			batch = i.idx.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := i.idx.Batch(batch); err != nil {
			return fmt.Errorf("flush final batch: %w", err)
		}
	}
	return nil
}

// DeleteSession removes every document of the session and returns how many.
func (i *Index) DeleteSession(sessionID string) (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.idx == nil {
		return 0, errors.New("index not initialized")
	}

	tq := query.NewTermQuery(sessionID)
	tq.SetField("session_id")
	req := bleve.NewSearchRequestOptions(tq, 10000, 0, false)
	res, err := i.idx.Search(req)
	if err != nil {
		return 0, fmt.Errorf("find session documents: %w", err)
	}
	if len(res.Hits) == 0 {
		return 0, nil
	}
	batch := i.idx.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	if err := i.idx.Batch(batch); err != nil {
		return 0, fmt.Errorf("delete session documents: %w", err)
	}
	return len(res.Hits), nil
}

// Count returns the number of indexed documents.
func (i *Index) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.idx == nil {
		return 0, errors.New("index not initialized")
	}
	return i.idx.DocCount()
}

// Search runs q, optionally restricted to sessions, and returns hits with
// highlighted fragments plus the total match count.
func (i *Index) Search(q string, sessions []string, offset, limit int) ([]*Hit, int, error) {
	queryObj := buildQuery(q, sessions)
	if queryObj == nil {
		return []*Hit{}, 0, nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.idx == nil {
		return nil, 0, errors.New("index not initialized")
	}

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	req := bleve.NewSearchRequestOptions(queryObj, limit, offset, false)
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Highlight.AddField("text")
	req.Fields = []string{"session_id", "title", "start", "end", "text", "created"}

	result, err := i.idx.Search(req)
	if err != nil {
		return nil, 0, fmt.Errorf("bleve search: %w", err)
	}

	hits := make([]*Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hit := &Hit{
			Document: Document{
				ID:           h.ID,
				SessionID:    fieldString(h.Fields, "session_id"),
				SessionTitle: fieldString(h.Fields, "title"),
				Start:        fieldFloat(h.Fields, "start"),
				End:          fieldFloat(h.Fields, "end"),
				Text:         fieldString(h.Fields, "text"),
				Created:      int64(fieldFloat(h.Fields, "created")),
			},
			Score: h.Score,
		}
		if frags, ok := h.Fragments["text"]; ok && len(frags) > 0 {
			hit.Snippet = strings.Join(frags, " … ")
		}
		hits = append(hits, hit)
	}
	return hits, int(result.Total), nil
}

func fieldString(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}

func fieldFloat(fields map[string]interface{}, name string) float64 {
	f, _ := fields[name].(float64)
	return f
}

func buildMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = "standard"

	docMapping := mapping.NewDocumentMapping()

	textField := mapping.NewTextFieldMapping()
	textField.Analyzer = "standard"
	textField.Store = true
	textField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("text", textField)

	titleField := mapping.NewTextFieldMapping()
	titleField.Analyzer = "standard"
	titleField.Store = true
	docMapping.AddFieldMappingsAt("title", titleField)

	sessionField := mapping.NewTextFieldMapping()
	sessionField.Analyzer = "keyword"
	sessionField.Store = true
	sessionField.IncludeInAll = false
	docMapping.AddFieldMappingsAt("session_id", sessionField)

	for _, name := range []string{"start", "end", "created"} {
		num := mapping.NewNumericFieldMapping()
		num.Store = true
		num.IncludeInAll = false
		docMapping.AddFieldMappingsAt(name, num)
	}

	idField := mapping.NewTextFieldMapping()
	idField.Index = false
	idField.Store = false
	docMapping.AddFieldMappingsAt("id", idField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func buildQuery(input string, sessions []string) query.Query {
	textQuery := buildTextQuery(input)
	if textQuery == nil {
		return nil
	}
	filter := buildTermsFilter("session_id", sessions)
	if filter == nil {
		return textQuery
	}
	return query.NewConjunctionQuery([]query.Query{textQuery, filter})
}

func buildTextQuery(input string) query.Query {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil
	}

	upper := strings.ToUpper(s)
	advanced := strings.ContainsAny(s, "\"*()+-:") ||
		strings.Contains(upper, " AND ") ||
		strings.Contains(upper, " OR ")
	if advanced {
		return query.NewQueryStringQuery(s)
	}

	tokens := strings.Fields(s)
	conj := make([]query.Query, 0, len(tokens))
	for _, token := range tokens {
		mq := query.NewMatchQuery(token)
		mq.SetField("text")
		conj = append(conj, mq)
	}
	if len(conj) == 1 {
		return conj[0]
	}
	return query.NewConjunctionQuery(conj)
}

func buildTermsFilter(field string, values []string) query.Query {
	terms := make([]query.Query, 0, len(values))
	for _, val := range values {
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			continue
		}
		tq := query.NewTermQuery(trimmed)
		tq.SetField(field)
		terms = append(terms, tq)
	}
	switch len(terms) {
	case 0:
		return nil
	case 1:
		return terms[0]
	default:
		return query.NewDisjunctionQuery(terms)
	}
}

// EnsureVersion records the mapping version, reporting whether it already matched.
func (i *Index) EnsureVersion() (bool, error) {
	if string(i.metadata(versionKey)) == indexVersion {
		return true, nil
	}
	return false, i.setMetadata(versionKey, []byte(indexVersion))
}

// Fingerprint returns the store fingerprint the index was last synced to.
func (i *Index) Fingerprint() string {
	return string(i.metadata(fingerprintKey))
}

func (i *Index) SetFingerprint(fp string) error {
	return i.setMetadata(fingerprintKey, []byte(fp))
}

// SetLastBuilt 记录最近一次索引构建完成时间（Unix 秒）
func (i *Index) SetLastBuilt(t time.Time) error {
	return i.setMetadata(lastBuiltKey, []byte(strconv.FormatInt(t.Unix(), 10)))
}

// LastBuilt 返回最近一次索引构建完成时间
func (i *Index) LastBuilt() time.Time {
	b := i.metadata(lastBuiltKey)
	if len(b) == 0 {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
