package index

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/model"
)

// Source is the part of the session store the index reads from.
type Source interface {
	Fingerprint(ctx context.Context) (string, error)
	SegmentsByStatus(ctx context.Context, status model.SegmentStatus) ([]*model.Segment, error)
	GetSegment(ctx context.Context, id string) (*model.Segment, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, filter model.SessionFilter) ([]*model.Session, error)
}

// Service keeps the index in step with the store and answers searches.
type Service struct {
	idx *Index
	src Source

	mu     sync.Mutex
	status model.SearchIndexStatus
}

func NewService(idx *Index, src Source) *Service {
	s := &Service{idx: idx, src: src}
	if n, err := idx.Count(); err == nil {
		s.status.Documents = n
	}
	s.status.LastCompletedAt = idx.LastBuilt()
	return s
}

// Status returns a snapshot of the build state.
func (s *Service) Status() model.SearchIndexStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Sync rebuilds the index when the store fingerprint no longer matches, or
// when the mapping version changed.
func (s *Service) Sync(ctx context.Context) error {
	fp, err := s.src.Fingerprint(ctx)
	if err != nil {
		return err
	}
	ok, err := s.idx.EnsureVersion()
	if err != nil {
		return errors.Persistence(err, "index version")
	}
	if ok && fp == s.idx.Fingerprint() {
		s.mu.Lock()
		s.status.Ready = true
		s.mu.Unlock()
		return nil
	}
	return s.Rebuild(ctx)
}

// Rebuild drops the index and re-adds every completed segment.
func (s *Service) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	if s.status.InProgress {
		s.mu.Unlock()
		return errors.Conflict("index rebuild already in progress")
	}
	s.status.InProgress = true
	s.mu.Unlock()

	started := time.Now()
	n, err := s.rebuild(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.InProgress = false
	if err != nil {
		s.status.LastError = err.Error()
		log.Error().Err(err).Msg("rebuild search index failed")
		return err
	}
	s.status.Ready = true
	s.status.Documents = n
	s.status.LastError = ""
	s.status.LastCompletedAt = time.Now()
	log.Info().Uint64("documents", n).Dur("took", time.Since(started)).Msg("search index rebuilt")
	return nil
}

func (s *Service) rebuild(ctx context.Context) (uint64, error) {
	fp, err := s.src.Fingerprint(ctx)
	if err != nil {
		return 0, err
	}
	segs, err := s.src.SegmentsByStatus(ctx, model.StatusComplete)
	if err != nil {
		return 0, err
	}
	sessions, err := s.src.ListSessions(ctx, model.SessionFilter{})
	if err != nil {
		return 0, err
	}
	titles := make(map[string]string, len(sessions))
	for _, sess := range sessions {
		titles[sess.ID] = sess.Title
	}

	if err := s.idx.Reset(); err != nil {
		return 0, errors.Persistence(err, "reset index")
	}
	docs := make([]Document, 0, len(segs))
	for _, seg := range segs {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		docs = append(docs, documentFor(seg, titles[seg.SessionID]))
	}
	if err := s.idx.Put(docs); err != nil {
		return 0, errors.Persistence(err, "index segments")
	}
	if _, err := s.idx.EnsureVersion(); err != nil {
		return 0, errors.Persistence(err, "index version")
	}
	if err := s.idx.SetFingerprint(fp); err != nil {
		return 0, errors.Persistence(err, "index fingerprint")
	}
	if err := s.idx.SetLastBuilt(time.Now()); err != nil {
		return 0, errors.Persistence(err, "index last built")
	}
	return s.idx.Count()
}

// IndexSegment adds one completed segment without a full rebuild.
func (s *Service) IndexSegment(ctx context.Context, segmentID string) error {
	seg, err := s.src.GetSegment(ctx, segmentID)
	if err != nil {
		return err
	}
	if seg.Status != model.StatusComplete || strings.TrimSpace(seg.Text) == "" {
		return nil
	}
	sess, err := s.src.GetSession(ctx, seg.SessionID)
	if err != nil {
		return err
	}
	if err := s.idx.Put([]Document{documentFor(seg, sess.Title)}); err != nil {
		return errors.Persistence(err, "index segment %s", seg.ID)
	}
	s.touch(ctx)
	return nil
}

// RemoveSession drops the session's documents, e.g. after it was deleted.
func (s *Service) RemoveSession(ctx context.Context, sessionID string) error {
	if _, err := s.idx.DeleteSession(sessionID); err != nil {
		return errors.Persistence(err, "unindex session %s", sessionID)
	}
	s.touch(ctx)
	return nil
}

// touch records the current store fingerprint after an incremental change so
// the next Sync does not rebuild needlessly.
func (s *Service) touch(ctx context.Context) {
	if fp, err := s.src.Fingerprint(ctx); err == nil {
		_ = s.idx.SetFingerprint(fp)
	}
	if n, err := s.idx.Count(); err == nil {
		s.mu.Lock()
		s.status.Documents = n
		s.mu.Unlock()
	}
}

// Search runs req against the index.
func (s *Service) Search(ctx context.Context, req *model.SearchRequest) (*model.SearchResponse, error) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return nil, errors.InvalidArg("query")
	}
	started := time.Now()

	var sessions []string
	if req.Session != "" {
		sessions = strings.Split(req.Session, ",")
	}
	hits, total, err := s.idx.Search(req.Query, sessions, req.Offset, req.Limit)
	if err != nil {
		return nil, errors.Persistence(err, "search")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	resp := &model.SearchResponse{
		Total:  total,
		Hits:   make([]*model.SearchHit, 0, len(hits)),
		Limit:  limit,
		Offset: req.Offset,
		Query:  req.Query,
	}
	for _, h := range hits {
		snippet := h.Snippet
		if snippet == "" {
			snippet = h.Text
		}
		resp.Hits = append(resp.Hits, &model.SearchHit{
			SegmentID:    h.ID,
			SessionID:    h.SessionID,
			SessionTitle: h.SessionTitle,
			StartTime:    h.Start,
			EndTime:      h.End,
			Text:         h.Text,
			Snippet:      snippet,
			Score:        h.Score,
			CreatedAt:    time.Unix(h.Created, 0),
		})
	}
	status := s.Status()
	resp.Index = &status
	resp.DurationMs = time.Since(started).Milliseconds()
	return resp, nil
}

func documentFor(seg *model.Segment, title string) Document {
	return Document{
		ID:           seg.ID,
		SessionID:    seg.SessionID,
		SessionTitle: title,
		Start:        seg.StartTime,
		End:          seg.EndTime,
		Text:         seg.Text,
		Created:      seg.CreatedAt.Unix(),
	}
}
