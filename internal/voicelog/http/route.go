package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/media"
	"github.com/sjzar/voicelog/internal/model"
	"github.com/sjzar/voicelog/internal/voicelog/ingest"
	"github.com/sjzar/voicelog/pkg/util"
	"github.com/sjzar/voicelog/pkg/util/mp3"
)

func (s *Service) initRouter() {
	s.initBaseRouter()
	s.initAPIRouter()
	s.initMCPRouter()
}

func (s *Service) initBaseRouter() {
	s.router.GET("/health", func(ctx *gin.Context) { ctx.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

func (s *Service) initAPIRouter() {
	api := s.router.Group("/api/v1")
	{
		api.GET("/sessions", s.handleSessions)
		api.POST("/sessions", s.handleUpload)
		api.GET("/sessions/:id", s.handleSession)
		api.DELETE("/sessions/:id", s.handleDeleteSession)
		api.GET("/sessions/:id/audio", s.handleAudio)
		api.GET("/sessions/:id/transcript", s.handleTranscript)
		api.POST("/sessions/:id/segments", s.handleEnqueue)
		api.POST("/segments/:id/retry", s.handleRetrySegment)
		api.POST("/retry", s.handleRetryQueued)
		api.GET("/queue", s.handleQueue)
		api.GET("/search", s.handleSearch)
		api.GET("/status", s.handleStatus)
		api.GET("/config/speech", s.handleGetSpeechConfig)
		api.PUT("/config/speech", s.handlePutSpeechConfig)
	}
}

func (s *Service) initMCPRouter() {
	s.router.Any("/mcp", func(c *gin.Context) { s.mcpStreamableServer.ServeHTTP(c.Writer, c.Request) })
	s.router.Any("/sse", func(c *gin.Context) { s.mcpSSEServer.ServeHTTP(c.Writer, c.Request) })
	s.router.Any("/message", func(c *gin.Context) { s.mcpSSEServer.ServeHTTP(c.Writer, c.Request) })
}

// GET /api/v1/sessions?title=&limit=&offset=
func (s *Service) handleSessions(c *gin.Context) {
	params := struct {
		Title  string `form:"title"`
		Limit  int    `form:"limit"`
		Offset int    `form:"offset"`
	}{}
	if err := c.BindQuery(&params); err != nil {
		errors.Err(c, errors.InvalidArg("query"))
		return
	}
	if params.Limit <= 0 {
		params.Limit = 50
	}
	if params.Limit > 500 {
		params.Limit = 500
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	ctx := c.Request.Context()
	sessions, err := s.deps.Store.ListSessions(ctx, model.SessionFilter{
		TitleContains: params.Title,
		Limit:         params.Limit,
		Offset:        params.Offset,
	})
	if err != nil {
		errors.Err(c, err)
		return
	}
	total, err := s.deps.Store.CountSessions(ctx, params.Title)
	if err != nil {
		errors.Err(c, err)
		return
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}
	c.JSON(http.StatusOK, gin.H{
		"total":    total,
		"limit":    params.Limit,
		"offset":   params.Offset,
		"sessions": sessions,
	})
}

// POST /api/v1/sessions (multipart: file, title, segment_seconds)
func (s *Service) handleUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		errors.Err(c, errors.InvalidArg("file"))
		return
	}
	if !media.IsAudioFile(fh.Filename) {
		errors.Err(c, errors.New(errors.KindInvalidArg, http.StatusUnsupportedMediaType, nil, "unsupported audio type %q", filepath.Ext(fh.Filename)))
		return
	}

	opts := ingest.Options{
		Title:          strings.TrimSpace(c.PostForm("title")),
		RemoveSource:   true,
		SegmentSeconds: s.deps.Config.Get().Transcription.SegmentSeconds,
	}
	if raw := strings.TrimSpace(c.PostForm("segment_seconds")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			errors.Err(c, errors.InvalidArg("segment_seconds"))
			return
		}
		opts.SegmentSeconds = v
	}

	if err := os.MkdirAll(s.deps.UploadDir, 0o700); err != nil {
		errors.Err(c, err)
		return
	}
	dst := filepath.Join(s.deps.UploadDir, "upload-"+uuid.NewString()+strings.ToLower(filepath.Ext(fh.Filename)))
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		errors.Err(c, err)
		return
	}
	defer os.Remove(dst)

	res, err := s.deps.Importer.Import(c.Request.Context(), dst, opts)
	if err != nil && res == nil {
		errors.Err(c, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	body := gin.H{"session": res.Session, "segments": res.Segments, "duplicate": res.Duplicate}
	if err != nil {
		body["warning"] = err.Error()
	}
	c.JSON(status, body)
}

// GET /api/v1/sessions/:id
func (s *Service) handleSession(c *gin.Context) {
	sess, err := s.deps.Store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		errors.Err(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":    sess,
		"transcript": sess.Transcript(),
		"counts":     sess.StatusCounts(),
	})
}

// DELETE /api/v1/sessions/:id
func (s *Service) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if err := s.deps.Store.DeleteSession(ctx, id); err != nil {
		errors.Err(c, err)
		return
	}
	if s.deps.Search != nil {
		if err := s.deps.Search.RemoveSession(ctx, id); err != nil {
			log.Warn().Err(err).Str("session", id).Msg("failed to remove session from search index")
		}
	}
	c.Status(http.StatusNoContent)
}

// GET /api/v1/sessions/:id/audio?format=mp3
func (s *Service) handleAudio(c *gin.Context) {
	sess, err := s.deps.Store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		errors.Err(c, err)
		return
	}
	plain, err := s.deps.Audio.Open(sess.Filename)
	if err != nil {
		if errors.KindOf(err) != errors.KindCrypto {
			err = errors.Crypto(err, "open artifact")
		}
		errors.Err(c, err)
		return
	}

	name := "recording" + sess.Ext()
	if strings.EqualFold(c.Query("format"), "mp3") && sess.Format == "wav" {
		samples, rate, err := media.DecodeWAVBytes(plain)
		if err == nil {
			out, err := mp3.EncodePCM16(media.PCM16(samples), rate, mp3.DefaultBitrate)
			if err == nil {
				c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", "recording.mp3"))
				c.Data(http.StatusOK, "audio/mpeg", out)
				return
			}
			log.Debug().Err(err).Str("session", sess.ID).Msg("mp3 encode failed, serving original audio")
		}
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	c.Data(http.StatusOK, media.ContentType(name), plain)
}

// GET /api/v1/sessions/:id/transcript?format=text|json
func (s *Service) handleTranscript(c *gin.Context) {
	sess, err := s.deps.Store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		errors.Err(c, err)
		return
	}
	switch strings.ToLower(c.DefaultQuery("format", "text")) {
	case "json":
		type line struct {
			Start  float64          `json:"start"`
			End    float64          `json:"end"`
			Status string           `json:"status"`
			Source model.TextSource `json:"source,omitempty"`
			Text   string           `json:"text"`
		}
		lines := make([]line, 0, len(sess.Segments))
		for _, seg := range sess.Segments {
			lines = append(lines, line{Start: seg.StartTime, End: seg.EndTime, Status: seg.Status.String(), Source: seg.Source, Text: seg.Text})
		}
		c.JSON(http.StatusOK, gin.H{"session": sess.ID, "title": sess.Title, "segments": lines})
	default:
		c.String(http.StatusOK, renderTranscript(sess))
	}
}

func renderTranscript(sess *model.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sess.Title)
	for _, seg := range sess.Segments {
		if seg.Status != model.StatusComplete || seg.Text == "" {
			continue
		}
		if !seg.WholeFile() {
			fmt.Fprintf(&b, "[%s-%s] ", util.FormatClock(seg.StartTime), util.FormatClock(seg.EndTime))
		}
		b.WriteString(seg.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// POST /api/v1/sessions/:id/segments {"start":0,"end":30}
func (s *Service) handleEnqueue(c *gin.Context) {
	var req struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.Err(c, errors.InvalidArg("body"))
		return
	}
	seg, err := s.deps.Pipeline.EnqueueSegment(c.Request.Context(), c.Param("id"), req.Start, req.End)
	if err != nil {
		errors.Err(c, err)
		return
	}
	c.JSON(http.StatusAccepted, seg)
}

// POST /api/v1/segments/:id/retry
func (s *Service) handleRetrySegment(c *gin.Context) {
	if err := s.deps.Pipeline.ProcessSegment(c.Request.Context(), c.Param("id")); err != nil {
		errors.Err(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "transcribing"})
}

// POST /api/v1/retry
func (s *Service) handleRetryQueued(c *gin.Context) {
	n, err := s.deps.Pipeline.RetryQueuedSegments(c.Request.Context())
	if err != nil {
		errors.Err(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispatched": n})
}

// GET /api/v1/queue
func (s *Service) handleQueue(c *gin.Context) {
	records, err := s.deps.Store.ListQueuedSegments(c.Request.Context())
	if err != nil {
		errors.Err(c, err)
		return
	}
	if records == nil {
		records = []*model.QueuedSegment{}
	}
	c.JSON(http.StatusOK, gin.H{"total": len(records), "queued": records})
}

// GET /api/v1/search?q=&session=&limit=&offset=
func (s *Service) handleSearch(c *gin.Context) {
	params := struct {
		Query   string `form:"q"`
		Session string `form:"session"`
		Limit   int    `form:"limit"`
		Offset  int    `form:"offset"`
	}{}
	if err := c.BindQuery(&params); err != nil {
		errors.Err(c, errors.InvalidArg("query"))
		return
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		errors.Err(c, errors.InvalidArg("q"))
		return
	}
	if s.deps.Search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search index unavailable"})
		return
	}

	req := &model.SearchRequest{
		Query:   query,
		Session: strings.Join(util.Str2List(params.Session, ","), ","),
		Limit:   params.Limit,
		Offset:  params.Offset,
	}
	resp, err := s.deps.Search.Search(c.Request.Context(), req)
	if err != nil {
		errors.Err(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/v1/config/speech
func (s *Service) handleGetSpeechConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Config.Speech().Redacted())
}

// PUT /api/v1/config/speech
func (s *Service) handlePutSpeechConfig(c *gin.Context) {
	var patch map[string]any
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&patch); err != nil {
		errors.Err(c, errors.InvalidArg("body"))
		return
	}
	updated, err := s.deps.Config.UpdateSpeech(normalizeNumbers(patch))
	if err != nil {
		errors.Err(c, errors.New(errors.KindInvalidArg, http.StatusBadRequest, err, "update speech config"))
		return
	}
	c.JSON(http.StatusOK, updated.Redacted())
}

// normalizeNumbers turns json.Number values into int or float64 so the
// decoded patch can be stored in the config file as plain numbers.
func normalizeNumbers(in map[string]any) map[string]any {
	for k, v := range in {
		switch val := v.(type) {
		case json.Number:
			if i, err := val.Int64(); err == nil {
				in[k] = int(i)
			} else if f, err := val.Float64(); err == nil {
				in[k] = f
			}
		case map[string]any:
			in[k] = normalizeNumbers(val)
		}
	}
	return in
}
