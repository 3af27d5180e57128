// Package http serves the voicelog REST API and MCP endpoints.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/model"
	"github.com/sjzar/voicelog/internal/voicelog/conf"
	"github.com/sjzar/voicelog/internal/voicelog/ingest"
	"github.com/sjzar/voicelog/internal/voicelog/transcription"
)

// Store is the read/delete side of the session store.
type Store interface {
	ListSessions(ctx context.Context, filter model.SessionFilter) ([]*model.Session, error)
	CountSessions(ctx context.Context, titleContains string) (int, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListQueuedSegments(ctx context.Context) ([]*model.QueuedSegment, error)
	CountSegmentsByStatus(ctx context.Context) (map[string]int, error)
}

// Pipeline is the transcription orchestrator.
type Pipeline interface {
	EnqueueSegment(ctx context.Context, sessionID string, start, end float64) (*model.Segment, error)
	ProcessSegment(ctx context.Context, segmentID string) error
	RetryQueuedSegments(ctx context.Context) (int, error)
	InFlight() int
	Policy() transcription.RetryPolicy
}

type Importer interface {
	Import(ctx context.Context, path string, opts ingest.Options) (*ingest.Result, error)
}

type Searcher interface {
	Search(ctx context.Context, req *model.SearchRequest) (*model.SearchResponse, error)
	Status() model.SearchIndexStatus
	RemoveSession(ctx context.Context, sessionID string) error
}

// Audio decrypts session artifacts.
type Audio interface {
	Open(name string) ([]byte, error)
}

type Config interface {
	Get() conf.Config
	Speech() conf.SpeechConfig
	UpdateSpeech(patch map[string]any) (conf.SpeechConfig, error)
}

// Deps are the collaborators of the HTTP service. Online and LocalPermission may be nil.
type Deps struct {
	Store           Store
	Pipeline        Pipeline
	Importer        Importer
	Search          Searcher
	Audio           Audio
	Config          Config
	UploadDir       string
	Online          func() bool
	LocalPermission func() string
}

type Service struct {
	addr string
	deps Deps

	router *gin.Engine
	server *http.Server

	mcpServer           *server.MCPServer
	mcpSSEServer        *server.SSEServer
	mcpStreamableServer *server.StreamableHTTPServer
}

func NewService(addr string, deps Deps) *Service {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if err := router.SetTrustedProxies(nil); err != nil {
		log.Err(err).Msg("Failed to set trusted proxies")
	}

	router.Use(
		errors.RecoveryMiddleware(),
		errors.ErrorHandlerMiddleware(),
		gin.LoggerWithWriter(log.Logger, "/health"),
	)

	s := &Service{
		addr:   addr,
		deps:   deps,
		router: router,
	}

	s.initMCPServer()
	s.initRouter()
	return s
}

func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Err(err).Msg("Failed to start HTTP server")
		}
	}()

	log.Info().Msg("Starting HTTP server on " + s.addr)
	return nil
}

func (s *Service) Stop() error {
	if s.server == nil {
		return nil
	}

	// 使用超时上下文优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Debug().Err(err).Msg("Failed to shutdown HTTP server")
		return nil
	}

	log.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Service) GetRouter() *gin.Engine {
	return s.router
}
