package http

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sjzar/voicelog/internal/model"
	"github.com/sjzar/voicelog/pkg/version"
)

func (s *Service) initMCPServer() {
	s.mcpServer = server.NewMCPServer("voicelog", version.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List recorded sessions, newest first."),
		mcp.WithString("title", mcp.Description("Only sessions whose title contains this text")),
		mcp.WithNumber("limit", mcp.Description("Maximum sessions to return (default 20)")),
		mcp.WithNumber("offset", mcp.Description("Sessions to skip")),
	), s.toolListSessions)

	s.mcpServer.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Get the transcript of one session, segment by segment."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	), s.toolGetTranscript)

	s.mcpServer.AddTool(mcp.NewTool("search_transcripts",
		mcp.WithDescription("Full-text search over completed transcripts."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms; supports quoted phrases, +must and -exclude")),
		mcp.WithString("session", mcp.Description("Comma separated session ids to restrict the search")),
		mcp.WithNumber("limit", mcp.Description("Maximum hits (default 20, max 200)")),
	), s.toolSearch)

	s.mcpServer.AddTool(mcp.NewTool("retry_queued",
		mcp.WithDescription("Retry every segment waiting in the offline queue."),
	), s.toolRetryQueued)

	s.mcpSSEServer = server.NewSSEServer(s.mcpServer)
	s.mcpStreamableServer = server.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Service) toolListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	sessions, err := s.deps.Store.ListSessions(ctx, model.SessionFilter{
		TitleContains: req.GetString("title", ""),
		Limit:         limit,
		Offset:        req.GetInt("offset", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(sessions) == 0 {
		return mcp.NewToolResultText("No sessions."), nil
	}
	var b strings.Builder
	for _, sess := range sessions {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%.0fs\n", sess.ID, sess.CreatedAt.Format("2006-01-02 15:04"), sess.Title, sess.Duration)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Service) toolGetTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := s.deps.Store.GetSession(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(renderTranscript(sess)), nil
}

func (s *Service) toolSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.deps.Search == nil {
		return mcp.NewToolResultError("search index unavailable"), nil
	}
	resp, err := s.deps.Search.Search(ctx, &model.SearchRequest{
		Query:   query,
		Session: req.GetString("session", ""),
		Limit:   req.GetInt("limit", 20),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (s *Service) toolRetryQueued(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.deps.Pipeline.RetryQueuedSegments(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("dispatched %d queued segment(s)", n)), nil
}
