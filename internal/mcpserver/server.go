// Package mcpserver exposes the session archive to MCP clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jwulff/patientsim/internal/db"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const defaultLimit = 20

// Archive is the read side of db.Store.
type Archive interface {
	Sessions(limit int) ([]db.Session, error)
	Session(id string) (*db.Session, error)
	TurnsForSession(sessionID string) ([]db.Turn, error)
}

var _ Archive = (*db.Store)(nil)

type sessionJSON struct {
	ID        string     `json:"id"`
	Topic     string     `json:"topic,omitempty"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Rating    *int       `json:"rating,omitempty"`
	Feedback  string     `json:"feedback,omitempty"`
	Turns     int        `json:"turns"`
}

type turnJSON struct {
	Sequence    int     `json:"sequence"`
	PromptIndex int     `json:"promptIndex"`
	Patient     string  `json:"patient,omitempty"`
	Transcript  string  `json:"transcript,omitempty"`
	Audio       string  `json:"audio"`
	Seconds     float64 `json:"seconds"`
}

type sessionDetail struct {
	sessionJSON
	TurnList []turnJSON `json:"turnList"`
}

func toSessionJSON(s db.Session) sessionJSON {
	return sessionJSON{
		ID:        s.ID,
		Topic:     s.Topic,
		Status:    s.Status,
		StartedAt: s.StartedAt.UTC(),
		EndedAt:   s.EndedAt,
		Rating:    s.Rating,
		Feedback:  s.FeedbackText,
		Turns:     s.TurnCount,
	}
}

// New builds the MCP server with the archive tools registered.
func New(archive Archive, version string) *server.MCPServer {
	s := server.NewMCPServer("patientsim-archive", version, server.WithToolCapabilities(false))
	h := handlers{archive: archive}

	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List recent practice sessions, newest first, with rating and turn count."),
		mcp.WithNumber("limit", mcp.Description("Maximum sessions to return (default 20)")),
	), h.listSessions)

	s.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Get one practice session with every recorded turn, transcript and the learner's feedback."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Session id from list_sessions")),
	), h.getSession)

	return s
}

// ServeStdio runs the server on stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

type handlers struct {
	archive Archive
}

func (h handlers) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultLimit)
	sessions, err := h.archive.Sessions(limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sessions: %v", err)), nil
	}

	out := make([]sessionJSON, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionJSON(s))
	}
	return jsonResult(out)
}

func (h handlers) getSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sess, err := h.archive.Session(id)
	if errors.Is(err, db.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no session %q", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get session: %v", err)), nil
	}
	turns, err := h.archive.TurnsForSession(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get turns: %v", err)), nil
	}

	detail := sessionDetail{sessionJSON: toSessionJSON(*sess), TurnList: make([]turnJSON, 0, len(turns))}
	for _, t := range turns {
		detail.TurnList = append(detail.TurnList, turnJSON{
			Sequence:    t.Sequence,
			PromptIndex: t.PromptIndex,
			Patient:     t.Caption,
			Transcript:  t.Transcript,
			Audio:       t.AudioPath,
			Seconds:     t.Duration.Seconds(),
		})
	}
	return jsonResult(detail)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
