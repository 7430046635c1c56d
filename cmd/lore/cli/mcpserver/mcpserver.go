// Package mcpserver exposes the session store to AI assistants over the
// Model Context Protocol. Every tool is read-only: assistants can search
// and recall history, never modify it.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/store"
)

const defaultListLimit = 20

// messageSummaryLen bounds per-message text in tool output so a long
// session does not blow the assistant's context.
const messageSummaryLen = 500

// Server wraps the MCP server with its store.
type Server struct {
	store *store.Store
	mcp   *server.MCPServer

	// indexOnce guards the once-per-process FTS rebuild check before the
	// first search.
	indexOnce sync.Once
	indexErr  error
}

// New builds the MCP server and registers the lore tools.
func New(st *store.Store, version string) *Server {
	s := &Server{
		store: st,
		mcp: server.NewMCPServer("lore", version,
			server.WithToolCapabilities(false),
		),
	}

	s.mcp.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Full-text search across captured AI coding sessions."),
		mcp.WithString("query", mcp.Required(), mcp.Description("FTS query, supports AND/OR/NOT and prefix*")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
		mcp.WithString("tool", mcp.Description("Restrict to one tool, e.g. claude-code")),
		mcp.WithString("role", mcp.Description("Restrict to a role: user, assistant, system")),
	), s.handleSearch)

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List captured sessions, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum sessions (default 20)")),
		mcp.WithString("project", mcp.Description("Filter by working-directory prefix")),
	), s.handleListSessions)

	s.mcp.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Fetch one session with its messages by id prefix."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Session id or unique prefix")),
	), s.handleGetSession)

	s.mcp.AddTool(mcp.NewTool("get_context",
		mcp.WithDescription("Recent session activity for a project directory."),
		mcp.WithString("working_directory", mcp.Required(), mcp.Description("Absolute project path")),
		mcp.WithNumber("limit", mcp.Description("Maximum sessions (default 5)")),
	), s.handleGetContext)

	s.mcp.AddTool(mcp.NewTool("get_linked_sessions",
		mcp.WithDescription("Sessions linked to a git commit."),
		mcp.WithString("commit_sha", mcp.Required(), mcp.Description("Commit SHA or prefix (at least 4 chars)")),
	), s.handleGetLinkedSessions)

	return s
}

// ServeStdio runs the server over stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	if err := server.ServeStdio(s.mcp); err != nil {
		return fmt.Errorf("serving MCP: %w", err)
	}
	return nil
}

type sessionView struct {
	ID               string     `json:"id"`
	Tool             string     `json:"tool"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	WorkingDirectory string     `json:"working_directory"`
	GitBranch        string     `json:"git_branch,omitempty"`
	MessageCount     int        `json:"message_count"`
}

type messageView struct {
	Index     int       `json:"index"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

func viewSession(sess *model.Session) sessionView {
	return sessionView{
		ID:               sess.ID.String(),
		Tool:             sess.Tool,
		StartedAt:        sess.StartedAt,
		EndedAt:          sess.EndedAt,
		WorkingDirectory: sess.WorkingDirectory,
		GitBranch:        sess.GitBranch,
		MessageCount:     sess.MessageCount,
	}
}

func viewMessages(messages []model.Message) []messageView {
	views := make([]messageView, 0, len(messages))
	for _, msg := range messages {
		views = append(views, messageView{
			Index:     msg.Index,
			Role:      string(msg.Role),
			Timestamp: msg.Timestamp,
			Text:      msg.Content.Summary(messageSummaryLen),
		})
	}
	return views
}

func (s *Server) handleSearch(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	opts := model.SearchOptions{
		Limit: req.GetInt("limit", defaultListLimit),
		Tool:  req.GetString("tool", ""),
		Role:  model.Role(req.GetString("role", "")),
	}

	s.indexOnce.Do(func() { s.indexErr = s.store.EnsureSearchIndex() })
	if s.indexErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search index: %v", s.indexErr)), nil
	}
	results, err := s.store.SearchMessages(query, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"results": results, "count": len(results)})
}

func (s *Server) handleListSessions(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultListLimit)
	project := req.GetString("project", "")

	sessions, err := s.store.ListSessions(limit, project)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing sessions failed: %v", err)), nil
	}

	views := make([]sessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, viewSession(&sessions[i]))
	}
	return jsonResult(map[string]any{"sessions": views, "count": len(views)})
}

func (s *Server) handleGetSession(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idPrefix, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sess, err := s.store.FindSessionByIDPrefix(idPrefix)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("finding session: %v", err)), nil
	}
	messages, err := s.store.GetMessages(sess.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading messages: %v", err)), nil
	}

	payload := map[string]any{
		"session":  viewSession(sess),
		"messages": viewMessages(messages),
	}
	if summary, sumErr := s.store.GetSummary(sess.ID); sumErr == nil {
		payload["summary"] = summary.Content
	}
	if tags, tagErr := s.store.GetTags(sess.ID); tagErr == nil && len(tags) > 0 {
		payload["tags"] = tags
	}
	return jsonResult(payload)
}

func (s *Server) handleGetContext(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workingDirectory, err := req.RequireString("working_directory")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 5)

	sessions, err := s.store.ListSessions(limit, workingDirectory)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing sessions: %v", err)), nil
	}

	type contextEntry struct {
		Session sessionView   `json:"session"`
		Summary string        `json:"summary,omitempty"`
		Recent  []messageView `json:"recent_messages,omitempty"`
	}

	entries := make([]contextEntry, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		entry := contextEntry{Session: viewSession(sess)}
		if summary, sumErr := s.store.GetSummary(sess.ID); sumErr == nil {
			entry.Summary = summary.Content
		}
		messages, msgErr := s.store.GetMessages(sess.ID)
		if msgErr == nil {
			if len(messages) > 6 {
				messages = messages[len(messages)-6:]
			}
			entry.Recent = viewMessages(messages)
		}
		entries = append(entries, entry)
	}
	return jsonResult(map[string]any{"working_directory": workingDirectory, "sessions": entries})
}

func (s *Server) handleGetLinkedSessions(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sha, err := req.RequireString("commit_sha")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	links, err := s.store.GetLinksByCommit(sha)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("looking up links: %v", err)), nil
	}

	type linkedSession struct {
		Session    sessionView `json:"session"`
		LinkType   string      `json:"link_type"`
		CreatedBy  string      `json:"created_by"`
		Confidence *float64    `json:"confidence,omitempty"`
	}

	linked := make([]linkedSession, 0, len(links))
	for _, link := range links {
		sess, sessErr := s.store.GetSession(link.SessionID)
		if sessErr != nil {
			continue
		}
		linked = append(linked, linkedSession{
			Session:    viewSession(sess),
			LinkType:   string(link.LinkType),
			CreatedBy:  string(link.CreatedBy),
			Confidence: link.Confidence,
		})
	}
	return jsonResult(map[string]any{"commit_sha": sha, "sessions": linked})
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
