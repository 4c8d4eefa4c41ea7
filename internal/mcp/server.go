// Package mcp exposes conversion jobs as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/voiceify/voiceify/internal/jobs"
)

// Tool names
const (
	ToolConvertText  = "convert_text"
	ToolGetJobStatus = "get_job_status"
)

// Submitter starts conversion jobs
type Submitter interface {
	SubmitText(text, voice string) (string, error)
}

// Server wraps the mark3labs MCP server
type Server struct {
	mcpServer *server.MCPServer
	jobStore  jobs.JobStore
	submitter Submitter
	handlers  map[string]server.ToolHandlerFunc
}

// NewServer creates the MCP server and registers the conversion tools
func NewServer(jobStore jobs.JobStore, submitter Submitter, version string) *Server {
	s := &Server{
		jobStore:  jobStore,
		submitter: submitter,
		handlers:  make(map[string]server.ToolHandlerFunc),
	}

	s.mcpServer = server.NewMCPServer(
		"voiceify",
		version,
		server.WithToolCapabilities(false), // Tools don't change at runtime
	)

	s.register(mcp.NewTool(
		ToolConvertText,
		mcp.WithDescription("Convert text to speech. Returns a job ID; audio is available once the job is done."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to read aloud"),
		),
		mcp.WithString("voice",
			mcp.Description("Voice name (default: server default voice)"),
		),
	), s.handleConvertText)

	s.register(mcp.NewTool(
		ToolGetJobStatus,
		mcp.WithDescription("Get the status, progress and message of a conversion job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID returned by convert_text or an upload"),
		),
	), s.handleGetJobStatus)

	return s
}

func (s *Server) register(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
	s.handlers[tool.Name] = handler
}

// ToolHandler returns the handler of a registered tool, or nil
func (s *Server) ToolHandler(name string) server.ToolHandlerFunc {
	return s.handlers[name]
}

// ToolNames lists the registered tools
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) handleConvertText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	voice := request.GetString("voice", "")

	jobID, err := s.submitter.SubmitText(text, voice)
	if err != nil {
		slog.Warn("convert_text rejected", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	message := fmt.Sprintf(
		"Job created successfully with ID: %s\n\nUse the following endpoints:\n"+
			"- Status: GET /jobs/%s\n"+
			"- Real-time updates: GET /jobs/%s/stream (SSE)\n"+
			"- Audio: GET /jobs/%s/audio",
		jobID, jobID, jobID, jobID,
	)
	return mcp.NewToolResultText(message), nil
}

func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	job, err := s.jobStore.Get(jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		return mcp.NewToolResultError("Job not found"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	body, err := json.Marshal(job.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job status: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

// GetMCPServer returns the underlying MCP server for HTTP integration
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
