package api

import (
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/voiceify/voiceify/internal/metrics"
)

// Routes registers every gateway endpoint on a new mux
func (h *Handler) Routes(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/upload", h.HandleUpload)
	mux.HandleFunc("/upload-text", h.HandleUploadText)
	mux.HandleFunc("/jobs/", h.HandleJobs)
	mux.HandleFunc("/health", h.HandleHealth)

	if h.tools != nil {
		// MCP endpoint using mark3labs/mcp-go built-in HTTP handler
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(h.tools.GetMCPServer()))
		mux.HandleFunc("/tools/call", h.HandleToolCall)
	}

	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	return mux
}
