package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceify/voiceify/internal/jobs"
	"github.com/voiceify/voiceify/pkg/types"
)

type fakeSubmitter struct {
	text, voice string
	err         error
}

func (f *fakeSubmitter) SubmitText(text, voice string) (string, error) {
	f.text, f.voice = text, voice
	if f.err != nil {
		return "", f.err
	}
	return "job-42", nil
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	handler := s.ToolHandler(name)
	require.NotNil(t, handler, "tool %s not registered", name)

	result, err := handler(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content type %T", result.Content[0])
	return ""
}

func TestServer_ToolNames(t *testing.T) {
	s := NewServer(jobs.NewStore(), &fakeSubmitter{}, "test")
	assert.Equal(t, []string{ToolConvertText, ToolGetJobStatus}, s.ToolNames())
	assert.Nil(t, s.ToolHandler("processImageWorkflow"))
	assert.NotNil(t, s.GetMCPServer())
}

func TestConvertText(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewServer(jobs.NewStore(), sub, "test")

	result := callTool(t, s, ToolConvertText, map[string]any{"text": "Read me", "voice": "en-US-GuyNeural"})

	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "job-42")
	assert.Contains(t, resultText(t, result), "GET /jobs/job-42/stream")
	assert.Equal(t, "Read me", sub.text)
	assert.Equal(t, "en-US-GuyNeural", sub.voice)
}

func TestConvertText_Errors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		err  error
	}{
		{name: "missing text", args: map[string]any{}},
		{name: "rejected", args: map[string]any{"text": "x"}, err: errors.New("Unknown voice")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(jobs.NewStore(), &fakeSubmitter{err: tt.err}, "test")
			result := callTool(t, s, ToolConvertText, tt.args)
			assert.True(t, result.IsError)
		})
	}
}

func TestGetJobStatus(t *testing.T) {
	store := jobs.NewStore()
	require.NoError(t, store.Create(&types.Job{
		ID: "job-1", Status: types.StatusGenerating, Progress: 75, Message: "Synthesizing audio (75%)...",
	}))
	s := NewServer(store, &fakeSubmitter{}, "test")

	result := callTool(t, s, ToolGetJobStatus, map[string]any{"job_id": "job-1"})
	require.False(t, result.IsError)

	var snap types.JobSnapshot
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &snap))
	assert.Equal(t, types.StatusGenerating, snap.Status)
	assert.Equal(t, 75, snap.Progress)

	result = callTool(t, s, ToolGetJobStatus, map[string]any{"job_id": "nope"})
	assert.True(t, result.IsError)
	assert.Equal(t, "Job not found", resultText(t, result))
}
