package stdio

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServerScript is a line-oriented MCP server good enough for handshake,
// discovery and a single tool.
const fakeServerScript = `
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  case "$line" in
    *'"method":"initialize"'*)
      printf '{"jsonrpc":"2.0","id":"%s","result":{"protocolVersion":"2024-11-05","capabilities":{"tools":{}}}}\n' "$id";;
    *'"method":"notifications/initialized"'*)
      :;;
    *'"method":"tools/list"'*)
      printf '{"jsonrpc":"2.0","id":"%s","result":{"tools":[{"name":"ping","description":"replies with pong"}]}}\n' "$id";;
    *'"method":"tools/call"'*)
      printf '{"jsonrpc":"2.0","id":"%s","result":{"content":[{"type":"text","text":"pong"}]}}\n' "$id";;
  esac
done
`

func startFakeServer(t *testing.T) *Session {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	s, err := Start(Options{Command: "bash", Args: []string{"-c", fakeServerScript}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHandshakeAndDiscovery(t *testing.T) {
	s := startFakeServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, s.Initialize(ctx))
	// Second Initialize is a no-op.
	require.NoError(t, s.Initialize(ctx))

	tools, err := s.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "ping", tools[0].Name)
}

func TestCallTool(t *testing.T) {
	s := startFakeServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, s.Initialize(ctx))

	result, err := s.CallTool(ctx, "ping", map[string]interface{}{})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "pong", text.Text)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := startFakeServer(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	// Operations after close fail instead of hanging.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.ListTools(ctx)
	assert.Error(t, err)
}

func TestParseCallToolResult(t *testing.T) {
	raw := json.RawMessage(`{
		"content": [
			{"type":"text","text":"hello"},
			{"type":"image","data":"abcd","mimeType":"image/png"},
			{"type":"resource","uri":"file:///x"}
		],
		"isError": true
	}`)

	var result mcp.CallToolResult
	require.NoError(t, parseCallToolResult(raw, &result))

	assert.True(t, result.IsError)
	require.Len(t, result.Content, 3)
	assert.IsType(t, mcp.TextContent{}, result.Content[0])
	assert.IsType(t, mcp.ImageContent{}, result.Content[1])
	// Unknown part kinds are preserved as text.
	assert.IsType(t, mcp.TextContent{}, result.Content[2])
}

func TestChildEnvMergesExtra(t *testing.T) {
	env := ChildEnv(map[string]string{"API_KEY": "secret"})
	assert.Contains(t, env, "API_KEY=secret")
}

func TestStderrFatalDetection(t *testing.T) {
	s := &Session{}
	s.stderrTail = []string{"warming up", "FATAL: cannot bind"}
	assert.True(t, s.stderrLooksFatal())

	s.stderrTail = []string{"listening on stdio"}
	assert.False(t, s.stderrLooksFatal())
}
