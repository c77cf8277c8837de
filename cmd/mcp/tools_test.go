package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	chfslib "github.com/AnishMulay/chfs/clients/library"
	"github.com/AnishMulay/chfs/clients/library/chfstest"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := &MCPConfig{
		Servers:       []ServerEntry{{ID: "local", Endpoint: "bufnet"}, {ID: "down", Endpoint: "ftp://nowhere"}},
		DefaultServer: "local",
	}
	r := NewRegistry(cfg, log_service.Nop(), chfslib.WithRequestTimeout(time.Second))
	r.sessions["local"] = chfstest.NewSession(t)
	return r
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := handler(t.Context(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func TestToolsRoundTrip(t *testing.T) {
	r := newTestRegistry(t)

	_, isErr := call(t, r.handleMkdir, map[string]any{"path": "/docs"})
	require.False(t, isErr)

	out, isErr := call(t, r.handleWriteFile, map[string]any{"path": "/docs/a.txt", "content": "hello"})
	require.False(t, isErr, out)
	assert.Contains(t, out, "Wrote 5 bytes")

	_, isErr = call(t, r.handleWriteFile, map[string]any{"path": "/docs/a.txt", "content": " world", "append": true})
	require.False(t, isErr)

	out, isErr = call(t, r.handleReadFile, map[string]any{"path": "/docs/a.txt"})
	require.False(t, isErr)
	assert.Equal(t, "hello world", out)

	out, isErr = call(t, r.handleReadFile, map[string]any{"path": "/docs/a.txt", "offset": float64(6), "length": float64(3)})
	require.False(t, isErr)
	assert.Equal(t, "wor", out)

	out, isErr = call(t, r.handleStat, map[string]any{"path": "/docs/a.txt"})
	require.False(t, isErr)
	assert.Contains(t, out, "11 bytes")

	out, isErr = call(t, r.handleListDir, map[string]any{"path": "/docs"})
	require.False(t, isErr)
	assert.Contains(t, out, "a.txt\tfile")

	_, isErr = call(t, r.handleRename, map[string]any{"from": "/docs/a.txt", "to": "/b.txt"})
	require.False(t, isErr)

	out, isErr = call(t, r.handleListDir, map[string]any{"path": "/docs"})
	require.False(t, isErr)
	assert.Equal(t, "/docs is empty", out)

	_, isErr = call(t, r.handleRemove, map[string]any{"path": "/docs"})
	require.False(t, isErr)
	_, isErr = call(t, r.handleRemove, map[string]any{"path": "/b.txt"})
	require.False(t, isErr)

	out, isErr = call(t, r.handleStat, map[string]any{"path": "/b.txt"})
	assert.True(t, isErr)
	assert.Contains(t, out, "no such file or directory")
}

func TestToolErrors(t *testing.T) {
	r := newTestRegistry(t)

	_, isErr := call(t, r.handleStat, map[string]any{})
	assert.True(t, isErr)

	out, isErr := call(t, r.handleStat, map[string]any{"path": "/", "server": "missing"})
	assert.True(t, isErr)
	assert.Contains(t, out, "server missing not found")

	_, isErr = call(t, r.handleStat, map[string]any{"path": "/", "server": "down"})
	assert.True(t, isErr)

	out, isErr = call(t, r.handleListServers, nil)
	assert.False(t, isErr)
	assert.Contains(t, out, "- down: ftp://nowhere")
	assert.Contains(t, out, "Default server: local")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mcp.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "server1", cfg.DefaultServer)
	assert.FileExists(t, path)

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)

	require.NoError(t, os.WriteFile(path, []byte("servers:\n  - id: a\n    endpoint: http://a:1\nrequest_timeout: 5s\n"), 0o644))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "a", cfg.DefaultServer)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "info", cfg.LogLevel)

	require.NoError(t, os.WriteFile(path, []byte("default_server: x\n"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
	require.NoError(t, os.WriteFile(path, []byte("servers:\n  - id: a\n    endpoint: http://a:1\ndefault_server: x\n"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, `default_server "x"`)

	require.NoError(t, os.WriteFile(path, []byte("servers:\n  - id: a\n    endpoint: http://a:1\n  - id: b\n    endpoint: http://b:1\ndefault_server: b\n"), 0o644))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "b", cfg.DefaultServer)
}
