package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	chfslib "github.com/AnishMulay/chfs/clients/library"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const maxReadLength = 1 << 20

func serverArg() mcp.ToolOption {
	return mcp.WithString("server", mcp.Description("Server id from the config; defaults to the default server"))
}

func pathArg() mcp.ToolOption {
	return mcp.WithString("path", mcp.Required(), mcp.Description("Absolute CHFS path"))
}

func addTools(s *server.MCPServer, r *Registry) {
	s.AddTool(mcp.NewTool("list_servers",
		mcp.WithDescription("List the configured CHFS servers"),
	), r.handleListServers)

	s.AddTool(mcp.NewTool("stat",
		mcp.WithDescription("Show the metadata of a file or directory"),
		pathArg(), serverArg(),
	), r.handleStat)

	s.AddTool(mcp.NewTool("list_dir",
		mcp.WithDescription("List the entries of a directory"),
		pathArg(), serverArg(),
	), r.handleListDir)

	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read a file as text"),
		pathArg(),
		mcp.WithNumber("offset", mcp.Description("Byte offset to start at")),
		mcp.WithNumber("length", mcp.Description("Maximum bytes to read")),
		serverArg(),
	), r.handleReadFile)

	s.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Create or replace a file with text content"),
		pathArg(),
		mcp.WithString("content", mcp.Required(), mcp.Description("Content to write")),
		mcp.WithBoolean("append", mcp.Description("Append instead of replacing")),
		serverArg(),
	), r.handleWriteFile)

	s.AddTool(mcp.NewTool("mkdir",
		mcp.WithDescription("Create a directory"),
		pathArg(), serverArg(),
	), r.handleMkdir)

	s.AddTool(mcp.NewTool("remove",
		mcp.WithDescription("Remove a file or an empty directory"),
		pathArg(), serverArg(),
	), r.handleRemove)

	s.AddTool(mcp.NewTool("rename",
		mcp.WithDescription("Rename a file or directory"),
		mcp.WithString("from", mcp.Required(), mcp.Description("Existing path")),
		mcp.WithString("to", mcp.Required(), mcp.Description("New path")),
		serverArg(),
	), r.handleRename)
}

// target resolves the session and required path argument of a request.
func (r *Registry) target(ctx context.Context, request mcp.CallToolRequest, key string) (*chfslib.Session, string, error) {
	path, err := request.RequireString(key)
	if err != nil {
		return nil, "", err
	}
	s, err := r.Session(ctx, request.GetString("server", ""))
	if err != nil {
		return nil, "", err
	}
	return s, path, nil
}

func (r *Registry) handleListServers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	b.WriteString("Available servers:\n")
	for _, line := range r.List() {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	fmt.Fprintf(&b, "Default server: %s\n", r.defaultServer)
	return mcp.NewToolResultText(b.String()), nil
}

func formatStat(name string, st chfslib.Stat) string {
	kind := "file"
	if st.IsDir() {
		kind = "dir"
	}
	return fmt.Sprintf("%s\t%s\t%s\t%d bytes\tino %d\tmtime %s",
		name, kind, st.FileMode(), st.Size, st.Ino, st.Mtime.UTC().Format(time.RFC3339))
}

func (r *Registry) handleStat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, path, err := r.target(ctx, request, "path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := s.Stat(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatStat(path, st)), nil
}

func (r *Registry) handleListDir(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, path, err := r.target(ctx, request, "path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var lines []string
	for e, err := range s.ReadDir(ctx, path) {
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		lines = append(lines, formatStat(e.Name, e.Stat))
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("%s is empty", path)), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (r *Registry) handleReadFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, path, err := r.target(ctx, request, "path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	offset := int64(request.GetInt("offset", 0))
	length := request.GetInt("length", maxReadLength)
	if length <= 0 || length > maxReadLength {
		length = maxReadLength
	}

	fd, err := s.Open(ctx, path, os.O_RDONLY)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer s.Close(ctx, fd)

	buf := make([]byte, length)
	n, err := s.PRead(ctx, fd, buf, offset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(buf[:n])), nil
}

func (r *Registry) handleWriteFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, path, err := r.target(ctx, request, "path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if request.GetBool("append", false) {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	fd, err := s.OpenFile(ctx, path, flags, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.Write(ctx, fd, []byte(content))
	if cerr := s.Close(ctx, fd); err == nil {
		err = cerr
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Wrote %d bytes to %s", n, path)), nil
}

func (r *Registry) handleMkdir(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, path, err := r.target(ctx, request, "path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.Mkdir(ctx, path, 0); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Created %s", path)), nil
}

func (r *Registry) handleRemove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, path, err := r.target(ctx, request, "path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := s.Stat(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if st.IsDir() {
		err = s.Rmdir(ctx, path)
	} else {
		err = s.Unlink(ctx, path)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Removed %s", path)), nil
}

func (r *Registry) handleRename(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, from, err := r.target(ctx, request, "from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := request.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.Rename(ctx, from, to); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Renamed %s to %s", from, to)), nil
}
