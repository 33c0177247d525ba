package mcp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
)

// File size threshold for direct content return (1MB)
const maxContentSize = 1024 * 1024

// registerFileTools registers the SFTP transfer tools.
func (s *Server) registerFileTools() {
	s.mcpServer.AddTool(fileGetTool(), s.handleFileGet)
	s.mcpServer.AddTool(filePutTool(), s.handleFilePut)
}

func fileGetTool() mcp.Tool {
	return mcp.NewTool("file_get",
		mcp.WithDescription(`Download a file over SFTP on an existing connection.

Files up to 1MB are returned in the response. Larger files need local_path, which
saves the file on this machine instead.`),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
		mcp.WithString("remote_path",
			mcp.Required(),
			mcp.Description("Path to the file on the server"),
		),
		mcp.WithString("encoding",
			mcp.Description("Content encoding: 'text' (default) or 'base64' for binary files"),
			mcp.DefaultString("text"),
		),
		mcp.WithString("local_path",
			mcp.Description("Local path to save the file to"),
		),
	)
}

func filePutTool() mcp.Tool {
	return mcp.NewTool("file_put",
		mcp.WithDescription(`Upload a file over SFTP on an existing connection.

Provide either content (text or base64) or local_path to upload a file from this
machine. Missing remote directories are created.`),
		mcp.WithString("connection_id",
			mcp.Required(),
			mcp.Description(descConnectionID),
		),
		mcp.WithString("remote_path",
			mcp.Required(),
			mcp.Description("Destination path on the server"),
		),
		mcp.WithString("content",
			mcp.Description("File content"),
		),
		mcp.WithString("encoding",
			mcp.Description("Content encoding: 'text' (default) or 'base64'"),
			mcp.DefaultString("text"),
		),
		mcp.WithString("local_path",
			mcp.Description("Local file to upload instead of content"),
		),
		mcp.WithString("mode",
			mcp.Description("Octal file mode (default: '0644')"),
		),
	)
}

func (s *Server) handleFileGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID := mcp.ParseString(req, "connection_id", "")
	remotePath := mcp.ParseString(req, "remote_path", "")
	encoding := mcp.ParseString(req, "encoding", "text")
	localPath := mcp.ParseString(req, "local_path", "")

	if connID == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}
	if remotePath == "" {
		return mcp.NewToolResultError(errRemotePathRequired), nil
	}
	if encoding != "text" && encoding != "base64" {
		return mcp.NewToolResultError(fmt.Sprintf("unknown encoding %q", encoding)), nil
	}

	var buf bytes.Buffer
	n, err := s.manager.Get(connID, remotePath, &buf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get %s: %v", remotePath, err)), nil
	}
	data := buf.Bytes()

	result := map[string]any{
		"remote_path": remotePath,
		"size":        n,
		"checksum":    checksum(data),
	}

	if localPath != "" {
		if err := s.fs.WriteFile(localPath, data, 0o644); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("write local file: %v", err)), nil
		}
		s.logger.Info("file downloaded",
			slog.String("remote_path", remotePath),
			slog.String("local_path", localPath),
			slog.Int64("size", n),
		)
		result["local_path"] = localPath
		return jsonResult(result)
	}

	if len(data) > maxContentSize {
		return mcp.NewToolResultError(fmt.Sprintf(
			"file is %d bytes, over the %d byte inline limit; use local_path", len(data), maxContentSize,
		)), nil
	}
	if encoding == "base64" {
		result["content"] = base64.StdEncoding.EncodeToString(data)
	} else {
		result["content"] = string(data)
	}
	result["encoding"] = encoding
	return jsonResult(result)
}

func (s *Server) handleFilePut(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID := mcp.ParseString(req, "connection_id", "")
	remotePath := mcp.ParseString(req, "remote_path", "")
	content := mcp.ParseString(req, "content", "")
	encoding := mcp.ParseString(req, "encoding", "text")
	localPath := mcp.ParseString(req, "local_path", "")
	modeStr := mcp.ParseString(req, "mode", "")

	if connID == "" {
		return mcp.NewToolResultError(errConnectionIDRequired), nil
	}
	if remotePath == "" {
		return mcp.NewToolResultError(errRemotePathRequired), nil
	}
	if content != "" && localPath != "" {
		return mcp.NewToolResultError("use either content or local_path, not both"), nil
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := s.putData(content, encoding, localPath)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	n, err := s.manager.Put(connID, bytes.NewReader(data), remotePath, mode)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("put %s: %v", remotePath, err)), nil
	}

	s.logger.Info("file uploaded",
		slog.String("remote_path", remotePath),
		slog.Int64("size", n),
	)

	return jsonResult(map[string]any{
		"remote_path": remotePath,
		"size":        n,
		"mode":        fmt.Sprintf("%04o", mode),
		"checksum":    checksum(data),
	})
}

// putData resolves the bytes to upload from inline content or a local file.
func (s *Server) putData(content, encoding, localPath string) ([]byte, error) {
	if localPath != "" {
		data, err := s.fs.ReadFile(localPath)
		if err != nil {
			return nil, fmt.Errorf(errOpenLocalFile, err)
		}
		return data, nil
	}
	switch encoding {
	case "", "text":
		return []byte(content), nil
	case "base64":
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("decode base64 content: %v", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unknown encoding %q", encoding)
}

func parseMode(s string) (os.FileMode, error) {
	if s == "" {
		return 0o644, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q: want octal such as 0644", s)
	}
	return os.FileMode(v), nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
