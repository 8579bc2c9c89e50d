// Package mcpadapter exposes the research corpus to MCP clients over stdio.
package mcpadapter

import (
	"context"
	"errors"
	"io"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/research-assistant/internal/core/ports"
	"github.com/kirillkom/research-assistant/internal/infrastructure/graph/citations"
)

const (
	serverName    = "research-assistant"
	serverVersion = "1.0.0"
)

var ErrMissingRetriever = errors.New("mcp: retriever is required")

// CitationIndex lists the works a user's papers cite most often.
type CitationIndex interface {
	TopReferences(ctx context.Context, userID string, limit int) ([]citations.Reference, error)
}

type Services struct {
	Retriever ports.Retriever
	Chat      ports.ChatService
	Library   ports.DocumentLibrary
	// Citations is optional; list_citations is only offered when set.
	Citations CitationIndex
	// DefaultK applies when a search omits k.
	DefaultK int
}

type Server struct {
	svc    Services
	server *server.MCPServer
}

func NewServer(svc Services) (*Server, error) {
	if svc.Retriever == nil {
		return nil, ErrMissingRetriever
	}
	if svc.DefaultK <= 0 {
		svc.DefaultK = 5
	}
	s := &Server{
		svc:    svc,
		server: server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s, nil
}

// Serve speaks JSON-RPC over the given streams until ctx is done or in
// reaches EOF.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.server).Listen(ctx, in, out)
}
