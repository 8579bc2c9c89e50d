package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const defaultCitationLimit = 20

type passageOutput struct {
	DocumentID string   `json:"document_id"`
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	Index      int      `json:"chunk_index"`
	Score      float64  `json:"score"`
	Text       string   `json:"text"`
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("search_papers",
		mcp.WithDescription("Find passages in the user's papers that are relevant to a query"),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("owner of the corpus")),
		mcp.WithString("query", mcp.Required(), mcp.Description("natural language query")),
		mcp.WithNumber("k", mcp.Description("maximum number of passages")),
	), s.handleSearch)

	if s.svc.Chat != nil {
		s.server.AddTool(mcp.NewTool("ask_papers",
			mcp.WithDescription("Answer a question from the user's papers and cite the sources used"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("owner of the corpus")),
			mcp.WithString("question", mcp.Required(), mcp.Description("question to answer")),
		), s.handleAsk)
	}

	if s.svc.Library != nil {
		s.server.AddTool(mcp.NewTool("list_documents",
			mcp.WithDescription("List the user's ingested papers"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("owner of the corpus")),
		), s.handleListDocuments)
	}

	if s.svc.Citations != nil {
		s.server.AddTool(mcp.NewTool("list_citations",
			mcp.WithDescription("List the works most often cited across the user's papers"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("owner of the corpus")),
			mcp.WithNumber("limit", mcp.Description("maximum number of references")),
		), s.handleListCitations)
	}
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	k := req.GetInt("k", s.svc.DefaultK)

	hits, err := s.svc.Retriever.Query(ctx, userID, query, k)
	if err != nil {
		return toolError("search papers", err)
	}
	out := make([]passageOutput, 0, len(hits))
	for _, hit := range hits {
		out = append(out, passageOutput{
			DocumentID: hit.Chunk.DocumentID,
			Title:      hit.Chunk.Metadata.Title,
			Authors:    hit.Chunk.Metadata.Authors,
			Index:      hit.Chunk.Index,
			Score:      hit.Score,
			Text:       hit.Chunk.Text,
		})
	}
	return jsonResult(map[string]any{"results": out, "count": len(out)})
}

func (s *Server) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	reply, err := s.svc.Chat.ProcessMessage(ctx, domain.ChatRequest{UserID: userID, Message: question})
	if err != nil {
		return toolError("ask papers", err)
	}
	if reply.Sources == nil {
		reply.Sources = []domain.Source{}
	}
	return jsonResult(reply)
}

func (s *Server) handleListDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	docs, err := s.svc.Library.ListDocuments(ctx, userID)
	if err != nil {
		return toolError("list documents", err)
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return jsonResult(map[string]any{"documents": docs})
}

func (s *Server) handleListCitations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	refs, err := s.svc.Citations.TopReferences(ctx, userID, req.GetInt("limit", defaultCitationLimit))
	if err != nil {
		return toolError("list citations", err)
	}
	return jsonResult(map[string]any{"references": refs})
}

// toolError reports caller mistakes as tool results the model can read and
// surfaces everything else as protocol errors.
func toolError(op string, err error) (*mcp.CallToolResult, error) {
	if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrEmptyIndex) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, fmt.Errorf("%s: %w", op, err)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
