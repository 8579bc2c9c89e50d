package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func TestDocumentStoreHookFailureKeepsPreviousVersion(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()
	v1 := &domain.Document{ID: "d1", UserID: "u1", ChunkCount: 1}
	require.NoError(t, s.ReplaceDocument(ctx, v1, []domain.Chunk{{DocumentID: "d1", Text: "old"}}, nil))

	v2 := &domain.Document{ID: "d1", UserID: "u1", ChunkCount: 2}
	err := s.ReplaceDocument(ctx, v2, []domain.Chunk{{Text: "a"}, {Text: "b"}}, func(context.Context) error {
		return errors.New("index down")
	})
	require.Error(t, err)

	got, err := s.GetDocument(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ChunkCount)
	chunks, err := s.ListChunks(ctx, "u1", "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "old", chunks[0].Text)
}

func TestDocumentStoreScopesByUser(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()
	require.NoError(t, s.ReplaceDocument(ctx, &domain.Document{ID: "d1", UserID: "u1"}, nil, nil))

	_, err := s.GetDocument(ctx, "u2", "d1")
	assert.True(t, domain.IsKind(err, domain.ErrDocumentNotFound))

	err = s.DeleteDocument(ctx, "u2", "d1", nil)
	assert.True(t, domain.IsKind(err, domain.ErrDocumentNotFound))

	docs, err := s.ListDocuments(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDocumentStoreListsNewestFirst(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.ReplaceDocument(ctx, &domain.Document{ID: "old", UserID: "u", CreatedAt: base}, nil, nil))
	require.NoError(t, s.ReplaceDocument(ctx, &domain.Document{ID: "new", UserID: "u", CreatedAt: base.Add(time.Hour)}, nil, nil))

	docs, err := s.ListDocuments(ctx, "u")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "new", docs[0].ID)
}

func TestChatStoreRejectsInvalidPairAtomically(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	err := s.AppendTurns(ctx, "u1",
		domain.ChatTurn{Role: domain.RoleUser, Content: "q"},
		domain.ChatTurn{Role: "robot", Content: "a"},
	)
	require.Error(t, err)

	turns, err := s.RecentTurns(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestChatStoreRecentTurnsKeepsOrder(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	for _, c := range []string{"q1", "a1", "q2", "a2"} {
		role := domain.RoleUser
		if c[0] == 'a' {
			role = domain.RoleAssistant
		}
		require.NoError(t, s.AppendTurns(ctx, "u1", domain.ChatTurn{Role: role, Content: c}))
	}

	turns, err := s.RecentTurns(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "a1", turns[0].Content)
	assert.Equal(t, "a2", turns[2].Content)
}

func TestUploadStoreStatusTransitions(t *testing.T) {
	s := NewUploadStore()
	ctx := context.Background()
	require.NoError(t, s.CreateUpload(ctx, &domain.Upload{ID: "up1", Status: domain.StatusUploaded}))
	require.NoError(t, s.UpdateUploadStatus(ctx, "up1", domain.StatusReady, "doc-1", ""))

	got, err := s.GetUpload(ctx, "up1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, got.Status)
	assert.Equal(t, "doc-1", got.DocumentID)

	err = s.UpdateUploadStatus(ctx, "missing", domain.StatusFailed, "", "x")
	assert.True(t, domain.IsKind(err, domain.ErrDocumentNotFound))
}

func TestDocumentStoreKeepsText(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()
	doc := &domain.Document{ID: "d1", UserID: "u1", Text: "full extracted text"}
	require.NoError(t, s.ReplaceDocument(ctx, doc, nil, nil))

	got, err := s.GetDocument(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, "full extracted text", got.Text)

	docs, err := s.ListDocuments(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Empty(t, docs[0].Text)
}
