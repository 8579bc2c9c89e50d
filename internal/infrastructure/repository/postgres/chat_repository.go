package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// ChatRepository stores chat sessions as an append-only turn log per user.
type ChatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) AppendTurns(ctx context.Context, userID string, turns ...domain.ChatTurn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, turn := range turns {
		if !turn.Role.Valid() {
			return domain.WrapError(domain.ErrInvalidInput, "append chat turns", fmt.Errorf("unknown role %q", turn.Role))
		}
		sources := turn.Sources
		if sources == nil {
			sources = []domain.Source{}
		}
		sourcesJSON, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("marshal sources: %w", err)
		}
		createdAt := turn.Timestamp
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO chat_turns (user_id, role, content, sources, created_at)
VALUES ($1,$2,$3,$4,$5)
`, userID, string(turn.Role), turn.Content, sourcesJSON, createdAt)
		if err != nil {
			return fmt.Errorf("insert chat turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

func (r *ChatRepository) RecentTurns(ctx context.Context, userID string, limit int) ([]domain.ChatTurn, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, `
SELECT user_id, role, content, sources, created_at
FROM chat_turns
WHERE user_id = $1
ORDER BY id DESC
LIMIT $2
`, userID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
SELECT user_id, role, content, sources, created_at
FROM chat_turns
WHERE user_id = $1
ORDER BY id ASC
`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list chat turns: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ChatTurn, 0)
	for rows.Next() {
		var (
			turn       domain.ChatTurn
			role       string
			sourcesRaw []byte
		)
		if err := rows.Scan(&turn.UserID, &role, &turn.Content, &sourcesRaw, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat turn: %w", err)
		}
		turn.Role = domain.Role(role)
		if err := json.Unmarshal(sourcesRaw, &turn.Sources); err != nil {
			return nil, fmt.Errorf("unmarshal sources: %w", err)
		}
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat turns: %w", err)
	}

	if limit > 0 {
		// Returned in descending order from SQL; reverse to keep chronological order.
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}
