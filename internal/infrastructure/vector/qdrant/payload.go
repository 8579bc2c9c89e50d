package qdrant

import (
	"fmt"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func userFilter(userID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "user_id", "match": map[string]any{"value": userID}},
		},
	}
}

func documentFilter(userID, documentID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "user_id", "match": map[string]any{"value": userID}},
			{"key": "doc_id", "match": map[string]any{"value": documentID}},
		},
	}
}

func chunkPayload(userID string, ch domain.Chunk) map[string]any {
	payload := map[string]any{
		"user_id":      userID,
		"doc_id":       ch.DocumentID,
		"chunk_id":     ch.ID,
		"chunk_index":  ch.Index,
		"start_offset": ch.StartOffset,
		"text":         ch.Text,
		"title":        ch.Metadata.Title,
		"authors":      ch.Metadata.Authors,
		"page_count":   ch.Metadata.PageCount,
	}
	if ch.Metadata.CreationDate != nil {
		payload["creation_date"] = ch.Metadata.CreationDate.Format(time.RFC3339)
	}
	if ch.Metadata.ModificationDate != nil {
		payload["modification_date"] = ch.Metadata.ModificationDate.Format(time.RFC3339)
	}
	return payload
}

func chunkFromPayload(payload map[string]any) domain.Chunk {
	ch := domain.Chunk{
		ID:          getStringPayload(payload, "chunk_id"),
		DocumentID:  getStringPayload(payload, "doc_id"),
		UserID:      getStringPayload(payload, "user_id"),
		Index:       getIntPayload(payload, "chunk_index"),
		StartOffset: getIntPayload(payload, "start_offset"),
		Text:        getStringPayload(payload, "text"),
		Metadata: domain.Metadata{
			Title:     getStringPayload(payload, "title"),
			Authors:   getStringSlicePayload(payload, "authors"),
			PageCount: getIntPayload(payload, "page_count"),
		},
	}
	ch.Metadata.CreationDate = getTimePayload(payload, "creation_date")
	ch.Metadata.ModificationDate = getTimePayload(payload, "modification_date")
	return ch
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func getStringSlicePayload(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getTimePayload(payload map[string]any, key string) *time.Time {
	s := getStringPayload(payload, key)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
