// Package cache decorates an embedder with a Redis-backed vector cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/research-assistant/internal/core/ports"
)

const keyPrefix = "embed:"

// RedisClient is the subset of go-redis the cache uses.
type RedisClient interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type Embedder struct {
	next      ports.Embedder
	redis     RedisClient
	namespace string
	ttl       time.Duration
	logger    *slog.Logger
}

// New wraps next. namespace should identify the embedding model so vectors
// of different models never mix.
func New(next ports.Embedder, client RedisClient, namespace string, ttl time.Duration) *Embedder {
	return &Embedder{
		next:      next,
		redis:     client,
		namespace: namespace,
		ttl:       ttl,
		logger:    slog.Default().With("component", "embedding_cache"),
	}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = e.key(t)
	}

	out := make([][]float32, len(texts))
	var missing []int
	cached, err := e.redis.MGet(ctx, keys...).Result()
	if err != nil {
		e.logger.Warn("embedding_cache_read_failed", "error", err)
		cached = nil
	}
	for i := range texts {
		if i < len(cached) {
			if vec, ok := decode(cached[i]); ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vectors, err := e.next.Embed(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(pending) {
		return nil, errors.New("embedder returned mismatched vector count")
	}
	for j, i := range missing {
		out[i] = vectors[j]
		e.store(ctx, keys[i], vectors[j])
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + e.namespace + ":" + hex.EncodeToString(sum[:])
}

func (e *Embedder) store(ctx context.Context, key string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := e.redis.Set(ctx, key, raw, e.ttl).Err(); err != nil {
		e.logger.Warn("embedding_cache_write_failed", "error", err)
	}
}

func decode(v any) ([]float32, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(s), &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}
