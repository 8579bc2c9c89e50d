package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	data    map[string]string
	mgetErr error
	sets    int
}

func (f *fakeRedis) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	if f.mgetErr != nil {
		return redis.NewSliceResult(nil, f.mgetErr)
	}
	vals := make([]any, len(keys))
	for i, k := range keys {
		if v, ok := f.data[k]; ok {
			vals[i] = v
		}
	}
	return redis.NewSliceResult(vals, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.sets++
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

type countingEmbedder struct {
	calls [][]string
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := c.Embed(ctx, []string{text})
	return v[0], err
}

func TestEmbedCachesMisses(t *testing.T) {
	rdb := &fakeRedis{data: map[string]string{}}
	next := &countingEmbedder{}
	e := New(next, rdb, "nomic", time.Hour)

	first, err := e.Embed(context.Background(), []string{"alpha", "be"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{5, 1}, {2, 1}}, first)
	assert.Equal(t, 2, rdb.sets)

	second, err := e.Embed(context.Background(), []string{"be", "gamma"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {5, 1}}, second)
	require.Len(t, next.calls, 2)
	assert.Equal(t, []string{"gamma"}, next.calls[1])
}

func TestEmbedFallsThroughWhenRedisFails(t *testing.T) {
	rdb := &fakeRedis{data: map[string]string{}, mgetErr: errors.New("connection refused")}
	next := &countingEmbedder{}
	e := New(next, rdb, "nomic", time.Hour)

	vec, err := e.EmbedQuery(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, vec)
	assert.Len(t, next.calls, 1)
}

func TestKeysAreNamespacedByModel(t *testing.T) {
	a := New(nil, nil, "model-a", 0).key("text")
	b := New(nil, nil, "model-b", 0).key("text")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "embed:model-a:")
}
