package cache_test

import (
	"context"
	"testing"
	"time"

	"clinic-arrivals/internal/queue/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

func setupBoard(t *testing.T) (*cache.Board, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &cache.Board{Client: client, TTL: 10 * time.Second}, mr
}

func TestBoardMiss(t *testing.T) {
	board, _ := setupBoard(t)
	ctx := context.Background()

	payload, ok, err := board.Get(ctx, "prenatal")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, payload)
}

func TestBoardSetAndGet(t *testing.T) {
	board, mr := setupBoard(t)
	ctx := context.Background()

	payload := []byte(`{"success":true}`)
	assert.NoError(t, board.Set(ctx, "prenatal", payload))

	cached, ok, err := board.Get(ctx, "prenatal")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, cached)

	// Categories are cached independently
	_, ok, err = board.Get(ctx, "postnatal")
	assert.NoError(t, err)
	assert.False(t, ok)

	// The entry expires on its own
	mr.FastForward(11 * time.Second)
	_, ok, err = board.Get(ctx, "prenatal")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestBoardInvalidate(t *testing.T) {
	board, _ := setupBoard(t)
	ctx := context.Background()

	assert.NoError(t, board.Set(ctx, "prenatal", []byte("cached")))
	assert.NoError(t, board.Invalidate(ctx, "prenatal"))

	_, ok, err := board.Get(ctx, "prenatal")
	assert.NoError(t, err)
	assert.False(t, ok)
}
