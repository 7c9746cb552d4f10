package cache

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultBoardTTL = 10 * time.Second

// Board is a short-TTL cache of the arrival-board payload per queue
// category. The entry points invalidate it after any committed transition,
// and the TTL covers writes this process never saw.
type Board struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewBoard(client *redis.Client) *Board {
	return &Board{Client: client, TTL: boardTTLFromEnv()}
}

// boardTTLFromEnv reads BOARD_CACHE_TTL_SECONDS, falling back to 10s.
func boardTTLFromEnv() time.Duration {
	raw := os.Getenv("BOARD_CACHE_TTL_SECONDS")
	if raw == "" {
		return defaultBoardTTL
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return defaultBoardTTL
	}
	return time.Duration(seconds) * time.Second
}

func boardKey(category string) string {
	return "arrival_board:" + category
}

// Get returns the cached board payload and whether it was present.
func (b *Board) Get(ctx context.Context, category string) ([]byte, bool, error) {
	val, err := b.Client.Get(ctx, boardKey(category)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores the board payload for the configured TTL.
func (b *Board) Set(ctx context.Context, category string, payload []byte) error {
	return b.Client.Set(ctx, boardKey(category), payload, b.TTL).Err()
}

// Invalidate drops the cached board after a committed transition.
func (b *Board) Invalidate(ctx context.Context, category string) error {
	return b.Client.Del(ctx, boardKey(category)).Err()
}
