package ratelimit

import (
	"context"
	"time"

	"github.com/ulule/limiter"
	"github.com/ulule/limiter/drivers/store/memory"
)

// How often the memory store drops windows that have already expired.
const cleanUpInterval = time.Minute

// Memory is a process-local Limiter. Counts are lost on restart and are not
// shared between instances.
type Memory struct {
	limiter *limiter.Limiter
}

// NewMemory returns an in-memory Limiter enforcing rate.
func NewMemory(rate Rate) *Memory {
	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "newsletter",
		CleanUpInterval: cleanUpInterval,
	})
	return &Memory{
		limiter: limiter.New(store, limiter.Rate{Period: rate.Period, Limit: rate.Limit}),
	}
}

// Allow counts an attempt for key. The first attempt opens a new window;
// attempts past the limit within that window are denied.
func (m *Memory) Allow(ctx context.Context, key string) (bool, error) {
	result, err := m.limiter.Get(ctx, key)
	if err != nil {
		return true, err
	}
	return !result.Reached, nil
}
