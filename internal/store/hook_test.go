package store

import (
	"context"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// touchOnMulti rewrites key behind the client's back right before a
// MULTI/EXEC pipeline is sent, invalidating any WATCH on it.
type touchOnMulti struct {
	mr  *miniredis.Miniredis
	key string
}

func (h touchOnMulti) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h touchOnMulti) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (h touchOnMulti) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.mr.Set(h.key, `{"user_id":"u1","hash":"Y2hhbmdlZA=="}`)
		return next(ctx, cmds)
	}
}
