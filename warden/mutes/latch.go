package mutes

import (
	"context"
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// guildLatches coordinates the scheduler's batched channel unmutes with the
// reconciliation listener: while a batch is in flight for a guild, the
// listener's overwrite handler waits so it does not audit the engine's own
// changes a second time.
type guildLatches struct {
	mu    sync.Mutex
	gates map[snowflake.ID]chan struct{}
}

func newGuildLatches() *guildLatches {
	return &guildLatches{gates: make(map[snowflake.ID]chan struct{})}
}

// Hold closes the guild's gate and returns the release function. Hold is not
// reentrant per guild; the scheduler serializes batches by task key.
func (l *guildLatches) Hold(guildID snowflake.ID) func() {
	gate := make(chan struct{})
	l.mu.Lock()
	l.gates[guildID] = gate
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.gates[guildID] == gate {
				delete(l.gates, guildID)
			}
			l.mu.Unlock()
			close(gate)
		})
	}
}

// Wait blocks while the guild's gate is held.
func (l *guildLatches) Wait(ctx context.Context, guildID snowflake.ID) error {
	l.mu.Lock()
	gate, held := l.gates[guildID]
	l.mu.Unlock()
	if !held {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
