package mutes

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

type taskKind uint8

const (
	taskServerUnmute taskKind = iota
	taskChannelUnmute
	taskGuildChannelUnmutes
)

// taskKey identifies one scheduled unmute task. Deriving keys from the
// operation and its subject ids keeps rescheduling idempotent: rescanning the
// registry never double-spawns a task for the same record.
type taskKey struct {
	kind      taskKind
	guildID   snowflake.ID
	channelID snowflake.ID
	userID    snowflake.ID
}

// taskSet tracks running unmute tasks by key.
type taskSet struct {
	mu      sync.Mutex
	running map[taskKey]struct{}
	wg      sync.WaitGroup
}

func newTaskSet() *taskSet {
	return &taskSet{running: make(map[taskKey]struct{})}
}

// Spawn starts fn on its own goroutine unless a task with the same key is
// already running.
func (t *taskSet) Spawn(ctx context.Context, key taskKey, fn func(context.Context)) bool {
	t.mu.Lock()
	if _, ok := t.running[key]; ok {
		t.mu.Unlock()
		return false
	}
	t.running[key] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			delete(t.running, key)
			t.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Unmute task panic",
					slog.String("type", "sys"),
					slog.String("guild_id", key.guildID.String()),
					slog.String("user_id", key.userID.String()),
					slog.Any("panic", r))
			}
		}()
		fn(ctx)
	}()
	return true
}

// Wait blocks until every running task has finished.
func (t *taskSet) Wait() {
	t.wg.Wait()
}

func (t *taskSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running)
}

// sleepUntil blocks until the deadline passes or ctx is cancelled, reporting
// whether the deadline was reached.
func sleepUntil(ctx context.Context, deadline time.Time) bool {
	delay := time.Until(deadline)
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
