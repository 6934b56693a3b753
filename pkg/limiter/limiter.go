// Package limiter implements per-identity sliding-window rate limiting for
// write-producing actions.
package limiter

import (
	"context"
	"sync"
	"time"
)

type Action string

const (
	ActionMessageSend        Action = "message_send"
	ActionConversationCreate Action = "conversation_create"
	ActionFileUpload         Action = "file_upload"
)

// Rule caps an action at Max occurrences per rolling Window.
type Rule struct {
	Max    int
	Window time.Duration
}

// Limiter reports whether an identity may perform an action right now. A
// denied call records nothing; retryAfter is the suggested wait before the
// next attempt.
type Limiter interface {
	Allow(ctx context.Context, identityID string, action Action) (allowed bool, retryAfter time.Duration, err error)
}

// SlidingWindow is the in-process limiter: a bounded list of recent action
// timestamps per (identity, action) key, trimmed lazily on each call.
type SlidingWindow struct {
	rules map[Action]Rule

	mu   sync.Mutex
	keys map[string]*window

	now func() time.Time
}

type window struct {
	mu      sync.Mutex
	stamps  []time.Time
	touched time.Time
}

func NewSlidingWindow(rules map[Action]Rule) *SlidingWindow {
	return &SlidingWindow{
		rules: rules,
		keys:  make(map[string]*window),
		now:   time.Now,
	}
}

func (l *SlidingWindow) Allow(ctx context.Context, identityID string, action Action) (bool, time.Duration, error) {
	rule, ok := l.rules[action]
	if !ok || rule.Max <= 0 {
		return true, 0, nil
	}

	key := identityID + ":" + string(action)
	l.mu.Lock()
	w := l.keys[key]
	if w == nil {
		w = &window{}
		l.keys[key] = w
	}
	l.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-rule.Window)

	// Stamps are appended in order, so everything before the first
	// in-window entry is stale.
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	w.touched = now

	if len(w.stamps) >= rule.Max {
		retry := w.stamps[0].Add(rule.Window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return false, retry, nil
	}

	w.stamps = append(w.stamps, now)
	return true, 0, nil
}

// Run sweeps idle keys periodically so memory stays bounded. Call it in its
// own goroutine; it returns when ctx is canceled.
func (l *SlidingWindow) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(l.now())
		}
	}
}

func (l *SlidingWindow) sweep(now time.Time) {
	idle := l.maxWindow() * 2

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.keys {
		w.mu.Lock()
		stale := now.Sub(w.touched) > idle
		w.mu.Unlock()
		if stale {
			delete(l.keys, key)
		}
	}
}

func (l *SlidingWindow) maxWindow() time.Duration {
	max := time.Minute
	for _, r := range l.rules {
		if r.Window > max {
			max = r.Window
		}
	}
	return max
}
