package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// timerEntry tracks information about a scheduled timer
type timerEntry struct {
	timer       *time.Timer
	key         string
	scheduledAt time.Time
	expiresAt   time.Time
	description string
}

// SimpleTimer implements Timer on top of time.AfterFunc. Keyed timers allow at
// most one pending entry per key.
type SimpleTimer struct {
	mu     sync.RWMutex
	timers map[string]*timerEntry
	keys   map[string]string
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	slog.Debug("Creating SimpleTimer")
	return &SimpleTimer{
		timers: make(map[string]*timerEntry),
		keys:   make(map[string]string),
	}
}

// ScheduleAfter schedules a function to run after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	return t.schedule("", delay, fmt.Sprintf("Timer scheduled for %v", delay), func(string) { fn() })
}

// ScheduleKeyed schedules fn under key, replacing any pending timer for that key.
func (t *SimpleTimer) ScheduleKeyed(key string, delay time.Duration, description string, fn func(id string)) (string, error) {
	if key == "" {
		return "", fmt.Errorf("timer key cannot be empty")
	}
	t.CancelKey(key)
	return t.schedule(key, delay, description, fn)
}

func (t *SimpleTimer) schedule(key string, delay time.Duration, description string, fn func(id string)) (string, error) {
	if delay < 0 {
		delay = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)
	now := time.Now()

	timer := time.AfterFunc(delay, func() {
		slog.Debug("SimpleTimer executing scheduled function", "id", id, "key", key)
		fn(id)
		t.remove(id)
	})

	t.timers[id] = &timerEntry{
		timer:       timer,
		key:         key,
		scheduledAt: now,
		expiresAt:   now.Add(delay),
		description: description,
	}
	if key != "" {
		t.keys[key] = id
	}

	slog.Debug("SimpleTimer scheduled", "id", id, "key", key, "delay", delay)
	return id, nil
}

// remove drops id and releases its key if id still owns it.
func (t *SimpleTimer) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.timers[id]
	if !ok {
		return
	}
	delete(t.timers, id)
	if entry.key != "" && t.keys[entry.key] == id {
		delete(t.keys, entry.key)
	}
}

// CancelKey cancels the pending timer for key.
func (t *SimpleTimer) CancelKey(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.keys[key]
	if !ok {
		return false
	}
	delete(t.keys, key)
	if entry, exists := t.timers[id]; exists {
		entry.timer.Stop()
		delete(t.timers, id)
	}
	slog.Debug("SimpleTimer CancelKey succeeded", "key", key, "id", id)
	return true
}

// IsCurrent reports whether id is still the live timer for key. A callback that
// fired after its key was cancelled or rescheduled sees false.
func (t *SimpleTimer) IsCurrent(key, id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.keys[key] == id
}

// Cancel cancels a scheduled function by ID.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.timers[id]
	if !exists {
		return fmt.Errorf("timer with ID %s not found", id)
	}
	entry.timer.Stop()
	delete(t.timers, id)
	if entry.key != "" && t.keys[entry.key] == id {
		delete(t.keys, entry.key)
	}
	slog.Debug("SimpleTimer Cancel succeeded", "id", id)
	return nil
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.timers {
		entry.timer.Stop()
	}
	slog.Info("SimpleTimer stopped all timers", "count", len(t.timers))
	t.timers = make(map[string]*timerEntry)
	t.keys = make(map[string]string)
}

// ListActive returns information about all active timers.
func (t *SimpleTimer) ListActive() []models.TimerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]models.TimerInfo, 0, len(t.timers))
	now := time.Now()
	for id, entry := range t.timers {
		result = append(result, entry.info(id, now))
	}
	return result
}

// GetTimer returns information about a specific timer by ID.
func (t *SimpleTimer) GetTimer(id string) (*models.TimerInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, exists := t.timers[id]
	if !exists {
		return nil, fmt.Errorf("timer with ID %s not found", id)
	}
	info := entry.info(id, time.Now())
	return &info, nil
}

func (e *timerEntry) info(id string, now time.Time) models.TimerInfo {
	remaining := e.expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return models.TimerInfo{
		ID:          id,
		Key:         e.key,
		ScheduledAt: e.scheduledAt,
		ExpiresAt:   e.expiresAt,
		Remaining:   remaining.String(),
		Description: e.description,
	}
}
