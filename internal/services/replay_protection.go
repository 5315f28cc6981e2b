package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"inspiration-api/pkg/logging"
	"sync"
	"time"
)

// ReplayProtection drops provider callbacks that were already processed.
// It stores callback fingerprints in a Marker: Redis when configured, otherwise MemoryMarker.
type ReplayProtection struct {
	marker Marker
	ttl    time.Duration
}

// NewReplayProtection creates a replay guard remembering callbacks for ttl
func NewReplayProtection(marker Marker, ttl time.Duration) *ReplayProtection {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ReplayProtection{marker: marker, ttl: ttl}
}

// IsReplay reports whether the callback identified by parts was seen before.
// Store errors are logged and treated as first delivery so callbacks are never lost.
func (rp *ReplayProtection) IsReplay(ctx context.Context, kind string, parts ...string) bool {
	id := callbackID(kind, parts...)
	first, err := rp.marker.Mark(ctx, "callback:"+id, rp.ttl)
	if err != nil {
		logging.Errorf("Replay check failed, processing callback - kind: %s, error: %v", kind, err)
		return false
	}
	if !first {
		logging.Infof("Replay detected - kind: %s, callback_id: %s", kind, id)
		return true
	}
	return false
}

// callbackID hashes the identifying fields of a callback
func callbackID(kind string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryMarker is an in-process Marker with periodic cleanup of expired keys.
type MemoryMarker struct {
	entries         map[string]time.Time // key -> expiry
	mutex           sync.RWMutex
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

// NewMemoryMarker creates a marker and starts its cleanup goroutine
func NewMemoryMarker(cleanupInterval time.Duration) *MemoryMarker {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}
	m := &MemoryMarker{
		entries:         make(map[string]time.Time),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}

	go m.startCleanupRoutine()

	return m
}

// Mark stores key until ttl elapses
func (m *MemoryMarker) Mark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	if expiry, exists := m.entries[key]; exists && now.Before(expiry) {
		return false, nil
	}
	m.entries[key] = now.Add(ttl)
	return true, nil
}

// Seen checks whether key is stored and unexpired
func (m *MemoryMarker) Seen(_ context.Context, key string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	expiry, exists := m.entries[key]
	return exists && m.now().Before(expiry), nil
}

// Unmark removes key
func (m *MemoryMarker) Unmark(_ context.Context, key string) error {
	m.mutex.Lock()
	delete(m.entries, key)
	m.mutex.Unlock()
	return nil
}

// startCleanupRoutine removes expired keys until Stop is called
func (m *MemoryMarker) startCleanupRoutine() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCleanup:
			return
		}
	}
}

// cleanup removes expired keys
func (m *MemoryMarker) cleanup() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	initialCount := len(m.entries)

	for key, expiry := range m.entries {
		if !now.Before(expiry) {
			delete(m.entries, key)
		}
	}

	cleanedCount := initialCount - len(m.entries)
	if cleanedCount > 0 {
		logging.Debugf("Marker cleanup: removed %d expired keys, remaining: %d", cleanedCount, len(m.entries))
	}
}

// GetStats returns marker statistics
func (m *MemoryMarker) GetStats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return map[string]interface{}{
		"total_keys":       len(m.entries),
		"cleanup_interval": m.cleanupInterval.String(),
	}
}

// Stop stops the cleanup goroutine
func (m *MemoryMarker) Stop() {
	m.stopOnce.Do(func() { close(m.stopCleanup) })
}
