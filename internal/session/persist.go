package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/texturin/catatbot/internal/logger"
	"github.com/texturin/catatbot/internal/models"
	"github.com/texturin/catatbot/internal/resolver"
)

const (
	redisStateKey = "catatbot:state:v1"
	backupExpiry  = 24 * time.Hour
)

// Snapshot is the persisted form of the whole conversational state.
type Snapshot struct {
	SavedAt time.Time `json:"saved_at"`

	Sessions    map[string]*models.PendingSession `json:"pending_sessions"`
	BotRefs     map[string]BotMessageRef          `json:"bot_message_refs,omitempty"`
	BotRefOrder []string                          `json:"bot_ref_order,omitempty"`
	LastReport  map[string]string                 `json:"last_bot_report_per_chat,omitempty"`
	Dedup       map[string]dedupEntry             `json:"dedup_cache,omitempty"`
	Audit       []AuditRecord                     `json:"audit_log,omitempty"`

	Registry resolver.RegistrySnapshot `json:"project_registry"`
}

func (s *Store) export() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SavedAt:     s.now(),
		Sessions:    make(map[string]*models.PendingSession, len(s.sessions)),
		BotRefs:     make(map[string]BotMessageRef, len(s.botRefs)),
		BotRefOrder: append([]string(nil), s.botRefOrder...),
		LastReport:  make(map[string]string, len(s.lastReport)),
		Dedup:       make(map[string]dedupEntry, len(s.dedup)),
		Audit:       append([]AuditRecord(nil), s.audit...),
	}
	// Deep copies: the saver marshals the snapshot outside this lock while
	// handlers keep mutating drafts and state payloads in place.
	for k, v := range s.sessions {
		snap.Sessions[k] = v.Clone()
	}
	for k, v := range s.botRefs {
		snap.BotRefs[k] = v
	}
	for k, v := range s.lastReport {
		snap.LastReport[k] = v
	}
	for k, v := range s.dedup {
		snap.Dedup[k] = v
	}
	return snap
}

func (s *Store) restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sessions = make(map[string]*models.PendingSession, len(snap.Sessions))
	for k, v := range snap.Sessions {
		if v == nil || v.Expired(now) {
			continue
		}
		s.sessions[k] = v
	}

	s.botRefs = make(map[string]BotMessageRef, len(snap.BotRefs))
	s.botRefOrder = s.botRefOrder[:0]
	for _, id := range snap.BotRefOrder {
		if ref, ok := snap.BotRefs[id]; ok {
			s.botRefs[id] = ref
			s.botRefOrder = append(s.botRefOrder, id)
		}
	}

	s.lastReport = make(map[string]string, len(snap.LastReport))
	for k, v := range snap.LastReport {
		s.lastReport[k] = v
	}

	s.dedup = make(map[string]dedupEntry, len(snap.Dedup))
	for k, v := range snap.Dedup {
		if now.Sub(v.Seen) <= s.dedupTTL {
			s.dedup[k] = v
		}
	}

	s.audit = append([]AuditRecord(nil), snap.Audit...)
}

// Saver persists the store and the project registry: a full local JSON
// snapshot plus a size-limited Redis backup. Saves are asynchronous and
// best effort; a failed save is logged and the bot keeps running.
type Saver struct {
	store    *Store
	registry *resolver.Registry
	path     string
	rdb      *redis.Client // nil disables the Redis backup
	maxBytes int

	ch chan struct{}
}

// NewSaver wires a saver to the store's mutation signal. Run must be
// started for saves to happen.
func NewSaver(store *Store, registry *resolver.Registry, path string, rdb *redis.Client, maxBytes int) *Saver {
	s := &Saver{
		store:    store,
		registry: registry,
		path:     path,
		rdb:      rdb,
		maxBytes: maxBytes,
		ch:       make(chan struct{}, 1),
	}
	store.OnMutate(s.Signal)
	return s
}

// Signal requests a save. Never blocks; coalesces with a pending request.
func (s *Saver) Signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Run processes save requests until the context is cancelled, then writes
// one final snapshot.
func (s *Saver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.save(context.Background())
			return
		case <-s.ch:
			s.save(ctx)
		}
	}
}

func (s *Saver) save(ctx context.Context) {
	snap := s.store.export()
	snap.Registry = s.registry.Snapshot()

	if err := s.saveLocal(snap); err != nil {
		logger.Log.Error().Err(err).Msg("local snapshot failed")
	}
	if s.rdb != nil {
		if err := s.saveRedis(ctx, snap); err != nil {
			logger.Log.Error().Err(err).Msg("redis backup failed")
		}
	}
}

func (s *Saver) saveLocal(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *Saver) saveRedis(ctx context.Context, snap Snapshot) error {
	data, err := marshalTrimmed(snap, s.maxBytes)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, redisStateKey, data, backupExpiry).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// marshalTrimmed serializes the snapshot, shedding reconstructible data
// until it fits: dedup entries oldest first, then the audit log, then bot
// message refs. Pending sessions are never dropped.
func marshalTrimmed(snap Snapshot, maxBytes int) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if maxBytes <= 0 || len(data) <= maxBytes {
		return data, nil
	}

	trim := []func(*Snapshot) bool{
		dropOldestDedup,
		dropAudit,
		dropOldestBotRefs,
	}
	for _, step := range trim {
		for step(&snap) {
			data, err = json.Marshal(snap)
			if err != nil {
				return nil, fmt.Errorf("marshal snapshot: %w", err)
			}
			if len(data) <= maxBytes {
				return data, nil
			}
		}
	}

	logger.Log.Warn().
		Int("size", len(data)).
		Int("limit", maxBytes).
		Msg("backup exceeds size limit after trimming, saving oversized")
	return data, nil
}

func dropOldestDedup(snap *Snapshot) bool {
	if len(snap.Dedup) == 0 {
		return false
	}
	ids := make([]string, 0, len(snap.Dedup))
	for id := range snap.Dedup {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return snap.Dedup[ids[i]].Seen.Before(snap.Dedup[ids[j]].Seen)
	})
	for _, id := range ids[:(len(ids)+1)/2] {
		delete(snap.Dedup, id)
	}
	return true
}

func dropAudit(snap *Snapshot) bool {
	if len(snap.Audit) == 0 {
		return false
	}
	snap.Audit = nil
	return true
}

func dropOldestBotRefs(snap *Snapshot) bool {
	if len(snap.BotRefOrder) == 0 {
		return false
	}
	cut := (len(snap.BotRefOrder) + 1) / 2
	for _, id := range snap.BotRefOrder[:cut] {
		delete(snap.BotRefs, id)
	}
	snap.BotRefOrder = snap.BotRefOrder[cut:]
	return true
}

// Load restores state at startup: the local snapshot when present, else
// the Redis backup, else a clean slate.
func (s *Saver) Load(ctx context.Context) error {
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		return s.restoreFrom(data, "local snapshot")
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read snapshot: %w", err)
	}

	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, redisStateKey).Bytes()
		switch {
		case err == nil:
			return s.restoreFrom(data, "redis backup")
		case !errors.Is(err, redis.Nil):
			return fmt.Errorf("redis get: %w", err)
		}
	}

	logger.Log.Info().Msg("no saved state, starting clean")
	return nil
}

func (s *Saver) restoreFrom(data []byte, source string) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode %s: %w", source, err)
	}
	s.store.restore(snap)
	s.registry.Restore(snap.Registry)
	logger.Log.Info().
		Str("source", source).
		Int("sessions", len(snap.Sessions)).
		Time("saved_at", snap.SavedAt).
		Msg("state restored")
	return nil
}
