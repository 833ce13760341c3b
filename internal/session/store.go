// Package session keeps the conversational state: pending sessions keyed by
// (chat, user), the idempotency cache, and the outbound-message index that
// lets replies find their session. All state is in memory; persistence is a
// best-effort snapshot handled by the Saver.
package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/texturin/catatbot/internal/logger"
	"github.com/texturin/catatbot/internal/models"
)

const (
	keyStripes = 32

	// Outbound-message index bounds, newest kept.
	maxBotRefs  = 1000
	dropBotRefs = 500

	maxAuditRecords = 200
)

// BotMessageRef ties an outbound bot message to the session and commit it
// belongs to.
type BotMessageRef struct {
	Key      models.SessionKey `json:"key"`
	EventID  string            `json:"event_id,omitempty"`
	IsReport bool              `json:"is_report,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

type dedupEntry struct {
	Seen  time.Time `json:"seen"`
	Score int       `json:"score"`
}

// AuditRecord is one line of the bounded in-memory audit log.
type AuditRecord struct {
	Time    time.Time         `json:"time"`
	Key     models.SessionKey `json:"key"`
	Action  string            `json:"action"`
	EventID string            `json:"event_id,omitempty"`
	Detail  string            `json:"detail,omitempty"`
}

// Store holds all conversational state. Safe for concurrent use; mutations
// on distinct session keys never block each other (see WithKey).
type Store struct {
	mu       sync.Mutex
	sessions map[string]*models.PendingSession

	dedup map[string]dedupEntry

	botRefs     map[string]BotMessageRef
	botRefOrder []string
	lastReport  map[string]string // chat id -> message id of last report

	audit []AuditRecord

	keyLocks [keyStripes]sync.Mutex

	ttl      time.Duration
	dedupTTL time.Duration

	now    func() time.Time
	notify func()
}

// NewStore builds an empty store with the given session and dedup TTLs.
func NewStore(ttl, dedupTTL time.Duration) *Store {
	return &Store{
		sessions:   make(map[string]*models.PendingSession),
		dedup:      make(map[string]dedupEntry),
		botRefs:    make(map[string]BotMessageRef),
		lastReport: make(map[string]string),
		ttl:        ttl,
		dedupTTL:   dedupTTL,
		now:        time.Now,
		notify:     func() {},
	}
}

// OnMutate registers the persistence signal, fired after every mutation.
// The callback must not block.
func (s *Store) OnMutate(fn func()) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

func stripe(key models.SessionKey) int {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return int(h.Sum32() % keyStripes)
}

// WithKey serializes fn against all other WithKey calls for the same
// session key. Distinct keys proceed in parallel (modulo stripe collisions).
func (s *Store) WithKey(key models.SessionKey, fn func()) {
	l := &s.keyLocks[stripe(key)]
	l.Lock()
	defer l.Unlock()
	fn()
}

// Get returns the live session for the key. An expired session is evicted
// on the spot and reported as absent.
func (s *Store) Get(key models.SessionKey) (*models.PendingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key.String()]
	if !ok {
		return nil, false
	}
	if sess.Expired(s.now()) {
		delete(s.sessions, key.String())
		logger.Log.Debug().
			Str("chat_id", logger.HashID(key.ChatID)).
			Str("user_id", logger.HashID(key.UserID)).
			Msg("expired session evicted")
		defer s.notify()
		return nil, false
	}
	return sess, true
}

// Set stores the session, replacing any previous one for the key. Creation
// and expiry stamps are filled in when missing.
func (s *Store) Set(sess *models.PendingSession) {
	now := s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = now.Add(s.ttl)
	}

	s.mu.Lock()
	s.sessions[sess.Key.String()] = sess
	s.mu.Unlock()
	s.notify()
}

// Clear removes the session for the key, if any.
func (s *Store) Clear(key models.SessionKey) {
	s.mu.Lock()
	_, existed := s.sessions[key.String()]
	delete(s.sessions, key.String())
	s.mu.Unlock()
	if existed {
		s.notify()
	}
}

// ActiveCount returns the number of unexpired sessions.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, sess := range s.sessions {
		if !sess.Expired(now) {
			n++
		}
	}
	return n
}

// CheckDedup reports whether the message should be processed. A message id
// seen within the dedup TTL is a replay and is dropped, unless the new
// addressed score is a strict upgrade over the recorded one (a quick
// follow-up mention can rescue a message first dismissed as chitchat).
func (s *Store) CheckDedup(messageID string, score int) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.dedup {
		if now.Sub(e.Seen) > s.dedupTTL {
			delete(s.dedup, id)
		}
	}

	if e, ok := s.dedup[messageID]; ok {
		if score <= e.Score {
			return false
		}
	}
	s.dedup[messageID] = dedupEntry{Seen: now, Score: score}
	defer s.notify()
	return true
}

// RecordBotMessage indexes an outbound message so a later reply can find
// its session. The index is bounded; past the cap the oldest half is
// dropped.
func (s *Store) RecordBotMessage(messageID string, ref BotMessageRef) {
	ref.SentAt = s.now()

	s.mu.Lock()
	if _, exists := s.botRefs[messageID]; !exists {
		s.botRefOrder = append(s.botRefOrder, messageID)
	}
	s.botRefs[messageID] = ref
	if ref.IsReport {
		s.lastReport[ref.Key.ChatID] = messageID
	}

	if len(s.botRefOrder) > maxBotRefs {
		for _, old := range s.botRefOrder[:dropBotRefs] {
			delete(s.botRefs, old)
		}
		s.botRefOrder = append([]string(nil), s.botRefOrder[dropBotRefs:]...)
	}
	s.mu.Unlock()
	s.notify()
}

// FindByBotMessage resolves a quoted outbound message id.
func (s *Store) FindByBotMessage(messageID string) (BotMessageRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.botRefs[messageID]
	return ref, ok
}

// LastReport returns the message id of the most recent transaction report
// sent to the chat.
func (s *Store) LastReport(chatID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lastReport[chatID]
	return id, ok
}

// Audit appends a record to the bounded audit log.
func (s *Store) Audit(rec AuditRecord) {
	if rec.Time.IsZero() {
		rec.Time = s.now()
	}
	s.mu.Lock()
	s.audit = append(s.audit, rec)
	if len(s.audit) > maxAuditRecords {
		s.audit = append([]AuditRecord(nil), s.audit[len(s.audit)-maxAuditRecords:]...)
	}
	s.mu.Unlock()
	s.notify()
}
