package resolver

import (
	"errors"
	"sync"
	"time"

	"github.com/texturin/catatbot/internal/logger"
)

// ErrNotBound indicates the project has no wallet binding yet.
var ErrNotBound = errors.New("project not bound to a wallet")

// ErrAlreadyBound indicates a Bind on a project that already has a binding.
var ErrAlreadyBound = errors.New("project already bound to a wallet")

// Audit reasons for binding changes.
const (
	ReasonNew      = "new"
	ReasonMove     = "move"
	ReasonUserMove = "user_move"
)

// Binding is a project's home wallet. Once set it only changes through an
// audited Move.
type Binding struct {
	Wallet    string    `json:"wallet"`
	Company   string    `json:"company,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEntry records one binding change.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	ProjectKey string    `json:"project_key"`
	FromWallet string    `json:"from_wallet,omitempty"`
	ToWallet   string    `json:"to_wallet"`
	Reason     string    `json:"reason"`
}

// Registry maps project keys to wallet bindings. Mutations on distinct
// projects never block each other.
type Registry struct {
	mu       sync.Mutex
	bindings map[string]Binding
	locks    map[string]*sync.Mutex
	audit    []AuditEntry
}

// RegistrySnapshot is the persisted form of a Registry.
type RegistrySnapshot struct {
	Bindings map[string]Binding `json:"bindings"`
	Audit    []AuditEntry       `json:"audit,omitempty"`
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]Binding),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (r *Registry) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// Get returns the binding for a project name, marker-stripped and
// case-folded.
func (r *Registry) Get(name string) (Binding, bool) {
	key := ProjectKey(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[key]
	return b, ok
}

// Bind records the first wallet binding for a project. Binding an already
// bound project fails; use Move.
func (r *Registry) Bind(name, wallet, company string) error {
	key := ProjectKey(name)
	l := r.keyLock(key)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bindings[key]; ok {
		return ErrAlreadyBound
	}
	r.bindings[key] = Binding{Wallet: wallet, Company: company, CreatedAt: time.Now()}
	r.audit = append(r.audit, AuditEntry{
		Time: time.Now(), ProjectKey: key, ToWallet: wallet, Reason: ReasonNew,
	})
	logger.Log.Info().Str("project", key).Str("wallet", wallet).Msg("project bound")
	return nil
}

// Move re-homes a bound project to a different wallet with an audit entry.
func (r *Registry) Move(name, newWallet, newCompany, reason string) error {
	key := ProjectKey(name)
	l := r.keyLock(key)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.bindings[key]
	if !ok {
		return ErrNotBound
	}
	r.bindings[key] = Binding{Wallet: newWallet, Company: newCompany, CreatedAt: old.CreatedAt}
	r.audit = append(r.audit, AuditEntry{
		Time: time.Now(), ProjectKey: key,
		FromWallet: old.Wallet, ToWallet: newWallet, Reason: reason,
	})
	logger.Log.Info().
		Str("project", key).
		Str("from", old.Wallet).
		Str("to", newWallet).
		Str("reason", reason).
		Msg("project moved")
	return nil
}

// Audit returns a copy of the audit trail, oldest first.
func (r *Registry) Audit() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEntry, len(r.audit))
	copy(out, r.audit)
	return out
}

// Snapshot exports the registry for persistence.
func (r *Registry) Snapshot() RegistrySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	bindings := make(map[string]Binding, len(r.bindings))
	for k, v := range r.bindings {
		bindings[k] = v
	}
	audit := make([]AuditEntry, len(r.audit))
	copy(audit, r.audit)
	return RegistrySnapshot{Bindings: bindings, Audit: audit}
}

// Restore replaces the registry contents from a snapshot.
func (r *Registry) Restore(snap RegistrySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bindings = make(map[string]Binding, len(snap.Bindings))
	for k, v := range snap.Bindings {
		r.bindings[k] = v
	}
	r.audit = append([]AuditEntry(nil), snap.Audit...)
}
