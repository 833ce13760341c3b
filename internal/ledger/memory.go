package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is the in-memory Ledger used by tests and standalone runs.
type Memory struct {
	mu    sync.RWMutex
	seq   int64
	rows  map[string][]*memRow // wallet -> rows in write order
	debts []DebtRecord

	// cached ProjectNames view, rebuilt lazily after invalidation
	projectNames []string
	namesValid   bool
}

type memRow struct {
	ref     RowRef
	entry   Entry
	deleted bool
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string][]*memRow)}
}

func (m *Memory) Append(_ context.Context, wallet string, e Entry) (RowRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	ref := RowRef{Wallet: wallet, ID: fmt.Sprintf("row-%d", m.seq)}
	m.rows[wallet] = append(m.rows[wallet], &memRow{ref: ref, entry: e})
	m.namesValid = false
	return ref, nil
}

func (m *Memory) Delete(_ context.Context, ref RowRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rows[ref.Wallet] {
		if r.ref.ID == ref.ID && !r.deleted {
			r.deleted = true
			m.namesValid = false
			return nil
		}
	}
	return ErrRowNotFound
}

func (m *Memory) FindByEventID(_ context.Context, eventID string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Row
	for _, rows := range m.rows {
		for _, r := range rows {
			if !r.deleted && r.entry.EventID == eventID {
				out = append(out, Row{Ref: r.ref, Entry: r.entry})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TxID < out[j].TxID })
	return out, nil
}

func (m *Memory) UpdateAmount(_ context.Context, ref RowRef, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rows[ref.Wallet] {
		if r.ref.ID == ref.ID && !r.deleted {
			r.entry.Amount = amount
			return nil
		}
	}
	return ErrRowNotFound
}

func (m *Memory) Recent(_ context.Context, days, limit int) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().AddDate(0, 0, -days)
	var out []Row
	for _, rows := range m.rows {
		for _, r := range rows {
			if !r.deleted && !r.entry.Date.Before(cutoff) {
				out = append(out, Row{Ref: r.ref, Entry: r.entry})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ProjectNames(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.namesValid {
		seen := make(map[string]struct{})
		names := make([]string, 0)
		for _, rows := range m.rows {
			for _, r := range rows {
				name := r.entry.ProjectName
				if r.deleted || name == "" {
					continue
				}
				if _, ok := seen[name]; ok {
					continue
				}
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
		sort.Strings(names)
		m.projectNames = names
		m.namesValid = true
	}

	out := make([]string, len(m.projectNames))
	copy(out, m.projectNames)
	return out, nil
}

func (m *Memory) AppendDebt(_ context.Context, d DebtRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.debts = append(m.debts, d)
	return nil
}

func (m *Memory) OpenDebts(_ context.Context) ([]DebtRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []DebtRecord
	for _, d := range m.debts {
		if !d.Settled {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryDate.Before(out[j].EntryDate) })
	return out, nil
}

func (m *Memory) SettleDebt(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.debts {
		if m.debts[i].EventID == eventID && !m.debts[i].Settled {
			m.debts[i].Settled = true
			return nil
		}
	}
	return ErrDebtNotFound
}

func (m *Memory) InvalidateAggregates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.namesValid = false
}
