// Package ledger is the boundary to the external bookkeeping ledger.
//
// The production system writes to a spreadsheet; that client lives behind
// the Ledger interface so the engine, the duplicate detector, and the
// resolver cache never see transport details. The in-memory implementation
// backs tests and standalone runs.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/texturin/catatbot/internal/models"
)

// ErrRowNotFound indicates the referenced row does not exist or was deleted.
var ErrRowNotFound = errors.New("ledger row not found")

// ErrDebtNotFound indicates no open debt record matches the event id.
var ErrDebtNotFound = errors.New("debt record not found")

// Entry is one ledger line as written.
type Entry struct {
	TxID        string        `json:"tx_id"`
	EventID     string        `json:"event_id"`
	Date        time.Time     `json:"date"`
	Description string        `json:"description"`
	Category    string        `json:"category,omitempty"`
	Type        models.TxType `json:"type"`
	Amount      int64         `json:"amount"`
	ProjectName string        `json:"project_name,omitempty"`
	Company     string        `json:"company,omitempty"`
	SenderName  string        `json:"sender_name,omitempty"`
}

// RowRef identifies a written row. Wallet rides inside the ref so delete
// and update need no extra routing argument.
type RowRef struct {
	Wallet string `json:"wallet"`
	ID     string `json:"id"`
}

// Row is a written entry plus its location.
type Row struct {
	Ref RowRef `json:"ref"`
	Entry
}

// DebtRecord is one hutang entry. Open records are settlement candidates.
type DebtRecord struct {
	Borrower  string    `json:"borrower"`
	Lender    string    `json:"lender"`
	Amount    int64     `json:"amount"`
	EventID   string    `json:"event_id"`
	EntryDate time.Time `json:"entry_date"`
	Settled   bool      `json:"settled"`
}

// Ledger is the write/read surface the engine depends on.
type Ledger interface {
	// Append writes one entry to the wallet and returns its location.
	Append(ctx context.Context, wallet string, e Entry) (RowRef, error)

	// Delete removes a previously written row.
	Delete(ctx context.Context, ref RowRef) error

	// FindByEventID returns every row sharing the correlation id, in write
	// order.
	FindByEventID(ctx context.Context, eventID string) ([]Row, error)

	// UpdateAmount rewrites the amount of an existing row in place.
	UpdateAmount(ctx context.Context, ref RowRef, amount int64) error

	// Recent returns up to limit rows from the last days days, newest first.
	Recent(ctx context.Context, days, limit int) ([]Row, error)

	// ProjectNames returns the distinct project names on record.
	ProjectNames(ctx context.Context) ([]string, error)

	// AppendDebt records a hutang entry.
	AppendDebt(ctx context.Context, d DebtRecord) error

	// OpenDebts returns unsettled hutang records, oldest first.
	OpenDebts(ctx context.Context) ([]DebtRecord, error)

	// SettleDebt marks the debt with the given event id as settled.
	SettleDebt(ctx context.Context, eventID string) error

	// InvalidateAggregates drops any cached aggregate views after a commit
	// or deletion.
	InvalidateAggregates()
}
