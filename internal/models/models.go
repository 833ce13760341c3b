// Package models defines the domain entities for the bookkeeping assistant.
package models

import (
	"fmt"
	"strings"
	"time"
)

// TxType is the direction of a ledger entry.
type TxType string

// Transaction directions. The ledger keeps the Indonesian terms the
// spreadsheet uses.
const (
	TypeIncome  TxType = "Pemasukan"
	TypeExpense TxType = "Pengeluaran"
)

// Operational expense categories (fixed set).
const (
	CategoryGaji      = "Gaji"
	CategoryListrik   = "Listrik"
	CategoryAir       = "Air"
	CategoryKonsumsi  = "Konsumsi"
	CategoryPeralatan = "Peralatan"
	CategoryInternet  = "Internet"
	CategoryLainLain  = "Lain-lain"
)

// OperationalCategories lists the fixed operational category set in
// display order.
var OperationalCategories = []string{
	CategoryGaji,
	CategoryListrik,
	CategoryAir,
	CategoryKonsumsi,
	CategoryPeralatan,
	CategoryInternet,
	CategoryLainLain,
}

// State tags the position of a PendingSession in the confirmation flow.
type State string

// Confirmation state machine states.
const (
	StateCategoryScope         State = "category_scope"
	StateCategoryScopeConfirm  State = "category_scope_confirm"
	StateDompetOperational     State = "dompet_selection_operational"
	StateDompetProject         State = "dompet_selection_project"
	StateProjectNameInput      State = "project_name_input"
	StateProjectNameConfirm    State = "project_name_confirm"
	StateProjectNewConfirm     State = "project_new_confirm"
	StateNewProjectFirstExp    State = "new_project_first_expense"
	StateOperationalCategory   State = "operational_category_input"
	StateConfirmCommitOps      State = "confirm_commit_operational"
	StateConfirmCommitProject  State = "confirm_commit_project"
	StateProjectFinishConfirm  State = "project_finish_confirm"
	StateProjectDompetMismatch State = "project_dompet_mismatch"
	StateRevisionMoveToOps     State = "revision_move_to_operational"
	StateRevisionMoveToProject State = "revision_move_to_project"
	StateHutangPayment         State = "hutang_payment_selection"
	StateUndoConfirm           State = "undo_confirmation"
)

// FinishDecision is the tri-state answer to "mark this project finished?".
type FinishDecision int

const (
	FinishUnset FinishDecision = iota
	FinishApply
	FinishSkip
)

// DraftTransaction is one line item awaiting commit.
type DraftTransaction struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Type        TxType `json:"type"`
	ProjectName string `json:"project_name,omitempty"`
	Company     string `json:"company,omitempty"`

	NeedsProject bool `json:"needs_project,omitempty"`
	NeedsAmount  bool `json:"needs_amount,omitempty"`

	// TxID is assigned at commit time as "<event_id>|<index>".
	TxID string `json:"tx_id,omitempty"`
}

// Committable reports whether the draft can be written to the ledger.
func (d *DraftTransaction) Committable() bool {
	return !d.NeedsAmount && d.Amount > 0
}

// SessionKey identifies a PendingSession: group chats isolate per sender,
// direct chats degenerate to the sender alone.
type SessionKey struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

// NewSessionKey builds a key, falling back to the sender when the chat id
// is empty (direct chat).
func NewSessionKey(chatID, userID string) SessionKey {
	if chatID == "" {
		chatID = userID
	}
	return SessionKey{ChatID: chatID, UserID: userID}
}

func (k SessionKey) String() string {
	return k.ChatID + ":" + k.UserID
}

// ScopeConfirmData carries the AI-suggested scope awaiting confirmation.
type ScopeConfirmData struct {
	SuggestedScope string `json:"suggested_scope"`
}

// NameConfirmData carries a fuzzy-resolved project name awaiting yes/no.
type NameConfirmData struct {
	SuggestedName string  `json:"suggested_name"`
	OriginalName  string  `json:"original_name"`
	Confidence    float64 `json:"confidence"`
}

// NewProjectData carries a brand-new project name awaiting confirmation.
type NewProjectData struct {
	Name string `json:"name"`
}

// MismatchData carries the wallet conflict for a locked project.
type MismatchData struct {
	ProjectName    string `json:"project_name"`
	LockedWallet   string `json:"locked_wallet"`
	SelectedWallet string `json:"selected_wallet"`
}

// HutangCandidate is one open debt record offered for settlement.
type HutangCandidate struct {
	No        int    `json:"no"`
	Borrower  string `json:"borrower"`
	Lender    string `json:"lender"`
	Amount    int64  `json:"amount"`
	EventID   string `json:"event_id"`
	EntryDate string `json:"entry_date"`
}

// HutangData carries the candidate debts awaiting a numeric pick.
type HutangData struct {
	Candidates []HutangCandidate `json:"candidates"`
}

// RevisionData identifies the committed transaction being re-homed.
type RevisionData struct {
	EventID string `json:"event_id"`
}

// UndoData identifies the commit awaiting deletion confirmation.
type UndoData struct {
	EventID string `json:"event_id"`
}

// DuplicateData carries the suspected duplicate awaiting same-vs-different.
type DuplicateData struct {
	MatchDescription string  `json:"match_description"`
	MatchAmount      int64   `json:"match_amount"`
	MatchDate        string  `json:"match_date"`
	Score            float64 `json:"score"`
}

// StateData is the per-state payload. Only the variant matching the
// session's state is populated; transitions decode it explicitly on entry
// rather than poking at an untyped map.
type StateData struct {
	ScopeConfirm *ScopeConfirmData `json:"scope_confirm,omitempty"`
	NameConfirm  *NameConfirmData  `json:"name_confirm,omitempty"`
	NewProject   *NewProjectData   `json:"new_project,omitempty"`
	Mismatch     *MismatchData     `json:"mismatch,omitempty"`
	Hutang       *HutangData       `json:"hutang,omitempty"`
	Revision     *RevisionData     `json:"revision,omitempty"`
	Undo         *UndoData         `json:"undo,omitempty"`
	Duplicate    *DuplicateData    `json:"duplicate,omitempty"`
}

// clone deep-copies the active variant so two session copies never share
// state payload pointers.
func (d StateData) clone() StateData {
	c := d
	if d.ScopeConfirm != nil {
		v := *d.ScopeConfirm
		c.ScopeConfirm = &v
	}
	if d.NameConfirm != nil {
		v := *d.NameConfirm
		c.NameConfirm = &v
	}
	if d.NewProject != nil {
		v := *d.NewProject
		c.NewProject = &v
	}
	if d.Mismatch != nil {
		v := *d.Mismatch
		c.Mismatch = &v
	}
	if d.Hutang != nil {
		v := *d.Hutang
		v.Candidates = append([]HutangCandidate(nil), d.Hutang.Candidates...)
		c.Hutang = &v
	}
	if d.Revision != nil {
		v := *d.Revision
		c.Revision = &v
	}
	if d.Undo != nil {
		v := *d.Undo
		c.Undo = &v
	}
	if d.Duplicate != nil {
		v := *d.Duplicate
		c.Duplicate = &v
	}
	return c
}

// PendingSession is the unit of conversation state. At most one exists per
// key; creating a new one replaces the old.
type PendingSession struct {
	Key   SessionKey `json:"key"`
	State State      `json:"state"`

	Drafts           []DraftTransaction `json:"drafts"`
	Wallet           string             `json:"wallet,omitempty"`
	Company          string             `json:"company,omitempty"`
	DebtSourceWallet string             `json:"debt_source_wallet,omitempty"`
	IsNewProject     bool               `json:"is_new_project,omitempty"`
	FinishDecision   FinishDecision     `json:"finish_decision,omitempty"`

	RawText         string `json:"raw_text,omitempty"`
	SenderName      string `json:"sender_name,omitempty"`
	OriginMessageID string `json:"origin_message_id,omitempty"`
	EventID         string `json:"event_id"`

	Data StateData `json:"data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Clone returns a deep copy. Snapshots read the copy without a lock while
// handlers keep mutating the original, so nothing may be shared.
func (s *PendingSession) Clone() *PendingSession {
	c := *s
	c.Drafts = append([]DraftTransaction(nil), s.Drafts...)
	c.Data = s.Data.clone()
	return &c
}

// Expired reports whether the session is past its TTL at the given instant.
func (s *PendingSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// TotalAmount sums the draft amounts.
func (s *PendingSession) TotalAmount() int64 {
	var total int64
	for i := range s.Drafts {
		total += s.Drafts[i].Amount
	}
	return total
}

// TxIDFor builds the deterministic per-line correlation id.
func TxIDFor(eventID string, index int) string {
	return fmt.Sprintf("%s|%d", eventID, index)
}

// EventIDFromTxID recovers the event id from a per-line id.
func EventIDFromTxID(txID string) string {
	if i := strings.IndexByte(txID, '|'); i >= 0 {
		return txID[:i]
	}
	return txID
}
