package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/texturin/catatbot/internal/ledger"
	"github.com/texturin/catatbot/internal/logger"
	"github.com/texturin/catatbot/internal/models"
	"github.com/texturin/catatbot/internal/session"
)

// ErrDraftIncomplete blocks a commit while any line still needs an amount.
var ErrDraftIncomplete = errors.New("draft still needs an amount")

// startMarkerIndex picks the single line that carries the "(Start)"
// lifecycle marker for a new project: the first income line, else the very
// first line.
func startMarkerIndex(drafts []models.DraftTransaction) int {
	for i := range drafts {
		if drafts[i].Type == models.TypeIncome {
			return i
		}
	}
	return 0
}

// finishMarkerIndex picks the income line that carries "(Finish)".
func finishMarkerIndex(drafts []models.DraftTransaction) int {
	for i := range drafts {
		if drafts[i].Type == models.TypeIncome {
			return i
		}
	}
	return -1
}

// runCommit executes the terminal transition out of a confirm_commit
// state. On external failure the session survives so the user keeps their
// answers; on success the session is cleared and a report is returned.
func (e *Engine) runCommit(ctx context.Context, sess *models.PendingSession) Outbound {
	report, err := e.commit(ctx, sess)
	if err != nil {
		if errors.Is(err, ErrDraftIncomplete) {
			// Recover in-state; the inline amount rule fills the gap.
			e.sessions.Set(sess)
			return Outbound{Response: "Masih ada jumlah yang belum jelas. Sebutkan jumlahnya ya.\n\n" + summarizeDrafts(sess), Completed: false}
		}
		logger.Log.Error().Err(err).
			Str("event_id", sess.EventID).
			Str("wallet", sess.Wallet).
			Msg("commit failed")
		e.sessions.Set(sess)
		return Outbound{Response: msgRetryLater, Completed: false}
	}

	e.sessions.Clear(sess.Key)
	e.sessions.Audit(session.AuditRecord{Key: sess.Key, Action: "commit", EventID: sess.EventID})
	return Outbound{Response: report, Completed: true, IsReport: true, EventID: sess.EventID}
}

func (e *Engine) commit(ctx context.Context, sess *models.PendingSession) (string, error) {
	// (1) Every line needs a committed amount.
	for i := range sess.Drafts {
		if !sess.Drafts[i].Committable() {
			return "", ErrDraftIncomplete
		}
	}

	// (2) Deterministic per-line ids.
	for i := range sess.Drafts {
		sess.Drafts[i].TxID = models.TxIDFor(sess.EventID, i)
	}

	// (3) Lifecycle markers: at most one per batch.
	markerIdx := -1
	marker := ""
	if sess.IsNewProject {
		markerIdx = startMarkerIndex(sess.Drafts)
		marker = "Start"
	} else if sess.FinishDecision == models.FinishApply {
		markerIdx = finishMarkerIndex(sess.Drafts)
		marker = "Finish"
	}

	// (4) Write each line. A partial failure rolls the new rows back and
	// leaves the session pending; superseded rows are untouched.
	now := time.Now()
	written := make([]ledger.RowRef, 0, len(sess.Drafts))
	lines := make([]ledgerLine, 0, len(sess.Drafts))
	for i := range sess.Drafts {
		d := &sess.Drafts[i]
		project := d.ProjectName
		if i == markerIdx && project != "" {
			project = applyMarker(project, marker)
		}
		entry := ledger.Entry{
			TxID:        d.TxID,
			EventID:     sess.EventID,
			Date:        now,
			Description: d.Description,
			Category:    d.Category,
			Type:        d.Type,
			Amount:      d.Amount,
			ProjectName: project,
			Company:     sess.Company,
			SenderName:  sess.SenderName,
		}
		ref, err := e.ledger.Append(ctx, sess.Wallet, entry)
		if err != nil {
			e.rollback(ctx, written)
			return "", fmt.Errorf("append line %d: %w", i, err)
		}
		written = append(written, ref)
		lines = append(lines, ledgerLine{
			Description: d.Description,
			Amount:      d.Amount,
			Wallet:      sess.Wallet,
			ProjectName: project,
		})
	}

	// (5) Debt source: mirrored outflow plus a linking debt record.
	if sess.DebtSourceWallet != "" && sess.DebtSourceWallet != sess.Wallet {
		total := sess.TotalAmount()
		mirror := ledger.Entry{
			TxID:        models.TxIDFor(sess.EventID, len(sess.Drafts)),
			EventID:     sess.EventID,
			Date:        now,
			Description: "Talangan untuk " + sess.Wallet,
			Type:        models.TypeExpense,
			Amount:      total,
			SenderName:  sess.SenderName,
		}
		ref, err := e.ledger.Append(ctx, sess.DebtSourceWallet, mirror)
		if err != nil {
			e.rollback(ctx, written)
			return "", fmt.Errorf("append debt mirror: %w", err)
		}
		written = append(written, ref)

		if err := e.ledger.AppendDebt(ctx, ledger.DebtRecord{
			Borrower:  sess.Wallet,
			Lender:    sess.DebtSourceWallet,
			Amount:    total,
			EventID:   sess.EventID,
			EntryDate: now,
		}); err != nil {
			e.rollback(ctx, written)
			return "", fmt.Errorf("append debt record: %w", err)
		}
		lines = append(lines, ledgerLine{
			Description: "Talangan dari " + sess.DebtSourceWallet,
			Amount:      total,
			Wallet:      sess.DebtSourceWallet,
		})
	}

	// (6) Revision move: superseded rows go only after every new row is in.
	if sess.Data.Revision != nil {
		old, err := e.ledger.FindByEventID(ctx, sess.Data.Revision.EventID)
		if err != nil {
			logger.Log.Error().Err(err).
				Str("event_id", sess.Data.Revision.EventID).
				Msg("superseded rows lookup failed, leaving both copies")
		}
		for _, row := range old {
			if err := e.ledger.Delete(ctx, row.Ref); err != nil {
				logger.Log.Error().Err(err).
					Str("tx_id", row.TxID).
					Msg("superseded row delete failed, leaving it")
			}
		}
	}

	// (7) A new project locks its wallet and joins the name cache.
	if sess.IsNewProject {
		name := projectName(sess)
		if err := e.registry.Bind(name, sess.Wallet, sess.Company); err != nil {
			logger.Log.Warn().Err(err).Str("project", name).Msg("project bind skipped")
		}
		e.names.Add(name)
	}

	// (8) + (9)
	e.ledger.InvalidateAggregates()
	return formatReport(sess, lines), nil
}

// rollback best-effort deletes rows written before a mid-batch failure so
// the ledger never holds half a batch.
func (e *Engine) rollback(ctx context.Context, written []ledger.RowRef) {
	for _, ref := range written {
		if err := e.ledger.Delete(ctx, ref); err != nil {
			logger.Log.Error().Err(err).
				Str("wallet", ref.Wallet).
				Str("row", ref.ID).
				Msg("rollback delete failed")
		}
	}
}

// runUndo deletes every row of the referenced commit.
func (e *Engine) runUndo(ctx context.Context, sess *models.PendingSession) Outbound {
	if sess.Data.Undo == nil {
		e.sessions.Clear(sess.Key)
		return Outbound{Response: msgSessionExpired, Completed: true}
	}
	eventID := sess.Data.Undo.EventID

	rows, err := e.ledger.FindByEventID(ctx, eventID)
	if err != nil {
		logger.Log.Error().Err(err).Str("event_id", eventID).Msg("undo lookup failed")
		e.sessions.Set(sess)
		return Outbound{Response: msgRetryLater, Completed: false}
	}
	for _, row := range rows {
		if err := e.ledger.Delete(ctx, row.Ref); err != nil {
			logger.Log.Error().Err(err).Str("tx_id", row.TxID).Msg("undo delete failed")
			e.sessions.Set(sess)
			return Outbound{Response: msgRetryLater, Completed: false}
		}
	}

	e.ledger.InvalidateAggregates()
	e.sessions.Clear(sess.Key)
	e.sessions.Audit(session.AuditRecord{Key: sess.Key, Action: "undo", EventID: eventID})
	return Outbound{Response: "Catatan dihapus ✅", Completed: true}
}

// runSettle marks a debt settled and records the repayment on both
// wallets.
func (e *Engine) runSettle(ctx context.Context, sess *models.PendingSession, c *models.HutangCandidate) Outbound {
	now := time.Now()

	outRef, err := e.ledger.Append(ctx, c.Borrower, ledger.Entry{
		TxID:        models.TxIDFor(sess.EventID, 0),
		EventID:     sess.EventID,
		Date:        now,
		Description: "Pelunasan hutang ke " + c.Lender,
		Type:        models.TypeExpense,
		Amount:      c.Amount,
		SenderName:  sess.SenderName,
	})
	if err != nil {
		logger.Log.Error().Err(err).Str("event_id", c.EventID).Msg("settlement outflow failed")
		return Outbound{Response: msgRetryLater, Completed: false}
	}
	if _, err := e.ledger.Append(ctx, c.Lender, ledger.Entry{
		TxID:        models.TxIDFor(sess.EventID, 1),
		EventID:     sess.EventID,
		Date:        now,
		Description: "Pengembalian hutang dari " + c.Borrower,
		Type:        models.TypeIncome,
		Amount:      c.Amount,
		SenderName:  sess.SenderName,
	}); err != nil {
		e.rollback(ctx, []ledger.RowRef{outRef})
		logger.Log.Error().Err(err).Str("event_id", c.EventID).Msg("settlement inflow failed")
		return Outbound{Response: msgRetryLater, Completed: false}
	}

	if err := e.ledger.SettleDebt(ctx, c.EventID); err != nil {
		logger.Log.Warn().Err(err).Str("event_id", c.EventID).Msg("debt record not marked settled")
	}

	e.ledger.InvalidateAggregates()
	e.sessions.Clear(sess.Key)
	e.sessions.Audit(session.AuditRecord{Key: sess.Key, Action: "settle_debt", EventID: sess.EventID})
	return Outbound{
		Response: fmt.Sprintf("Hutang %s ke %s (%s) lunas ✅",
			c.Borrower, c.Lender, formatRupiah(c.Amount)),
		Completed: true,
		IsReport:  true,
		EventID:   sess.EventID,
	}
}
