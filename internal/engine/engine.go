// Package engine drives a raw chat message through scoring, intent
// pre-filtering, extraction, and the confirmation state machine, down to a
// committed ledger write.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/texturin/catatbot/internal/dupe"
	"github.com/texturin/catatbot/internal/gemini"
	"github.com/texturin/catatbot/internal/intent"
	"github.com/texturin/catatbot/internal/ledger"
	"github.com/texturin/catatbot/internal/logger"
	"github.com/texturin/catatbot/internal/models"
	"github.com/texturin/catatbot/internal/parse"
	"github.com/texturin/catatbot/internal/resolver"
	"github.com/texturin/catatbot/internal/session"
	"github.com/texturin/catatbot/internal/wallets"
)

// Extractor is the AI collaborator at its boundary.
type Extractor interface {
	ExtractTransactions(ctx context.Context, text string, knownProjects []string) (*gemini.Extraction, error)
	ExtractFromImage(ctx context.Context, image []byte, mimeType, caption string, knownProjects []string) (*gemini.Extraction, error)
	ClassifyIntent(ctx context.Context, text string) (string, error)
}

// Inbound is one chat message as seen by the engine, transport-neutral.
type Inbound struct {
	MessageID  string
	Key        models.SessionKey
	Text       string
	SenderName string

	Media     []byte
	MediaMIME string

	QuotedMessageID string
	MentionsBot     bool

	At time.Time
}

// Engine wires the stores and collaborators together.
type Engine struct {
	sessions *session.Store
	registry *resolver.Registry
	names    *resolver.NameCache
	resolver *resolver.Resolver
	detector *dupe.Detector
	ledger   ledger.Ledger
	ai       Extractor

	interactMu      sync.Mutex
	lastInteraction map[string]time.Time // chat id -> last handled message
}

// New builds an engine. The extractor may be nil; extraction paths then
// answer with a retry message.
func New(
	sessions *session.Store,
	registry *resolver.Registry,
	names *resolver.NameCache,
	led ledger.Ledger,
	ai Extractor,
) *Engine {
	return &Engine{
		sessions:        sessions,
		registry:        registry,
		names:           names,
		resolver:        resolver.New(names),
		detector:        dupe.New(led),
		ledger:          led,
		ai:              ai,
		lastInteraction: make(map[string]time.Time),
	}
}

// HandleMessage processes one inbound message end to end. The returned
// Outbound's Response may be empty, meaning nothing should be sent.
func (e *Engine) HandleMessage(ctx context.Context, in Inbound) Outbound {
	if in.At.IsZero() {
		in.At = time.Now()
	}

	quotedRef, quotedOK := session.BotMessageRef{}, false
	if in.QuotedMessageID != "" {
		quotedRef, quotedOK = e.sessions.FindByBotMessage(in.QuotedMessageID)
		// Telegram message ids are per-chat counters. A ref recorded for
		// another chat must never route or revise from here.
		if quotedOK && quotedRef.Key.ChatID != in.Key.ChatID {
			quotedRef, quotedOK = session.BotMessageRef{}, false
		}
	}

	_, hasSession := e.sessions.Get(in.Key)
	// A reply to a bot question routes to that question's session, even
	// from a different group member.
	routedKey := in.Key
	if quotedOK && !quotedRef.IsReport {
		if _, ok := e.sessions.Get(quotedRef.Key); ok {
			routedKey = quotedRef.Key
			hasSession = true
		}
	}

	msg := intent.Message{
		Text:              in.Text,
		HasMedia:          len(in.Media) > 0,
		QuotedBotMessage:  quotedOK,
		QuotedIsTxReport:  quotedOK && quotedRef.IsReport,
		MentionsBot:       in.MentionsBot,
		HasPendingSession: hasSession,
		LastInteraction:   e.lastSeen(in.Key.ChatID),
		Now:               in.At,
	}
	// Dedup on message-intrinsic signals only. Session presence and recency
	// are environment state; including them would let a message upgrade its
	// own replay past the idempotency check.
	dedupMsg := msg
	dedupMsg.HasPendingSession = false
	dedupMsg.LastInteraction = time.Time{}
	score := intent.Score(dedupMsg)

	// Message ids are per-chat counters, so the dedup key carries the chat.
	if in.MessageID != "" && !e.sessions.CheckDedup(in.Key.ChatID+":"+in.MessageID, score) {
		logger.Log.Debug().
			Str("chat_id", logger.HashID(in.Key.ChatID)).
			Int("score", score).
			Msg("duplicate message dropped")
		return Outbound{Completed: true}
	}

	res := intent.Classify(msg)
	if res.Intent == intent.Unknown && e.ai != nil {
		if label, err := e.ai.ClassifyIntent(ctx, in.Text); err == nil {
			res.Intent = intent.Intent(label)
		} else {
			logger.Log.Warn().Err(err).Msg("intent fallback failed")
			res.Intent = intent.Chitchat
		}
	}

	// A reply to a transaction report is never chitchat, whatever the
	// classifier thinks.
	if res.Intent == intent.Chitchat && !hasSession && !(quotedOK && quotedRef.IsReport) {
		return Outbound{Completed: true}
	}

	e.touch(in.Key.ChatID, in.At)

	var out Outbound
	e.sessions.WithKey(routedKey, func() {
		out = e.dispatch(ctx, in, routedKey, res.Intent, quotedRef, quotedOK)
	})
	return out
}

func (e *Engine) lastSeen(chatID string) time.Time {
	e.interactMu.Lock()
	defer e.interactMu.Unlock()
	return e.lastInteraction[chatID]
}

func (e *Engine) touch(chatID string, at time.Time) {
	e.interactMu.Lock()
	defer e.interactMu.Unlock()
	e.lastInteraction[chatID] = at
}

func (e *Engine) dispatch(ctx context.Context, in Inbound, key models.SessionKey, it intent.Intent, quotedRef session.BotMessageRef, quotedOK bool) Outbound {
	// Cancel tears down whatever is pending, session or not.
	if it == intent.Cancel {
		e.sessions.Clear(key)
		return Outbound{Response: msgCancelled, Completed: true}
	}

	// A reply to a committed transaction report is a revision, not a new
	// session.
	if quotedOK && quotedRef.IsReport && quotedRef.EventID != "" {
		return e.handleRevision(ctx, in, quotedRef.EventID)
	}

	if sess, ok := e.sessions.Get(key); ok {
		return e.advance(ctx, sess, NewEvent(in.Text))
	}

	switch it {
	case intent.AnswerPending:
		// The session this answers expired meanwhile.
		return Outbound{Response: msgSessionExpired, Completed: true}
	case intent.QueryStatus:
		return e.handleQuery(ctx, in)
	case intent.RevisionRequest:
		return e.handleRevisionCommand(ctx, in)
	default:
		return e.startFlow(ctx, in, key)
	}
}

// advance feeds one reply into the state machine and executes whatever
// side effect it requests.
func (e *Engine) advance(ctx context.Context, sess *models.PendingSession, ev Event) Outbound {
	next, out, cmd, err := e.Transition(ctx, sess, ev)
	if err != nil {
		logger.Log.Error().Err(err).
			Str("state", string(sess.State)).
			Str("event_id", sess.EventID).
			Msg("transition failed")
	}

	switch cmd.Kind {
	case CmdCommit:
		return e.runCommit(ctx, next)
	case CmdUndo:
		return e.runUndo(ctx, next)
	case CmdSettle:
		return e.runSettle(ctx, next, cmd.Hutang)
	}

	if next == nil {
		e.sessions.Clear(sess.Key)
	} else {
		next.ExpiresAt = time.Time{} // restamp TTL from this reply
		e.sessions.Set(next)
	}
	return out
}

// startFlow is the extraction path for a message with no pending session.
func (e *Engine) startFlow(ctx context.Context, in Inbound, key models.SessionKey) Outbound {
	if e.ai == nil {
		return Outbound{Response: msgRetryLater, Completed: true}
	}

	known, err := e.names.Names(ctx)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("project names unavailable for extraction")
	}

	var ext *gemini.Extraction
	if len(in.Media) > 0 {
		ext, err = e.ai.ExtractFromImage(ctx, in.Media, in.MediaMIME, in.Text, known)
	} else {
		ext, err = e.ai.ExtractTransactions(ctx, in.Text, known)
	}
	if err != nil {
		logger.Log.Error().Err(err).Str("chat_id", logger.HashID(in.Key.ChatID)).Msg("extraction failed")
		return Outbound{Response: msgRetryLater, Completed: true}
	}

	if len(ext.Drafts) == 0 {
		if ext.NeedsClarification && ext.Question != "" {
			return Outbound{Response: ext.Question, Completed: true}
		}
		return Outbound{Completed: true}
	}

	sess := &models.PendingSession{
		Key:             key,
		EventID:         uuid.NewString(),
		Drafts:          ext.Drafts,
		RawText:         in.Text,
		SenderName:      in.SenderName,
		OriginMessageID: in.MessageID,
	}

	// A wallet named in the text becomes the debt-source candidate or the
	// preselected wallet.
	if dompet, ok := wallets.MatchDompet(in.Text); ok {
		if strings.Contains(strings.ToLower(in.Text), "talangan") ||
			strings.Contains(strings.ToLower(in.Text), "dibayarin") {
			sess.DebtSourceWallet = dompet
		} else {
			sess.Wallet = dompet
		}
	}

	// Debt settlement has its own selection flow.
	if isHutangSettlement(in.Text) {
		return e.startHutangFlow(ctx, sess)
	}

	var out Outbound
	var next *models.PendingSession
	var cmd Command
	switch ext.SuggestedScope {
	case gemini.ScopeProject:
		next, out, cmd, err = e.enterProjectFlow(ctx, sess)
	case gemini.ScopeOperational:
		next, out, cmd, err = e.enterOperationalFlow(ctx, sess)
	default:
		sess.State = models.StateCategoryScope
		next, out = sess, Outbound{Response: promptScope(), Completed: false}
	}
	if err != nil {
		logger.Log.Error().Err(err).Msg("initial routing failed")
	}
	if cmd.Kind != CmdNone {
		// Routing cannot commit; scope entry only moves between states.
		logger.Log.Error().Int("cmd", int(cmd.Kind)).Msg("unexpected command from initial routing")
	}
	if next == nil {
		return out
	}

	// Duplicate screen before the user even confirms, so the summary
	// carries the warning.
	e.attachDuplicateWarning(ctx, next, in.At)
	if next.Data.Duplicate != nil && (next.State == models.StateConfirmCommitOps || next.State == models.StateConfirmCommitProject) {
		out.Response = summarizeDrafts(next)
	}

	e.sessions.Set(next)
	return out
}

func isHutangSettlement(text string) bool {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "hutang") && !strings.Contains(lower, "utang") {
		return false
	}
	return strings.Contains(lower, "bayar") || strings.Contains(lower, "lunas") || strings.Contains(lower, "pelunasan")
}

func (e *Engine) startHutangFlow(ctx context.Context, sess *models.PendingSession) Outbound {
	debts, err := e.ledger.OpenDebts(ctx)
	if err != nil {
		logger.Log.Error().Err(err).Msg("open debts lookup failed")
		return Outbound{Response: msgRetryLater, Completed: true}
	}
	if len(debts) == 0 {
		return Outbound{Response: "Tidak ada hutang yang tercatat.", Completed: true}
	}

	candidates := make([]models.HutangCandidate, len(debts))
	for i, d := range debts {
		candidates[i] = models.HutangCandidate{
			No:        i + 1,
			Borrower:  d.Borrower,
			Lender:    d.Lender,
			Amount:    d.Amount,
			EventID:   d.EventID,
			EntryDate: d.EntryDate.Format("02 Jan 2006"),
		}
	}

	if len(candidates) == 1 {
		return e.runSettle(ctx, sess, &candidates[0])
	}

	sess.State = models.StateHutangPayment
	sess.Data = models.StateData{Hutang: &models.HutangData{Candidates: candidates}}
	e.sessions.Set(sess)
	return Outbound{Response: promptHutang(candidates), Completed: false}
}

// attachDuplicateWarning checks the first draft against recent rows and
// marks the session when a probable duplicate is found.
func (e *Engine) attachDuplicateWarning(ctx context.Context, sess *models.PendingSession, at time.Time) {
	if len(sess.Drafts) == 0 || sess.Data.Duplicate != nil {
		return
	}
	d := &sess.Drafts[0]
	if d.Amount <= 0 {
		return
	}
	match, err := e.detector.Check(ctx, d.Description, d.Amount, at)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("duplicate check failed")
		return
	}
	if match == nil {
		return
	}
	sess.Data.Duplicate = &models.DuplicateData{
		MatchDescription: match.Row.Description,
		MatchAmount:      match.Row.Amount,
		MatchDate:        match.Row.Date.Format("02 Jan 2006"),
		Score:            match.Score,
	}
}

// handleRevision processes a reply to a committed transaction report.
func (e *Engine) handleRevision(ctx context.Context, in Inbound, eventID string) Outbound {
	text := strings.ToLower(strings.TrimSpace(in.Text))

	switch {
	case strings.Contains(text, "hapus"), strings.Contains(text, "undo"):
		return e.startUndo(ctx, in.Key, eventID)
	case strings.Contains(text, "operasional"):
		return e.startRevisionMove(ctx, in.Key, eventID, models.StateRevisionMoveToOps)
	case strings.Contains(text, "proyek"), strings.Contains(text, "projek"):
		return e.startRevisionMove(ctx, in.Key, eventID, models.StateRevisionMoveToProject)
	}

	// Default: a bare number or amount corrects the committed amount.
	amount, ok := parse.FindAmount(in.Text)
	if !ok {
		if v, err := parse.ParseAmount(in.Text); err == nil {
			amount, ok = v, true
		}
	}
	if !ok {
		return Outbound{
			Response:  "Mau revisi apa? Balas dengan jumlah baru, \"hapus\", \"pindah ke operasional\", atau \"pindah ke proyek\".",
			Completed: true,
		}
	}

	rows, err := e.ledger.FindByEventID(ctx, eventID)
	if err != nil || len(rows) == 0 {
		logger.Log.Error().Err(err).Str("event_id", eventID).Msg("revision lookup failed")
		return Outbound{Response: msgRetryLater, Completed: true}
	}
	if err := e.ledger.UpdateAmount(ctx, rows[0].Ref, amount); err != nil {
		logger.Log.Error().Err(err).Str("event_id", eventID).Msg("amount update failed")
		return Outbound{Response: msgRetryLater, Completed: true}
	}
	e.ledger.InvalidateAggregates()
	e.sessions.Audit(session.AuditRecord{Key: in.Key, Action: "revise_amount", EventID: eventID})

	return Outbound{
		Response:  "Jumlah direvisi jadi " + formatRupiah(amount) + " ✅",
		Completed: true,
		IsReport:  true,
		EventID:   eventID,
	}
}

// handleRevisionCommand handles /revisi and /undo without a quoted report,
// falling back to the chat's last report.
func (e *Engine) handleRevisionCommand(ctx context.Context, in Inbound) Outbound {
	msgID, ok := e.sessions.LastReport(in.Key.ChatID)
	if !ok {
		return Outbound{Response: "Tidak ada catatan terakhir untuk direvisi.", Completed: true}
	}
	ref, ok := e.sessions.FindByBotMessage(msgID)
	if !ok || ref.EventID == "" {
		return Outbound{Response: "Tidak ada catatan terakhir untuk direvisi.", Completed: true}
	}

	lower := strings.ToLower(in.Text)
	if strings.HasPrefix(lower, "/undo") {
		return e.startUndo(ctx, in.Key, ref.EventID)
	}
	return e.handleRevision(ctx, in, ref.EventID)
}

func (e *Engine) startUndo(ctx context.Context, key models.SessionKey, eventID string) Outbound {
	rows, err := e.ledger.FindByEventID(ctx, eventID)
	if err != nil {
		logger.Log.Error().Err(err).Str("event_id", eventID).Msg("undo lookup failed")
		return Outbound{Response: msgRetryLater, Completed: true}
	}
	if len(rows) == 0 {
		return Outbound{Response: "Catatan itu sudah tidak ada.", Completed: true}
	}

	var total int64
	for _, r := range rows {
		total += r.Amount
	}
	sess := &models.PendingSession{
		Key:     key,
		State:   models.StateUndoConfirm,
		EventID: uuid.NewString(),
		Data:    models.StateData{Undo: &models.UndoData{EventID: eventID}},
	}
	e.sessions.Set(sess)
	return Outbound{Response: promptUndo(total), Completed: false}
}

// startRevisionMove reconstructs drafts from the committed rows and opens
// a move session; old rows are deleted only after the re-commit succeeds.
func (e *Engine) startRevisionMove(ctx context.Context, key models.SessionKey, eventID string, state models.State) Outbound {
	rows, err := e.ledger.FindByEventID(ctx, eventID)
	if err != nil || len(rows) == 0 {
		logger.Log.Error().Err(err).Str("event_id", eventID).Msg("revision move lookup failed")
		return Outbound{Response: msgRetryLater, Completed: true}
	}

	drafts := make([]models.DraftTransaction, len(rows))
	for i, r := range rows {
		drafts[i] = models.DraftTransaction{
			Amount:      r.Amount,
			Description: r.Description,
			Category:    r.Category,
			Type:        r.Type,
			ProjectName: resolver.StripLifecycleMarkers(r.ProjectName),
			Company:     r.Company,
		}
	}

	sess := &models.PendingSession{
		Key:     key,
		State:   state,
		EventID: uuid.NewString(),
		Drafts:  drafts,
		Data:    models.StateData{Revision: &models.RevisionData{EventID: eventID}},
	}
	if state == models.StateRevisionMoveToProject {
		setProjectName(sess, "")
	}
	e.sessions.Set(sess)

	if state == models.StateRevisionMoveToOps {
		return Outbound{Response: operationalPrompt(), Completed: false}
	}
	return Outbound{Response: promptProjectName(), Completed: false}
}

// handleQuery answers balance and recent-activity questions from the
// ledger. Aggregate reporting proper is out of scope; this is a courtesy
// summary.
func (e *Engine) handleQuery(ctx context.Context, in Inbound) Outbound {
	rows, err := e.ledger.Recent(ctx, 7, 10)
	if err != nil {
		logger.Log.Error().Err(err).Msg("recent rows lookup failed")
		return Outbound{Response: msgRetryLater, Completed: true}
	}
	if len(rows) == 0 {
		return Outbound{Response: "Belum ada transaksi 7 hari terakhir.", Completed: true}
	}

	var b strings.Builder
	b.WriteString("Transaksi 7 hari terakhir:\n")
	totals := map[string]int64{}
	for _, r := range rows {
		sign := "-"
		if r.Type == models.TypeIncome {
			sign = "+"
			totals[r.Ref.Wallet] += r.Amount
		} else {
			totals[r.Ref.Wallet] -= r.Amount
		}
		line := r.Description
		if r.ProjectName != "" {
			line += " (" + r.ProjectName + ")"
		}
		b.WriteString("- " + line + ": " + sign + formatRupiah(r.Amount) + "\n")
	}
	b.WriteString("\nPerubahan per dompet:\n")
	for _, w := range wallets.Sheets {
		if delta, ok := totals[w]; ok {
			b.WriteString(w + ": " + formatRupiah(delta) + "\n")
		}
	}
	return Outbound{Response: strings.TrimRight(b.String(), "\n"), Completed: true}
}
