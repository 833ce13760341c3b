package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/texturin/catatbot/internal/gemini"
	"github.com/texturin/catatbot/internal/ledger"
	"github.com/texturin/catatbot/internal/models"
	"github.com/texturin/catatbot/internal/session"
	"github.com/texturin/catatbot/internal/wallets"
)

// fakeAI is an Extractor returning canned extractions.
type fakeAI struct {
	ext          *gemini.Extraction
	intentLabel  string
	extractCalls int
}

func (f *fakeAI) ExtractTransactions(context.Context, string, []string) (*gemini.Extraction, error) {
	f.extractCalls++
	return f.ext, nil
}

func (f *fakeAI) ExtractFromImage(context.Context, []byte, string, string, []string) (*gemini.Extraction, error) {
	f.extractCalls++
	return f.ext, nil
}

func (f *fakeAI) ClassifyIntent(context.Context, string) (string, error) {
	if f.intentLabel == "" {
		return "chitchat", nil
	}
	return f.intentLabel, nil
}

// chat drives a conversation against the engine with auto-unique message
// ids.
type chat struct {
	t   *testing.T
	e   *Engine
	key models.SessionKey
	n   int
}

func (c *chat) send(text string) Outbound {
	c.t.Helper()
	c.n++
	return c.e.HandleMessage(context.Background(), Inbound{
		MessageID:  fmt.Sprintf("msg-%d", c.n),
		Key:        c.key,
		Text:       text,
		SenderName: "Rani",
		At:         time.Now(),
	})
}

func TestEndToEndNewProjectExpense(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{ext: &gemini.Extraction{
		Drafts: []models.DraftTransaction{{
			Amount: 500_000, Description: "beli cat",
			Type: models.TypeExpense, ProjectName: "Taman Indah",
		}},
		SuggestedScope: gemini.ScopeProject,
	}}
	e, mem, store, reg := newTestEngine(ai)
	c := &chat{t: t, e: e, key: models.NewSessionKey("chat1", "user1")}

	// No project named "Taman Indah" exists, so the engine asks to create
	// one.
	out := c.send("beli cat 500rb projek Taman Indah")
	require.False(t, out.Completed)
	require.Contains(t, out.Response, "Taman Indah")
	require.Contains(t, out.Response, "baru")

	// Expense-only first transaction on a new project gets the special
	// prompt.
	out = c.send("ya")
	require.False(t, out.Completed)
	require.Contains(t, out.Response, "pengeluaran")

	out = c.send("1")
	require.False(t, out.Completed)
	require.Contains(t, out.Response, "HOLLA")

	out = c.send("1")
	require.False(t, out.Completed)
	require.Contains(t, out.Response, "Cek dulu")

	out = c.send("ya")
	require.True(t, out.Completed)
	require.True(t, out.IsReport)
	require.NotEmpty(t, out.EventID)

	rows, err := mem.FindByEventID(context.Background(), out.EventID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(500_000), rows[0].Amount)
	require.Equal(t, models.TypeExpense, rows[0].Type)
	require.Equal(t, "Taman Indah (Start)", rows[0].ProjectName)
	require.Equal(t, wallets.DompetHolja, rows[0].Ref.Wallet)
	require.Equal(t, "HOLLA", rows[0].Company)

	// Session gone, registry locked, cache updated.
	_, ok := store.Get(c.key)
	require.False(t, ok)
	b, ok := reg.Get("Taman Indah")
	require.True(t, ok)
	require.Equal(t, wallets.DompetHolja, b.Wallet)
}

func TestEndToEndOperationalInvalidChoice(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{ext: &gemini.Extraction{
		Drafts: []models.DraftTransaction{{
			Amount: 350_000, Description: "bayar listrik", Type: models.TypeExpense,
		}},
		SuggestedScope: gemini.ScopeOperational,
	}}
	e, mem, store, _ := newTestEngine(ai)
	c := &chat{t: t, e: e, key: models.NewSessionKey("chat1", "user1")}

	out := c.send("bayar listrik 350rb")
	require.False(t, out.Completed)
	require.Contains(t, out.Response, "dompet")

	// An unmapped digit keeps the session in the same state with a
	// re-prompt.
	out = c.send("9")
	require.False(t, out.Completed)
	require.Contains(t, out.Response, "tidak ada")
	sess, ok := store.Get(c.key)
	require.True(t, ok)
	require.Equal(t, models.StateDompetOperational, sess.State)

	out = c.send("2")
	require.False(t, out.Completed)
	require.Contains(t, out.Response, wallets.DompetTexSby)
	require.Contains(t, out.Response, "Listrik")

	out = c.send("ya")
	require.True(t, out.Completed)

	rows, err := mem.FindByEventID(context.Background(), out.EventID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, wallets.DompetTexSby, rows[0].Ref.Wallet)
	require.Equal(t, models.CategoryListrik, rows[0].Category)
}

func TestReplayedMessageProcessedOnce(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{ext: &gemini.Extraction{
		Drafts:         []models.DraftTransaction{{Amount: 500_000, Description: "beli cat", Type: models.TypeExpense}},
		SuggestedScope: gemini.ScopeOperational,
	}}
	e, _, _, _ := newTestEngine(ai)

	in := Inbound{
		MessageID: "dup-1",
		Key:       models.NewSessionKey("chat1", "user1"),
		Text:      "beli cat 500rb",
		At:        time.Now(),
	}

	first := e.HandleMessage(context.Background(), in)
	require.False(t, first.Completed)
	require.Equal(t, 1, ai.extractCalls)

	// Same message id again: silently dropped, no second extraction.
	second := e.HandleMessage(context.Background(), in)
	require.True(t, second.Completed)
	require.Empty(t, second.Response)
	require.Equal(t, 1, ai.extractCalls)
}

func TestSameMessageIDAcrossChats(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{ext: &gemini.Extraction{
		Drafts:         []models.DraftTransaction{{Amount: 500_000, Description: "beli cat", Type: models.TypeExpense}},
		SuggestedScope: gemini.ScopeOperational,
	}}
	e, _, _, _ := newTestEngine(ai)

	mk := func(chat string) Inbound {
		return Inbound{
			MessageID: "105",
			Key:       models.NewSessionKey(chat, "user1"),
			Text:      "beli cat 500rb",
			At:        time.Now(),
		}
	}

	// Message ids are per-chat counters; the same id from another chat is
	// a different message, not a replay.
	first := e.HandleMessage(context.Background(), mk("chatA"))
	require.False(t, first.Completed)

	second := e.HandleMessage(context.Background(), mk("chatB"))
	require.False(t, second.Completed)
	require.NotEmpty(t, second.Response)
	require.Equal(t, 2, ai.extractCalls)
}

func TestReplyFromAnotherChatDoesNotRevise(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{ext: &gemini.Extraction{
		Drafts:         []models.DraftTransaction{{Amount: 500_000, Description: "beli cat", Type: models.TypeExpense}},
		SuggestedScope: gemini.ScopeOperational,
	}}
	e, mem, store, _ := newTestEngine(ai)
	c := &chat{t: t, e: e, key: models.NewSessionKey("chatA", "user1")}

	c.send("beli cat 500rb")
	c.send("1")
	out := c.send("ya")
	require.True(t, out.IsReport)

	store.RecordBotMessage("report-1", session.BotMessageRef{
		Key: c.key, EventID: out.EventID, IsReport: true,
	})

	// A reply from another chat whose quoted id matches the recorded ref
	// must not touch chat A's rows.
	e.HandleMessage(context.Background(), Inbound{
		MessageID:       "m-b1",
		Key:             models.NewSessionKey("chatB", "user9"),
		Text:            "ganti 300rb",
		QuotedMessageID: "report-1",
		At:              time.Now(),
	})

	rows, err := mem.FindByEventID(context.Background(), out.EventID)
	require.NoError(t, err)
	require.Equal(t, int64(500_000), rows[0].Amount)
}

func TestChitchatIgnored(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{}
	e, _, _, _ := newTestEngine(ai)
	c := &chat{t: t, e: e, key: models.NewSessionKey("chat1", "user1")}

	out := c.send("nanti makan siang dimana")
	require.True(t, out.Completed)
	require.Empty(t, out.Response)
	require.Zero(t, ai.extractCalls)
}

func TestCancelClearsPendingSession(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{ext: &gemini.Extraction{
		Drafts:         []models.DraftTransaction{{Amount: 500_000, Description: "beli cat", Type: models.TypeExpense}},
		SuggestedScope: gemini.ScopeUnknown,
	}}
	e, _, store, _ := newTestEngine(ai)
	c := &chat{t: t, e: e, key: models.NewSessionKey("chat1", "user1")}

	out := c.send("beli cat 500rb")
	require.False(t, out.Completed)
	_, ok := store.Get(c.key)
	require.True(t, ok)

	out = c.send("batal")
	require.True(t, out.Completed)
	require.Equal(t, msgCancelled, out.Response)
	_, ok = store.Get(c.key)
	require.False(t, ok)
}

func TestReplyToReportRevisesAmount(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{ext: &gemini.Extraction{
		Drafts:         []models.DraftTransaction{{Amount: 500_000, Description: "beli cat", Type: models.TypeExpense}},
		SuggestedScope: gemini.ScopeOperational,
	}}
	e, mem, store, _ := newTestEngine(ai)
	c := &chat{t: t, e: e, key: models.NewSessionKey("chat1", "user1")}

	c.send("beli cat 500rb")
	c.send("1")
	out := c.send("ya")
	require.True(t, out.IsReport)

	// The adapter records the outbound report; a reply to it revises.
	store.RecordBotMessage("report-1", session.BotMessageRef{
		Key: c.key, EventID: out.EventID, IsReport: true,
	})

	c.n++
	revised := e.HandleMessage(context.Background(), Inbound{
		MessageID:       fmt.Sprintf("msg-%d", c.n),
		Key:             c.key,
		Text:            "ganti 300rb",
		QuotedMessageID: "report-1",
		At:              time.Now(),
	})
	require.True(t, revised.Completed)
	require.Contains(t, revised.Response, "300.000")

	rows, err := mem.FindByEventID(context.Background(), out.EventID)
	require.NoError(t, err)
	require.Equal(t, int64(300_000), rows[0].Amount)
}

func TestDuplicateWarningAttached(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{ext: &gemini.Extraction{
		Drafts:         []models.DraftTransaction{{Amount: 500_000, Description: "beli cat tembok", Type: models.TypeExpense}},
		SuggestedScope: gemini.ScopeOperational,
	}}
	e, mem, store, _ := newTestEngine(ai)
	c := &chat{t: t, e: e, key: models.NewSessionKey("chat1", "user1")}

	_, err := mem.Append(context.Background(), wallets.DompetHolja, ledger.Entry{
		TxID: "old|0", EventID: "old", Date: time.Now().Add(-10 * time.Minute),
		Description: "beli cat tembok", Type: models.TypeExpense, Amount: 500_000,
	})
	require.NoError(t, err)

	out := c.send("beli cat tembok 500rb")
	require.False(t, out.Completed)

	sess, ok := store.Get(c.key)
	require.True(t, ok)
	require.NotNil(t, sess.Data.Duplicate)
	require.Equal(t, "beli cat tembok", sess.Data.Duplicate.MatchDescription)
}

func TestExpiredSessionAnswer(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{}
	e, _, _, _ := newTestEngine(ai)
	c := &chat{t: t, e: e, key: models.NewSessionKey("chat1", "user1")}

	// "2" with no pending session scores as unaddressed chatter and is
	// ignored instead of answering a question nobody asked.
	out := c.send("2")
	require.True(t, out.Completed)
	require.Empty(t, out.Response)
}

func TestHutangAutoPick(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{
		ext: &gemini.Extraction{
			Drafts:         []models.DraftTransaction{{Amount: 2_000_000, Description: "bayar hutang", Type: models.TypeExpense}},
			SuggestedScope: gemini.ScopeUnknown,
		},
		intentLabel: "record_transaction",
	}
	e, mem, _, _ := newTestEngine(ai)
	c := &chat{t: t, e: e, key: models.NewSessionKey("chat1", "user1")}

	require.NoError(t, mem.AppendDebt(context.Background(), ledger.DebtRecord{
		Borrower: wallets.DompetHolja, Lender: wallets.DompetEvan,
		Amount: 2_000_000, EventID: "debt-1", EntryDate: time.Now().Add(-48 * time.Hour),
	}))

	// Exactly one open debt: settled without a selection prompt.
	out := c.send("@bot bayar hutang dompet holja")
	require.True(t, out.Completed)
	require.Contains(t, out.Response, "lunas")

	open, err := mem.OpenDebts(context.Background())
	require.NoError(t, err)
	require.Empty(t, open)
}
