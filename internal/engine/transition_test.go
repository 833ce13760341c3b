package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/texturin/catatbot/internal/ledger"
	"github.com/texturin/catatbot/internal/models"
	"github.com/texturin/catatbot/internal/resolver"
	"github.com/texturin/catatbot/internal/session"
	"github.com/texturin/catatbot/internal/wallets"
)

func newTestEngine(ai Extractor) (*Engine, *ledger.Memory, *session.Store, *resolver.Registry) {
	mem := ledger.NewMemory()
	store := session.NewStore(15*time.Minute, 5*time.Minute)
	names := resolver.NewNameCache(mem.ProjectNames, 5*time.Minute)
	reg := resolver.NewRegistry()
	return New(store, reg, names, mem, ai), mem, store, reg
}

func draftExpense(desc string, amount int64, project string) models.DraftTransaction {
	return models.DraftTransaction{
		Amount:      amount,
		Description: desc,
		Type:        models.TypeExpense,
		ProjectName: project,
	}
}

func testSession(state models.State, drafts ...models.DraftTransaction) *models.PendingSession {
	return &models.PendingSession{
		Key:     models.NewSessionKey("chat1", "user1"),
		State:   state,
		EventID: "ev-test",
		Drafts:  drafts,
	}
}

func TestCancelInEveryState(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	ctx := context.Background()

	states := []models.State{
		models.StateCategoryScope,
		models.StateCategoryScopeConfirm,
		models.StateDompetOperational,
		models.StateDompetProject,
		models.StateProjectNameInput,
		models.StateProjectNameConfirm,
		models.StateProjectNewConfirm,
		models.StateNewProjectFirstExp,
		models.StateOperationalCategory,
		models.StateConfirmCommitOps,
		models.StateConfirmCommitProject,
		models.StateProjectFinishConfirm,
		models.StateProjectDompetMismatch,
		models.StateRevisionMoveToOps,
		models.StateRevisionMoveToProject,
		models.StateHutangPayment,
		models.StateUndoConfirm,
	}

	for _, state := range states {
		t.Run(string(state), func(t *testing.T) {
			t.Parallel()
			sess := testSession(state, draftExpense("beli cat", 500_000, ""))
			next, out, cmd, err := e.Transition(ctx, sess, NewEvent("batal"))
			require.NoError(t, err)
			require.Nil(t, next, "cancel must end the session")
			require.Equal(t, msgCancelled, out.Response)
			require.True(t, out.Completed)
			require.Equal(t, CmdNone, cmd.Kind)
		})
	}
}

func TestInlineAmountCorrectionKeepsState(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	sess := testSession(models.StateConfirmCommitOps, draftExpense("beli cat", 500_000, ""))
	sess.Wallet = wallets.DompetHolja

	next, out, cmd, err := e.Transition(context.Background(), sess, NewEvent("ganti 300rb"))
	require.NoError(t, err)
	require.Equal(t, CmdNone, cmd.Kind)
	require.Equal(t, models.StateConfirmCommitOps, next.State)
	require.Equal(t, int64(300_000), next.Drafts[0].Amount)
	require.Contains(t, out.Response, msgAmountUpdated)
	require.False(t, out.Completed)
}

func TestBareAmountFillsMissingAmount(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	sess := testSession(models.StateConfirmCommitOps, models.DraftTransaction{
		Description: "beli semen", Type: models.TypeExpense, NeedsAmount: true,
	})
	sess.Wallet = wallets.DompetHolja

	next, _, _, err := e.Transition(context.Background(), sess, NewEvent("250rb"))
	require.NoError(t, err)
	require.Equal(t, int64(250_000), next.Drafts[0].Amount)
	require.False(t, next.Drafts[0].NeedsAmount)
	require.Equal(t, models.StateConfirmCommitOps, next.State)
}

func TestScopeSelection(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	ctx := context.Background()

	// "1" routes to the operational wallet prompt.
	sess := testSession(models.StateCategoryScope, draftExpense("bayar listrik", 350_000, ""))
	next, out, _, err := e.Transition(ctx, sess, NewEvent("1"))
	require.NoError(t, err)
	require.Equal(t, models.StateDompetOperational, next.State)
	require.Contains(t, out.Response, "dompet")

	// "2" with a known name goes through resolution; no names on the
	// ledger means a new-project confirmation.
	sess = testSession(models.StateCategoryScope, draftExpense("beli cat", 500_000, "Taman Indah"))
	next, out, _, err = e.Transition(ctx, sess, NewEvent("2"))
	require.NoError(t, err)
	require.Equal(t, models.StateProjectNewConfirm, next.State)
	require.Contains(t, out.Response, "Taman Indah")

	// Garbage re-prompts in place.
	sess = testSession(models.StateCategoryScope, draftExpense("beli cat", 500_000, ""))
	next, out, _, err = e.Transition(ctx, sess, NewEvent("mantap"))
	require.NoError(t, err)
	require.Equal(t, models.StateCategoryScope, next.State)
	require.False(t, out.Completed)
}

func TestOperationalDompetInvalidChoiceReprompts(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	sess := testSession(models.StateDompetOperational, draftExpense("bayar listrik", 350_000, ""))

	next, out, cmd, err := e.Transition(context.Background(), sess, NewEvent("9"))
	require.NoError(t, err)
	require.Equal(t, CmdNone, cmd.Kind)
	require.Equal(t, models.StateDompetOperational, next.State, "invalid choice keeps the state")
	require.False(t, out.Completed)
	require.Contains(t, out.Response, "tidak ada")
}

func TestOperationalEscapeToProject(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	sess := testSession(models.StateDompetOperational, draftExpense("beli cat", 500_000, ""))
	sess.RawText = "beli cat 500rb"

	next, out, _, err := e.Transition(context.Background(), sess, NewEvent("ini proyek"))
	require.NoError(t, err)
	require.Equal(t, models.StateProjectNameInput, next.State)
	require.Equal(t, "beli cat 500rb", next.RawText, "raw text carries across the escape")
	require.Len(t, next.Drafts, 1, "drafts carry across the escape")
	require.False(t, out.Completed)
}

func TestProjectNameTooShort(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	sess := testSession(models.StateProjectNameInput, draftExpense("beli cat", 500_000, ""))

	next, out, _, err := e.Transition(context.Background(), sess, NewEvent("ab"))
	require.NoError(t, err)
	require.Equal(t, models.StateProjectNameInput, next.State)
	require.Contains(t, out.Response, "minimal 3 huruf")
}

func TestProjectNameAutoFix(t *testing.T) {
	t.Parallel()

	e, mem, _, reg := newTestEngine(nil)
	ctx := context.Background()
	_, err := mem.Append(ctx, wallets.DompetHolja, ledger.Entry{
		TxID: "x", EventID: "x", Date: time.Now(),
		Type: models.TypeIncome, Amount: 1, ProjectName: "Purana",
	})
	require.NoError(t, err)
	require.NoError(t, reg.Bind("Purana", wallets.DompetHolja, "HOLLA"))

	sess := testSession(models.StateProjectNameInput, draftExpense("beli cat", 500_000, ""))
	next, out, _, err := e.Transition(ctx, sess, NewEvent("Puraan"))
	require.NoError(t, err)
	// Typo silently corrected; bound wallet inherited; straight to review.
	require.Equal(t, models.StateConfirmCommitProject, next.State)
	require.Equal(t, "Purana", next.Drafts[0].ProjectName)
	require.Equal(t, wallets.DompetHolja, next.Wallet)
	require.Contains(t, out.Response, "Purana")
}

func TestProjectNameAmbiguousConfirm(t *testing.T) {
	t.Parallel()

	e, mem, _, _ := newTestEngine(nil)
	ctx := context.Background()
	_, err := mem.Append(ctx, wallets.DompetHolja, ledger.Entry{
		TxID: "x", EventID: "x", Date: time.Now(),
		Type: models.TypeIncome, Amount: 1, ProjectName: "Purana",
	})
	require.NoError(t, err)

	sess := testSession(models.StateProjectNameInput, draftExpense("beli cat", 500_000, ""))
	next, out, _, err := e.Transition(ctx, sess, NewEvent("Vadim Purana"))
	require.NoError(t, err)
	require.Equal(t, models.StateProjectNameConfirm, next.State)
	require.Contains(t, out.Response, "Purana")

	// "ya" accepts the suggestion; unbound project then needs a wallet.
	next, out, _, err = e.Transition(ctx, next, NewEvent("ya"))
	require.NoError(t, err)
	require.Equal(t, models.StateDompetProject, next.State)
	require.Equal(t, "Purana", next.Drafts[0].ProjectName)
	require.Contains(t, out.Response, "1.")
}

func TestNewProjectFirstExpenseFlow(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	ctx := context.Background()

	sess := testSession(models.StateProjectNewConfirm, draftExpense("beli cat", 500_000, "Taman Indah"))
	sess.Data = models.StateData{NewProject: &models.NewProjectData{Name: "Taman Indah"}}

	// Expense-only batch on a new project triggers the special case.
	next, out, _, err := e.Transition(ctx, sess, NewEvent("ya"))
	require.NoError(t, err)
	require.Equal(t, models.StateNewProjectFirstExp, next.State)
	require.True(t, next.IsNewProject)
	require.Contains(t, out.Response, "pengeluaran")

	next, _, _, err = e.Transition(ctx, next, NewEvent("1"))
	require.NoError(t, err)
	require.Equal(t, models.StateDompetProject, next.State)
}

func TestNewProjectConvertToOperational(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	sess := testSession(models.StateNewProjectFirstExp, draftExpense("beli galon", 50_000, "Aqua"))
	sess.Data = models.StateData{NewProject: &models.NewProjectData{Name: "Aqua"}}
	sess.IsNewProject = true

	next, _, _, err := e.Transition(context.Background(), sess, NewEvent("2"))
	require.NoError(t, err)
	require.Equal(t, models.StateDompetOperational, next.State)
	require.False(t, next.IsNewProject)
	require.Empty(t, next.Drafts[0].ProjectName)
	require.NotEmpty(t, next.Drafts[0].Category, "operational category inferred from description")
}

func TestDompetMismatchFlow(t *testing.T) {
	t.Parallel()

	e, mem, _, reg := newTestEngine(nil)
	ctx := context.Background()
	_, err := mem.Append(ctx, wallets.DompetHolja, ledger.Entry{
		TxID: "x", EventID: "x", Date: time.Now(),
		Type: models.TypeIncome, Amount: 1, ProjectName: "Purana",
	})
	require.NoError(t, err)
	require.NoError(t, reg.Bind("Purana", wallets.DompetHolja, "HOLLA"))

	sess := testSession(models.StateDompetProject, draftExpense("beli cat", 500_000, "Purana"))

	// Option 4 selects Dompet Evan, conflicting with the Holja lock.
	next, out, _, err := e.Transition(ctx, sess, NewEvent("4"))
	require.NoError(t, err)
	require.Equal(t, models.StateProjectDompetMismatch, next.State)
	require.Contains(t, out.Response, wallets.DompetHolja)
	require.Contains(t, out.Response, wallets.DompetEvan)

	// "2" moves the project, with an audit entry.
	next, _, _, err = e.Transition(ctx, next, NewEvent("2"))
	require.NoError(t, err)
	require.Equal(t, models.StateConfirmCommitProject, next.State)
	require.Equal(t, wallets.DompetEvan, next.Wallet)

	b, ok := reg.Get("Purana")
	require.True(t, ok)
	require.Equal(t, wallets.DompetEvan, b.Wallet)
	audit := reg.Audit()
	require.Equal(t, resolver.ReasonUserMove, audit[len(audit)-1].Reason)
}

func TestFinishHeuristic(t *testing.T) {
	t.Parallel()

	e, mem, _, reg := newTestEngine(nil)
	ctx := context.Background()
	_, err := mem.Append(ctx, wallets.DompetHolja, ledger.Entry{
		TxID: "x", EventID: "x", Date: time.Now(),
		Type: models.TypeIncome, Amount: 1, ProjectName: "Purana",
	})
	require.NoError(t, err)
	require.NoError(t, reg.Bind("Purana", wallets.DompetHolja, "HOLLA"))

	sess := testSession(models.StateProjectNameInput, models.DraftTransaction{
		Amount: 5_000_000, Description: "pelunasan projek", Type: models.TypeIncome,
	})
	next, out, _, err := e.Transition(ctx, sess, NewEvent("Purana"))
	require.NoError(t, err)
	require.Equal(t, models.StateProjectFinishConfirm, next.State)
	require.Contains(t, out.Response, "selesai")

	next, _, _, err = e.Transition(ctx, next, NewEvent("ya"))
	require.NoError(t, err)
	require.Equal(t, models.StateConfirmCommitProject, next.State)
	require.Equal(t, models.FinishApply, next.FinishDecision)
}

func TestUndoConfirmDecline(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	sess := testSession(models.StateUndoConfirm)
	sess.Data = models.StateData{Undo: &models.UndoData{EventID: "old-ev"}}

	next, out, cmd, err := e.Transition(context.Background(), sess, NewEvent("tidak"))
	require.NoError(t, err)
	require.Nil(t, next)
	require.Equal(t, CmdNone, cmd.Kind)
	require.True(t, out.Completed)
}

func TestHutangSelection(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	sess := testSession(models.StateHutangPayment)
	sess.Data = models.StateData{Hutang: &models.HutangData{Candidates: []models.HutangCandidate{
		{No: 1, Borrower: wallets.DompetHolja, Lender: wallets.DompetEvan, Amount: 2_000_000, EventID: "d1"},
		{No: 2, Borrower: wallets.DompetHolja, Lender: wallets.DompetTexSby, Amount: 750_000, EventID: "d2"},
	}}}

	// Out-of-range pick re-prompts.
	next, out, cmd, err := e.Transition(context.Background(), sess, NewEvent("5"))
	require.NoError(t, err)
	require.Equal(t, models.StateHutangPayment, next.State)
	require.Equal(t, CmdNone, cmd.Kind)
	require.False(t, out.Completed)

	_, _, cmd, err = e.Transition(context.Background(), next, NewEvent("2"))
	require.NoError(t, err)
	require.Equal(t, CmdSettle, cmd.Kind)
	require.Equal(t, "d2", cmd.Hutang.EventID)
}

func TestConfirmCommitChangeWallet(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	sess := testSession(models.StateConfirmCommitOps, draftExpense("bayar listrik", 350_000, ""))
	sess.Wallet = wallets.DompetHolja

	next, _, _, err := e.Transition(context.Background(), sess, NewEvent("ganti dompet"))
	require.NoError(t, err)
	require.Equal(t, models.StateDompetOperational, next.State)
	require.Empty(t, next.Wallet)
}

func TestConfirmCommitRequestsCommit(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newTestEngine(nil)
	sess := testSession(models.StateConfirmCommitOps, draftExpense("bayar listrik", 350_000, ""))
	sess.Wallet = wallets.DompetHolja

	next, _, cmd, err := e.Transition(context.Background(), sess, NewEvent("ya"))
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, CmdCommit, cmd.Kind)
}
