package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/texturin/catatbot/internal/intent"
	"github.com/texturin/catatbot/internal/models"
	"github.com/texturin/catatbot/internal/parse"
	"github.com/texturin/catatbot/internal/resolver"
	"github.com/texturin/catatbot/internal/wallets"
)

// Event is one user reply fed into the state machine.
type Event struct {
	Text string

	// Number is set when the reply is a bare numbered choice.
	Number    int
	HasNumber bool

	// Amount is set when the reply carries a parseable amount.
	Amount    int64
	HasAmount bool
}

// NewEvent parses the raw reply text into an Event.
func NewEvent(text string) Event {
	ev := Event{Text: strings.TrimSpace(text)}
	if n, err := strconv.Atoi(ev.Text); err == nil && n >= 0 && n < 100 {
		ev.Number = n
		ev.HasNumber = true
	}
	if amount, ok := parse.FindAmount(ev.Text); ok {
		ev.Amount = amount
		ev.HasAmount = true
	}
	return ev
}

// CommandKind tells the engine which side effect a transition requested.
type CommandKind int

const (
	CmdNone CommandKind = iota
	// CmdCommit writes the session's drafts to the ledger.
	CmdCommit
	// CmdUndo deletes all rows of the event referenced by the session.
	CmdUndo
	// CmdSettle settles the chosen debt record.
	CmdSettle
)

// Command is the side effect requested by a transition.
type Command struct {
	Kind   CommandKind
	Hutang *models.HutangCandidate
}

// Outbound is the reply handed back to the chat adapter.
type Outbound struct {
	Response string
	// Completed tells the adapter whether the flow is done; false means a
	// continuation is expected on this thread.
	Completed bool
	// IsReport marks a transaction report so later replies can revise it.
	IsReport bool
	// EventID ties the outbound message to its commit, for reply routing.
	EventID string
}

// Transition advances a pending session by one user reply. It mutates only
// the returned session; all ledger side effects are deferred to the
// returned Command, executed by the engine. A nil returned session means
// the flow ended and the store entry must be cleared.
func (e *Engine) Transition(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	// Cancel wins in every state.
	if intent.IsCancel(ev.Text) {
		return nil, Outbound{Response: msgCancelled, Completed: true}, Command{}, nil
	}

	// Inline amount correction never changes state. A bare amount also
	// fills a draft still waiting for one.
	if handled, out := applyInlineAmount(sess, ev); handled {
		return sess, out, Command{}, nil
	}

	switch sess.State {
	case models.StateCategoryScope:
		return e.onCategoryScope(ctx, sess, ev)
	case models.StateCategoryScopeConfirm:
		return e.onCategoryScopeConfirm(ctx, sess, ev)
	case models.StateDompetOperational:
		return e.onDompetOperational(ctx, sess, ev)
	case models.StateDompetProject:
		return e.onDompetProject(ctx, sess, ev)
	case models.StateProjectNameInput:
		return e.onProjectNameInput(ctx, sess, ev)
	case models.StateProjectNameConfirm:
		return e.onProjectNameConfirm(ctx, sess, ev)
	case models.StateProjectNewConfirm:
		return e.onProjectNewConfirm(ctx, sess, ev)
	case models.StateNewProjectFirstExp:
		return e.onNewProjectFirstExpense(ctx, sess, ev)
	case models.StateOperationalCategory:
		return e.onOperationalCategory(sess, ev)
	case models.StateConfirmCommitOps:
		return e.onConfirmCommit(ctx, sess, ev)
	case models.StateConfirmCommitProject:
		return e.onConfirmCommit(ctx, sess, ev)
	case models.StateProjectFinishConfirm:
		return e.onProjectFinishConfirm(sess, ev)
	case models.StateProjectDompetMismatch:
		return e.onProjectDompetMismatch(ctx, sess, ev)
	case models.StateRevisionMoveToOps:
		return e.onRevisionMoveToOps(ctx, sess, ev)
	case models.StateRevisionMoveToProject:
		return e.onRevisionMoveToProject(ctx, sess, ev)
	case models.StateHutangPayment:
		return e.onHutangPayment(sess, ev)
	case models.StateUndoConfirm:
		return e.onUndoConfirm(sess, ev)
	}
	return nil, Outbound{Response: msgSessionExpired, Completed: true}, Command{},
		fmt.Errorf("unknown session state %q", sess.State)
}

// applyInlineAmount handles the global "ganti 300rb" rule and bare-amount
// answers to a draft still missing its amount.
func applyInlineAmount(sess *models.PendingSession, ev Event) (bool, Outbound) {
	if !ev.HasAmount {
		return false, Outbound{}
	}
	lower := strings.ToLower(ev.Text)
	isCorrection := strings.HasPrefix(lower, "ganti") ||
		strings.HasPrefix(lower, "revisi") ||
		strings.HasPrefix(lower, "ubah")

	// A bare amount fills the first draft waiting for one, in any state.
	if !isCorrection {
		for i := range sess.Drafts {
			if sess.Drafts[i].NeedsAmount {
				sess.Drafts[i].Amount = ev.Amount
				sess.Drafts[i].NeedsAmount = false
				return true, Outbound{Response: msgAmountUpdated + "\n\n" + reprompt(sess), Completed: false}
			}
		}
		return false, Outbound{}
	}

	if len(sess.Drafts) == 0 {
		return false, Outbound{}
	}
	sess.Drafts[0].Amount = ev.Amount
	sess.Drafts[0].NeedsAmount = false
	return true, Outbound{Response: msgAmountUpdated + "\n\n" + reprompt(sess), Completed: false}
}

// reprompt re-renders the question for the session's current state.
func reprompt(sess *models.PendingSession) string {
	switch sess.State {
	case models.StateCategoryScope:
		return promptScope()
	case models.StateCategoryScopeConfirm:
		if sess.Data.ScopeConfirm != nil {
			return promptScopeConfirm(sess.Data.ScopeConfirm.SuggestedScope)
		}
		return promptScope()
	case models.StateDompetOperational:
		return operationalPrompt()
	case models.StateDompetProject:
		return projectPrompt()
	case models.StateProjectNameInput:
		return promptProjectName()
	case models.StateProjectNameConfirm:
		if sess.Data.NameConfirm != nil {
			return promptNameConfirm(sess.Data.NameConfirm)
		}
		return promptProjectName()
	case models.StateProjectNewConfirm:
		if sess.Data.NewProject != nil {
			return promptNewProject(sess.Data.NewProject.Name)
		}
		return promptProjectName()
	case models.StateNewProjectFirstExp:
		name := ""
		if sess.Data.NewProject != nil {
			name = sess.Data.NewProject.Name
		}
		return promptNewProjectFirstExpense(name)
	case models.StateOperationalCategory:
		return promptOperationalCategory()
	case models.StateConfirmCommitOps, models.StateConfirmCommitProject:
		return summarizeDrafts(sess)
	case models.StateProjectFinishConfirm:
		return promptFinishConfirm(projectName(sess))
	case models.StateProjectDompetMismatch:
		if sess.Data.Mismatch != nil {
			return promptMismatch(sess.Data.Mismatch)
		}
	case models.StateRevisionMoveToOps:
		return operationalPrompt()
	case models.StateRevisionMoveToProject:
		return promptProjectName()
	case models.StateHutangPayment:
		if sess.Data.Hutang != nil {
			return promptHutang(sess.Data.Hutang.Candidates)
		}
	case models.StateUndoConfirm:
		return promptUndo(sess.TotalAmount())
	}
	return promptScope()
}

func projectName(sess *models.PendingSession) string {
	if len(sess.Drafts) > 0 {
		return sess.Drafts[0].ProjectName
	}
	return ""
}

func setProjectName(sess *models.PendingSession, name string) {
	for i := range sess.Drafts {
		sess.Drafts[i].ProjectName = name
	}
}

func stay(sess *models.PendingSession, response string) (*models.PendingSession, Outbound, Command, error) {
	return sess, Outbound{Response: response, Completed: false}, Command{}, nil
}

// --- state handlers ---

func (e *Engine) onCategoryScope(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	switch {
	case ev.HasNumber && ev.Number == 1, wantsOperational(ev.Text):
		return e.enterOperationalFlow(ctx, sess)
	case ev.HasNumber && ev.Number == 2, wantsProject(ev.Text):
		return e.enterProjectFlow(ctx, sess)
	}
	return stay(sess, "Pilih 1 (operasional) atau 2 (proyek) ya.\n\n"+promptScope())
}

func (e *Engine) onCategoryScopeConfirm(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	suggested := scopeOperational
	if sess.Data.ScopeConfirm != nil {
		suggested = sess.Data.ScopeConfirm.SuggestedScope
	}
	flip := map[string]string{scopeProject: scopeOperational, scopeOperational: scopeProject}

	target := ""
	switch {
	case isYes(ev.Text):
		target = suggested
	case isNo(ev.Text):
		target = flip[suggested]
	case wantsProject(ev.Text):
		target = scopeProject
	case wantsOperational(ev.Text):
		target = scopeOperational
	}

	switch target {
	case scopeProject:
		return e.enterProjectFlow(ctx, sess)
	case scopeOperational:
		return e.enterOperationalFlow(ctx, sess)
	}
	return stay(sess, reprompt(sess))
}

// enterProjectFlow routes into the project branch: resolve the name when
// one was extracted, otherwise ask for it.
func (e *Engine) enterProjectFlow(ctx context.Context, sess *models.PendingSession) (*models.PendingSession, Outbound, Command, error) {
	sess.Data = models.StateData{}
	if name := projectName(sess); name != "" {
		return e.resolveProject(ctx, sess, name)
	}
	sess.State = models.StateProjectNameInput
	return stay(sess, promptProjectName())
}

// enterOperationalFlow routes into the operational branch, carrying the
// drafts and raw text over.
func (e *Engine) enterOperationalFlow(_ context.Context, sess *models.PendingSession) (*models.PendingSession, Outbound, Command, error) {
	sess.Data = models.StateData{}
	sess.IsNewProject = false
	setProjectName(sess, "")
	for i := range sess.Drafts {
		if sess.Drafts[i].Category == "" {
			sess.Drafts[i].Category = NormalizeOperationalCategory(sess.Drafts[i].Description)
		}
	}
	if sess.Wallet != "" {
		sess.State = models.StateConfirmCommitOps
		return stay(sess, summarizeDrafts(sess))
	}
	sess.State = models.StateDompetOperational
	return stay(sess, operationalPrompt())
}

func (e *Engine) onDompetOperational(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	if wantsProject(ev.Text) {
		return e.enterProjectFlow(ctx, sess)
	}
	if ev.HasNumber {
		if opt, ok := wallets.OperationalSelectionByIdx(ev.Number); ok {
			sess.Wallet = opt.Dompet
			sess.Company = ""
			sess.State = models.StateConfirmCommitOps
			return stay(sess, summarizeDrafts(sess))
		}
		return stay(sess, "Pilihan itu tidak ada.\n\n"+operationalPrompt())
	}
	if dompet, ok := wallets.MatchDompet(ev.Text); ok {
		sess.Wallet = dompet
		sess.State = models.StateConfirmCommitOps
		return stay(sess, summarizeDrafts(sess))
	}
	return stay(sess, "Balas dengan angka ya.\n\n"+operationalPrompt())
}

func (e *Engine) onDompetProject(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	if wantsOperational(ev.Text) {
		return e.enterOperationalFlow(ctx, sess)
	}
	opt, ok := wallets.Selection{}, false
	if ev.HasNumber {
		opt, ok = wallets.ProjectSelectionByIdx(ev.Number)
	}
	if !ok {
		return stay(sess, "Balas dengan angka ya.\n\n"+projectPrompt())
	}

	sess.Wallet = opt.Dompet
	sess.Company = opt.Company

	// A project already locked to a different wallet needs an explicit
	// decision before the commit summary.
	name := projectName(sess)
	if b, bound := e.registry.Get(name); bound && !sess.IsNewProject && b.Wallet != sess.Wallet {
		sess.State = models.StateProjectDompetMismatch
		sess.Data = models.StateData{Mismatch: &models.MismatchData{
			ProjectName:    name,
			LockedWallet:   b.Wallet,
			SelectedWallet: sess.Wallet,
		}}
		return stay(sess, promptMismatch(sess.Data.Mismatch))
	}
	return e.enterProjectConfirm(ctx, sess)
}

// enterProjectConfirm runs the finish heuristic, then lands on the commit
// summary.
func (e *Engine) enterProjectConfirm(_ context.Context, sess *models.PendingSession) (*models.PendingSession, Outbound, Command, error) {
	if !sess.IsNewProject && sess.FinishDecision == models.FinishUnset && hasFinishLanguage(sess.Drafts) {
		sess.State = models.StateProjectFinishConfirm
		return stay(sess, promptFinishConfirm(projectName(sess)))
	}
	sess.State = models.StateConfirmCommitProject
	return stay(sess, summarizeDrafts(sess))
}

func (e *Engine) onProjectNameInput(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	if len(strings.TrimSpace(ev.Text)) < 3 {
		return stay(sess, promptProjectNameTooShort())
	}
	return e.resolveProject(ctx, sess, ev.Text)
}

// resolveProject classifies a candidate name and routes accordingly.
func (e *Engine) resolveProject(ctx context.Context, sess *models.PendingSession, candidate string) (*models.PendingSession, Outbound, Command, error) {
	candidate = resolver.StripLifecycleMarkers(candidate)
	res, err := e.resolver.Resolve(ctx, candidate)
	if err != nil {
		return sess, Outbound{Response: msgRetryLater, Completed: false}, Command{}, err
	}

	switch res.Status {
	case resolver.StatusExact, resolver.StatusAutoFix:
		setProjectName(sess, res.Match)
		sess.IsNewProject = false
		return e.afterProjectResolved(ctx, sess)
	case resolver.StatusAmbiguous:
		sess.State = models.StateProjectNameConfirm
		sess.Data = models.StateData{NameConfirm: &models.NameConfirmData{
			SuggestedName: res.Candidates[0],
			OriginalName:  candidate,
			Confidence:    res.Confidence,
		}}
		return stay(sess, promptNameConfirm(sess.Data.NameConfirm))
	case resolver.StatusOperational:
		return e.enterOperationalFlow(ctx, sess)
	default: // new
		sess.State = models.StateProjectNewConfirm
		sess.Data = models.StateData{NewProject: &models.NewProjectData{Name: candidate}}
		return stay(sess, promptNewProject(candidate))
	}
}

// afterProjectResolved wires the wallet: bound projects inherit their
// locked wallet, unbound ones ask for a selection.
func (e *Engine) afterProjectResolved(ctx context.Context, sess *models.PendingSession) (*models.PendingSession, Outbound, Command, error) {
	name := projectName(sess)
	if b, bound := e.registry.Get(name); bound {
		if sess.Wallet != "" && sess.Wallet != b.Wallet {
			sess.State = models.StateProjectDompetMismatch
			sess.Data = models.StateData{Mismatch: &models.MismatchData{
				ProjectName:    name,
				LockedWallet:   b.Wallet,
				SelectedWallet: sess.Wallet,
			}}
			return stay(sess, promptMismatch(sess.Data.Mismatch))
		}
		sess.Wallet = b.Wallet
		sess.Company = b.Company
		return e.enterProjectConfirm(ctx, sess)
	}
	if sess.Wallet != "" && sess.Company != "" {
		return e.enterProjectConfirm(ctx, sess)
	}
	sess.State = models.StateDompetProject
	return stay(sess, projectPrompt())
}

func (e *Engine) onProjectNameConfirm(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	data := sess.Data.NameConfirm
	if data == nil {
		sess.State = models.StateProjectNameInput
		return stay(sess, promptProjectName())
	}
	switch {
	case isYes(ev.Text):
		setProjectName(sess, data.SuggestedName)
		sess.IsNewProject = false
		return e.afterProjectResolved(ctx, sess)
	case isNo(ev.Text):
		sess.State = models.StateProjectNewConfirm
		sess.Data = models.StateData{NewProject: &models.NewProjectData{Name: data.OriginalName}}
		return stay(sess, promptNewProject(data.OriginalName))
	}
	return stay(sess, reprompt(sess))
}

func (e *Engine) onProjectNewConfirm(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	data := sess.Data.NewProject
	if data == nil {
		sess.State = models.StateProjectNameInput
		return stay(sess, promptProjectName())
	}
	switch {
	case isYes(ev.Text):
		setProjectName(sess, data.Name)
		sess.IsNewProject = true
		if !hasIncome(sess.Drafts) {
			sess.State = models.StateNewProjectFirstExp
			return stay(sess, promptNewProjectFirstExpense(data.Name))
		}
		sess.State = models.StateDompetProject
		return stay(sess, projectPrompt())
	case wantsOperational(ev.Text):
		return e.enterOperationalFlow(ctx, sess)
	case isNo(ev.Text):
		sess.State = models.StateProjectNameInput
		sess.Data = models.StateData{}
		return stay(sess, promptProjectName())
	}
	// Anything else is a retyped name.
	if len(strings.TrimSpace(ev.Text)) >= 3 {
		return e.resolveProject(ctx, sess, ev.Text)
	}
	return stay(sess, reprompt(sess))
}

func hasIncome(drafts []models.DraftTransaction) bool {
	for i := range drafts {
		if drafts[i].Type == models.TypeIncome {
			return true
		}
	}
	return false
}

func (e *Engine) onNewProjectFirstExpense(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	switch {
	case ev.HasNumber && ev.Number == 1, isYes(ev.Text):
		sess.State = models.StateDompetProject
		return stay(sess, projectPrompt())
	case ev.HasNumber && ev.Number == 2, wantsOperational(ev.Text):
		return e.enterOperationalFlow(ctx, sess)
	}
	return stay(sess, reprompt(sess))
}

func (e *Engine) onOperationalCategory(sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	var category string
	if ev.HasNumber {
		if ev.Number >= 1 && ev.Number <= len(models.OperationalCategories) {
			category = models.OperationalCategories[ev.Number-1]
		} else {
			return stay(sess, "Pilihan itu tidak ada.\n\n"+promptOperationalCategory())
		}
	} else {
		category = NormalizeOperationalCategory(ev.Text)
	}
	for i := range sess.Drafts {
		sess.Drafts[i].Category = category
	}
	sess.State = models.StateConfirmCommitOps
	return stay(sess, summarizeDrafts(sess))
}

func (e *Engine) onConfirmCommit(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	lower := strings.ToLower(ev.Text)
	switch {
	case isYes(ev.Text):
		return sess, Outbound{}, Command{Kind: CmdCommit}, nil
	case strings.Contains(lower, "ganti dompet"), strings.Contains(lower, "ganti wallet"):
		sess.Wallet = ""
		sess.Company = ""
		if sess.State == models.StateConfirmCommitOps {
			sess.State = models.StateDompetOperational
			return stay(sess, operationalPrompt())
		}
		sess.State = models.StateDompetProject
		return stay(sess, projectPrompt())
	case sess.State == models.StateConfirmCommitOps && strings.Contains(lower, "ganti kategori"):
		sess.State = models.StateOperationalCategory
		return stay(sess, promptOperationalCategory())
	case sess.State == models.StateConfirmCommitProject && (strings.Contains(lower, "ganti proyek") || strings.Contains(lower, "ganti projek")):
		sess.State = models.StateProjectNameInput
		setProjectName(sess, "")
		sess.Data = models.StateData{}
		return stay(sess, promptProjectName())
	case sess.State == models.StateConfirmCommitProject && wantsOperational(ev.Text):
		return e.enterOperationalFlow(ctx, sess)
	case sess.State == models.StateConfirmCommitOps && wantsProject(ev.Text):
		return e.enterProjectFlow(ctx, sess)
	case isNo(ev.Text) && sess.Data.Duplicate != nil:
		// "tidak" to a duplicate warning means "it is the same one".
		return nil, Outbound{Response: msgCancelled, Completed: true}, Command{}, nil
	}
	return stay(sess, reprompt(sess))
}

func (e *Engine) onProjectFinishConfirm(sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	switch {
	case isYes(ev.Text):
		sess.FinishDecision = models.FinishApply
	case isNo(ev.Text):
		sess.FinishDecision = models.FinishSkip
	default:
		return stay(sess, reprompt(sess))
	}
	sess.State = models.StateConfirmCommitProject
	return stay(sess, summarizeDrafts(sess))
}

func (e *Engine) onProjectDompetMismatch(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	data := sess.Data.Mismatch
	if data == nil {
		sess.State = models.StateDompetProject
		return stay(sess, projectPrompt())
	}
	switch {
	case ev.HasNumber && ev.Number == 1:
		sess.Wallet = data.LockedWallet
		if b, ok := e.registry.Get(data.ProjectName); ok {
			sess.Company = b.Company
		}
		sess.Data = models.StateData{}
		return e.enterProjectConfirm(ctx, sess)
	case ev.HasNumber && ev.Number == 2:
		if err := e.registry.Move(data.ProjectName, data.SelectedWallet, sess.Company, resolver.ReasonUserMove); err != nil {
			return sess, Outbound{Response: msgRetryLater, Completed: false}, Command{}, err
		}
		sess.Wallet = data.SelectedWallet
		sess.Data = models.StateData{}
		return e.enterProjectConfirm(ctx, sess)
	}
	return stay(sess, reprompt(sess))
}

func (e *Engine) onRevisionMoveToOps(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	if ev.HasNumber {
		if opt, ok := wallets.OperationalSelectionByIdx(ev.Number); ok {
			sess.Wallet = opt.Dompet
			sess.Company = ""
			setProjectName(sess, "")
			for i := range sess.Drafts {
				if sess.Drafts[i].Category == "" {
					sess.Drafts[i].Category = NormalizeOperationalCategory(sess.Drafts[i].Description)
				}
			}
			sess.State = models.StateConfirmCommitOps
			return stay(sess, summarizeDrafts(sess))
		}
	}
	return stay(sess, "Balas dengan angka ya.\n\n"+operationalPrompt())
}

func (e *Engine) onRevisionMoveToProject(ctx context.Context, sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	if len(strings.TrimSpace(ev.Text)) < 3 {
		return stay(sess, promptProjectNameTooShort())
	}
	return e.resolveProject(ctx, sess, ev.Text)
}

func (e *Engine) onHutangPayment(sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	data := sess.Data.Hutang
	if data == nil || len(data.Candidates) == 0 {
		return nil, Outbound{Response: msgSessionExpired, Completed: true}, Command{}, nil
	}
	if ev.HasNumber && ev.Number >= 1 && ev.Number <= len(data.Candidates) {
		chosen := data.Candidates[ev.Number-1]
		return sess, Outbound{}, Command{Kind: CmdSettle, Hutang: &chosen}, nil
	}
	return stay(sess, reprompt(sess))
}

func (e *Engine) onUndoConfirm(sess *models.PendingSession, ev Event) (*models.PendingSession, Outbound, Command, error) {
	switch {
	case isYes(ev.Text):
		return sess, Outbound{}, Command{Kind: CmdUndo}, nil
	case isNo(ev.Text):
		return nil, Outbound{Response: "Oke, tidak jadi dihapus.", Completed: true}, Command{}, nil
	}
	return stay(sess, reprompt(sess))
}
