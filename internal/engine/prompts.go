package engine

import (
	"fmt"
	"strings"

	"github.com/texturin/catatbot/internal/models"
	"github.com/texturin/catatbot/internal/resolver"
	"github.com/texturin/catatbot/internal/wallets"
)

// Canned user-facing lines. All prompts follow the numbered-choice
// convention: the user replies with a bare digit.
const (
	msgCancelled      = "Oke, transaksi dibatalkan."
	msgSessionExpired = "Sesi sebelumnya sudah berakhir. Kirim ulang pesannya ya."
	msgRetryLater     = "Lagi ada gangguan, coba lagi sebentar lagi ya."
	msgAmountUpdated  = "Jumlah diperbarui."
)

// finishKeywords mark an income description as a probable project
// settlement. This is a heuristic; the user always confirms.
var finishKeywords = []string{
	"pelunasan", "lunas", "final payment", "penyelesaian",
	"selesai", "kelar", "beres",
}

// hasFinishLanguage reports whether any income draft reads like a project
// settlement.
func hasFinishLanguage(drafts []models.DraftTransaction) bool {
	for i := range drafts {
		if drafts[i].Type != models.TypeIncome {
			continue
		}
		lower := strings.ToLower(drafts[i].Description)
		for _, kw := range finishKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// operationalCategoryKeywords maps description keywords to the fixed
// operational category set.
var operationalCategoryKeywords = []struct {
	category string
	words    []string
}{
	{models.CategoryGaji, []string{"gaji", "gajian", "upah", "honor", "payroll"}},
	{models.CategoryListrik, []string{"listrik", "pln", "token"}},
	{models.CategoryAir, []string{"air", "pdam"}},
	{models.CategoryKonsumsi, []string{"konsumsi", "makan", "snack", "minum", "catering"}},
	{models.CategoryPeralatan, []string{"peralatan", "alat", "perkakas", "mesin"}},
	{models.CategoryInternet, []string{"internet", "wifi", "pulsa", "kuota"}},
}

// NormalizeOperationalCategory maps free text onto the fixed category set,
// defaulting to Lain-lain.
func NormalizeOperationalCategory(text string) string {
	lower := strings.ToLower(text)
	for _, c := range models.OperationalCategories {
		if strings.EqualFold(strings.TrimSpace(text), c) {
			return c
		}
	}
	for _, group := range operationalCategoryKeywords {
		for _, w := range group.words {
			if strings.Contains(lower, w) {
				return group.category
			}
		}
	}
	return models.CategoryLainLain
}

// formatRupiah renders an amount with Indonesian thousand separators.
func formatRupiah(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	out := "Rp " + b.String()
	if neg {
		out = "-" + out
	}
	return out
}

func isYes(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "ya", "iya", "y", "yes", "ok", "oke", "sip", "betul", "benar", "simpan", "gas", "lanjut":
		return true
	}
	return false
}

func isNo(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "tidak", "ga", "gak", "nggak", "engga", "enggak", "no", "n", "bukan", "jangan":
		return true
	}
	return false
}

func promptScope() string {
	return "Ini pengeluaran untuk apa?\n1. Operasional kantor\n2. Proyek\n\nBalas dengan angka 1-2"
}

func promptScopeConfirm(scope string) string {
	label := "operasional kantor"
	if scope == scopeProject {
		label = "proyek"
	}
	return fmt.Sprintf("Sepertinya ini transaksi %s, betul? (ya/tidak)", label)
}

func promptProjectName() string {
	return "Nama proyeknya apa?"
}

func promptProjectNameTooShort() string {
	return "Nama proyek minimal 3 huruf. Nama proyeknya apa?"
}

func promptNameConfirm(d *models.NameConfirmData) string {
	return fmt.Sprintf("Maksudnya proyek *%s*? (ya/tidak)", d.SuggestedName)
}

func promptNewProject(name string) string {
	return fmt.Sprintf(
		"Proyek *%s* belum ada di catatan. Buat proyek baru?\n"+
			"Balas \"ya\" untuk buat, \"operasional\" kalau ini biaya kantor, atau ketik ulang namanya.",
		name)
}

func promptNewProjectFirstExpense(name string) string {
	return fmt.Sprintf(
		"Proyek baru *%s* biasanya dimulai dengan pemasukan, tapi ini pengeluaran.\n"+
			"1. Lanjut sebagai proyek baru\n2. Catat sebagai operasional\n\nBalas dengan angka 1-2",
		name)
}

func promptOperationalCategory() string {
	var b strings.Builder
	b.WriteString("Kategorinya apa?\n")
	for i, c := range models.OperationalCategories {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	b.WriteString("\nBalas dengan angka atau ketik kategorinya")
	return b.String()
}

func promptFinishConfirm(project string) string {
	return fmt.Sprintf("Ini pelunasan. Tandai proyek *%s* selesai? (ya/tidak)", project)
}

func promptMismatch(d *models.MismatchData) string {
	return fmt.Sprintf(
		"Proyek *%s* sudah terikat ke %s, tapi kamu pilih %s.\n"+
			"1. Pakai %s\n2. Pindahkan proyek ke %s\n\nBalas dengan angka 1-2",
		d.ProjectName, d.LockedWallet, d.SelectedWallet, d.LockedWallet, d.SelectedWallet)
}

func promptHutang(candidates []models.HutangCandidate) string {
	var b strings.Builder
	b.WriteString("Hutang yang mana?\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "%d. %s ke %s, %s (%s)\n", c.No, c.Borrower, c.Lender, formatRupiah(c.Amount), c.EntryDate)
	}
	fmt.Fprintf(&b, "\nBalas dengan angka 1-%d", len(candidates))
	return b.String()
}

func promptUndo(total int64) string {
	return fmt.Sprintf("Hapus catatan terakhir senilai %s? (ya/tidak)", formatRupiah(total))
}

func promptDuplicate(d *models.DuplicateData) string {
	return fmt.Sprintf(
		"Mirip dengan catatan %s: \"%s\" %s. Tetap simpan? (ya/tidak)",
		d.MatchDate, d.MatchDescription, formatRupiah(d.MatchAmount))
}

// summarizeDrafts renders the final review block shown in the
// confirm_commit states.
func summarizeDrafts(sess *models.PendingSession) string {
	var b strings.Builder
	b.WriteString("Cek dulu ya:\n")
	for i := range sess.Drafts {
		d := &sess.Drafts[i]
		line := fmt.Sprintf("- %s: %s (%s)", d.Description, formatRupiah(d.Amount), d.Type)
		if d.NeedsAmount {
			line = fmt.Sprintf("- %s: jumlah belum jelas, sebutkan ya", d.Description)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if sess.State == models.StateConfirmCommitProject {
		name := ""
		if len(sess.Drafts) > 0 {
			name = sess.Drafts[0].ProjectName
		}
		fmt.Fprintf(&b, "Proyek: %s\n", name)
	} else if len(sess.Drafts) > 0 && sess.Drafts[0].Category != "" {
		fmt.Fprintf(&b, "Kategori: %s\n", sess.Drafts[0].Category)
	}
	fmt.Fprintf(&b, "Dompet: %s", sess.Wallet)
	if sess.Company != "" {
		fmt.Fprintf(&b, " (%s)", sess.Company)
	}
	b.WriteByte('\n')
	if sess.DebtSourceWallet != "" && sess.DebtSourceWallet != sess.Wallet {
		fmt.Fprintf(&b, "Dana talangan dari: %s\n", sess.DebtSourceWallet)
	}
	if sess.Data.Duplicate != nil {
		b.WriteString(promptDuplicate(sess.Data.Duplicate))
		b.WriteByte('\n')
	}
	b.WriteString("\nBalas \"ya\" untuk simpan, \"ganti dompet\", ")
	if sess.State == models.StateConfirmCommitProject {
		b.WriteString("\"ganti proyek\", ")
	} else {
		b.WriteString("\"ganti kategori\", ")
	}
	b.WriteString("atau \"batal\"")
	return b.String()
}

// formatReport renders the post-commit transaction report. Replies to this
// message drive revision and undo.
func formatReport(sess *models.PendingSession, rows []ledgerLine) string {
	var b strings.Builder
	b.WriteString("Tercatat ✅\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "- %s: %s (%s", r.Description, formatRupiah(r.Amount), r.Wallet)
		if r.ProjectName != "" {
			fmt.Fprintf(&b, ", %s", r.ProjectName)
		}
		b.WriteString(")\n")
	}
	fmt.Fprintf(&b, "Total: %s\n", formatRupiah(sess.TotalAmount()))
	b.WriteString("Balas pesan ini untuk revisi atau ketik /undo untuk hapus.")
	return b.String()
}

// ledgerLine is the slice of a committed row the report needs.
type ledgerLine struct {
	Description string
	Amount      int64
	Wallet      string
	ProjectName string
}

// applyMarker suffixes a lifecycle marker onto a project name, never
// stacking a second one.
func applyMarker(project, marker string) string {
	return resolver.StripLifecycleMarkers(project) + " (" + marker + ")"
}

// scope labels shared with the extractor.
const (
	scopeProject     = "project"
	scopeOperational = "operational"
)

// wantsProject and wantsOperational read scope keywords out of a reply.
func wantsProject(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "proyek") || strings.Contains(lower, "projek") || strings.Contains(lower, "project")
}

func wantsOperational(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "operasional") || strings.Contains(lower, "kantor")
}

func operationalPrompt() string { return wallets.FormatOperationalPrompt() }
func projectPrompt() string     { return wallets.FormatProjectPrompt() }
