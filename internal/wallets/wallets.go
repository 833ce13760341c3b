// Package wallets holds the dompet (wallet) and company configuration and
// the numbered selection tables the chat prompts are built from.
package wallets

import (
	"fmt"
	"strings"
)

// Dompet sheet names. Multiple companies can share one dompet.
const (
	DompetHolja   = "Dompet Holja"
	DompetTexSby  = "Dompet Texturin Sby"
	DompetEvan    = "Dompet Evan"
	DompetPribadi = "Dompet Pribadi"
)

// Sheets lists the physical wallet sheets.
var Sheets = []string{DompetHolja, DompetTexSby, DompetEvan, DompetPribadi}

// Companies maps each dompet to the companies it funds.
var Companies = map[string][]string{
	DompetHolja:   {"HOLLA", "HOJJA"},
	DompetTexSby:  {"TEXTURIN-Surabaya"},
	DompetEvan:    {"TEXTURIN-Bali", "KANTOR"},
	DompetPribadi: {"KANTOR"},
}

// Selection is one numbered option shown to the user.
type Selection struct {
	Idx     int
	Dompet  string
	Company string
}

// ProjectSelections are the 1-5 options for project transactions
// (wallet + company).
var ProjectSelections = []Selection{
	{Idx: 1, Dompet: DompetHolja, Company: "HOLLA"},
	{Idx: 2, Dompet: DompetHolja, Company: "HOJJA"},
	{Idx: 3, Dompet: DompetTexSby, Company: "TEXTURIN-Surabaya"},
	{Idx: 4, Dompet: DompetEvan, Company: "TEXTURIN-Bali"},
	{Idx: 5, Dompet: DompetEvan, Company: "KANTOR"},
}

// OperationalSelections are the 1-4 funding-wallet options for operational
// expenses.
var OperationalSelections = []Selection{
	{Idx: 1, Dompet: DompetHolja},
	{Idx: 2, Dompet: DompetTexSby},
	{Idx: 3, Dompet: DompetEvan},
	{Idx: 4, Dompet: DompetPribadi},
}

// ProjectSelectionByIdx returns the project option for a 1-based index.
func ProjectSelectionByIdx(idx int) (Selection, bool) {
	for _, opt := range ProjectSelections {
		if opt.Idx == idx {
			return opt, true
		}
	}
	return Selection{}, false
}

// OperationalSelectionByIdx returns the operational wallet option for a
// 1-based index.
func OperationalSelectionByIdx(idx int) (Selection, bool) {
	for _, opt := range OperationalSelections {
		if opt.Idx == idx {
			return opt, true
		}
	}
	return Selection{}, false
}

// DompetForCompany returns the dompet funding a company, with DompetHolja
// as the fallback.
func DompetForCompany(company string) string {
	for dompet, companies := range Companies {
		for _, c := range companies {
			if strings.EqualFold(c, company) {
				return dompet
			}
		}
	}
	return DompetHolja
}

// MatchDompet resolves a free-text wallet mention ("tx sby", "evan") to a
// dompet sheet name.
func MatchDompet(mention string) (string, bool) {
	m := strings.ToLower(strings.TrimSpace(mention))
	if m == "" {
		return "", false
	}
	switch {
	case strings.Contains(m, "holja"), strings.Contains(m, "holla"), strings.Contains(m, "hojja"):
		return DompetHolja, true
	case strings.Contains(m, "sby"), strings.Contains(m, "surabaya"), strings.Contains(m, "texturin"):
		return DompetTexSby, true
	case strings.Contains(m, "evan"), strings.Contains(m, "bali"):
		return DompetEvan, true
	case strings.Contains(m, "pribadi"):
		return DompetPribadi, true
	}
	return "", false
}

// FormatProjectPrompt renders the numbered wallet+company choices.
func FormatProjectPrompt() string {
	var b strings.Builder
	b.WriteString("Pilih dompet & company:\n")
	for _, opt := range ProjectSelections {
		fmt.Fprintf(&b, "%d. %s (%s)\n", opt.Idx, opt.Company, opt.Dompet)
	}
	b.WriteString("\nBalas dengan angka 1-5")
	return b.String()
}

// FormatOperationalPrompt renders the numbered funding-wallet choices.
func FormatOperationalPrompt() string {
	var b strings.Builder
	b.WriteString("Pilih dompet sumber dana:\n")
	for _, opt := range OperationalSelections {
		fmt.Fprintf(&b, "%d. %s\n", opt.Idx, opt.Dompet)
	}
	b.WriteString("\nBalas dengan angka 1-4")
	return b.String()
}
