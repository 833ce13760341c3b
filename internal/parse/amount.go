// Package parse extracts rupiah amounts from free-form Indonesian text.
//
// Amounts are minor-unit-free int64 rupiah. Shorthand multipliers ("500rb",
// "1.5jt", "50k") and thousand-separated figures ("Rp 500.000") are all
// normalized to the same representation.
package parse

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoAmount indicates no recognizable amount in the input.
var ErrNoAmount = errors.New("no amount found")

// ErrInvalidAmount indicates an amount that parsed but is not positive.
var ErrInvalidAmount = errors.New("amount must be positive")

var (
	// 500rb, 1.5jt, 50k, 2 juta. "m" rides along with jt/juta.
	shorthandRe = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(rb|ribu|k|jt|juta|m)\b`)

	// Rp 500.000, rp50000
	rupiahRe = regexp.MustCompile(`(?i)\brp[\s.]*([\d][\d.,]*)`)

	// 500.000 or 150,000 (grouped) or a bare run of 4+ digits.
	groupedRe = regexp.MustCompile(`\b\d{1,3}(?:[.,]\d{3})+\b`)
	bareRe    = regexp.MustCompile(`\b\d{4,}\b`)

	// Date shapes excluded before amount detection.
	dateRes = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`),
		regexp.MustCompile(`(?i)\b(?:tanggal|tgl)\s*\d{1,2}\b`),
		regexp.MustCompile(`(?i)\b\d{1,2}\s*(?:januari|februari|maret|april|mei|juni|juli|agustus|september|oktober|november|desember)\b`),
	}
)

func multiplier(suffix string) decimal.Decimal {
	switch strings.ToLower(suffix) {
	case "rb", "ribu", "k":
		return decimal.NewFromInt(1_000)
	default: // jt, juta, m
		return decimal.NewFromInt(1_000_000)
	}
}

func stripDates(text string) string {
	for _, re := range dateRes {
		text = re.ReplaceAllString(text, " ")
	}
	return text
}

// ParseAmount parses a string that should itself be an amount
// ("500rb", "Rp 1.500.000", "250000"). Returns ErrNoAmount or
// ErrInvalidAmount on failure.
func ParseAmount(input string) (int64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, ErrNoAmount
	}

	if m := shorthandRe.FindStringSubmatch(input); m != nil {
		base, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "."))
		if err != nil {
			return 0, ErrNoAmount
		}
		return finalize(base.Mul(multiplier(m[2])))
	}

	if m := rupiahRe.FindStringSubmatch(input); m != nil {
		return parseFigure(m[1])
	}

	if m := groupedRe.FindString(input); m != "" {
		return parseFigure(m)
	}

	if m := bareRe.FindString(input); m != "" {
		return parseFigure(m)
	}

	// Last resort: a short bare integer ("500" in an explicit amount reply).
	if ok, _ := regexp.MatchString(`^\d+$`, input); ok {
		return parseFigure(input)
	}

	return 0, ErrNoAmount
}

// FindAmount scans free text for the first amount token, ignoring date
// expressions. Returns false when the text carries no amount.
func FindAmount(text string) (int64, bool) {
	cleaned := stripDates(text)

	if m := shorthandRe.FindStringSubmatch(cleaned); m != nil {
		base, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "."))
		if err == nil {
			if v, err := finalize(base.Mul(multiplier(m[2]))); err == nil {
				return v, true
			}
		}
	}

	if m := rupiahRe.FindStringSubmatch(cleaned); m != nil {
		if v, err := parseFigure(m[1]); err == nil {
			return v, true
		}
	}

	if m := groupedRe.FindString(cleaned); m != "" {
		if v, err := parseFigure(m); err == nil {
			return v, true
		}
	}

	if m := bareRe.FindString(cleaned); m != "" {
		if v, err := parseFigure(m); err == nil {
			return v, true
		}
	}

	return 0, false
}

// HasAmountPattern reports whether text contains a recognizable amount,
// with date expressions excluded first.
func HasAmountPattern(text string) bool {
	_, ok := FindAmount(text)
	return ok
}

// parseFigure normalizes a digit figure with optional thousand separators.
func parseFigure(figure string) (int64, error) {
	figure = strings.TrimRight(figure, ".,")
	cleaned := strings.Map(func(r rune) rune {
		if r == '.' || r == ',' {
			return -1
		}
		return r
	}, figure)
	if cleaned == "" {
		return 0, ErrNoAmount
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, ErrNoAmount
	}
	return finalize(d)
}

func finalize(d decimal.Decimal) (int64, error) {
	d = d.Round(0)
	if d.LessThanOrEqual(decimal.Zero) {
		return 0, ErrInvalidAmount
	}
	if !d.IsInteger() || !d.BigInt().IsInt64() {
		return 0, ErrInvalidAmount
	}
	return d.IntPart(), nil
}
