// Package dupe flags probable duplicate transaction reports before commit.
package dupe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/texturin/catatbot/internal/ledger"
)

const (
	weightText   = 0.5
	weightAmount = 0.3
	weightTime   = 0.2

	// A match above this blocks auto-commit and asks the user.
	Threshold = 0.75

	// Time proximity decays linearly to zero across this window.
	proximityWindow = time.Hour

	// Same description and amount more than a week apart reads as a
	// recurring payment, not a duplicate.
	recurringGap = 7 * 24 * time.Hour

	lookbackDays = 7
	lookbackRows = 10
)

// Match is a suspected duplicate already on the ledger.
type Match struct {
	Row   ledger.Row
	Score float64
}

// Detector checks incoming drafts against recent ledger rows.
type Detector struct {
	ledger ledger.Ledger
}

// New builds a detector over the ledger.
func New(l ledger.Ledger) *Detector {
	return &Detector{ledger: l}
}

// Check scans the recent window for the closest match. Returns nil when
// nothing scores above the threshold.
func (d *Detector) Check(ctx context.Context, description string, amount int64, at time.Time) (*Match, error) {
	rows, err := d.ledger.Recent(ctx, lookbackDays, lookbackRows)
	if err != nil {
		return nil, fmt.Errorf("load recent rows: %w", err)
	}

	var best *Match
	for i := range rows {
		score := Score(description, amount, at, rows[i].Description, rows[i].Amount, rows[i].Date)
		if score > Threshold && (best == nil || score > best.Score) {
			best = &Match{Row: rows[i], Score: score}
		}
	}
	return best, nil
}

// Score computes the weighted duplicate score between a draft and an
// existing row.
func Score(descA string, amtA int64, tA time.Time, descB string, amtB int64, tB time.Time) float64 {
	textSim := jaccard(tokens(descA), tokens(descB))
	amtSim := amountSimilarity(amtA, amtB)
	timeSim := timeProximity(tA, tB)

	score := weightText*textSim + weightAmount*amtSim + weightTime*timeSim

	gap := tA.Sub(tB)
	if gap < 0 {
		gap = -gap
	}
	if gap > recurringGap {
		score *= 0.5
	}
	// High overall match with a clearly different amount is usually the
	// same vendor selling something else.
	if score > 0.7 && amtSim < 0.5 {
		score *= 0.6
	}
	return score
}

func tokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?()")
		if f != "" {
			out[f] = struct{}{}
		}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func amountSimilarity(a, b int64) float64 {
	if a == b {
		return 1
	}
	if a <= 0 || b <= 0 {
		return 0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	max := a
	if b > max {
		max = b
	}
	return 1 - float64(diff)/float64(max)
}

func timeProximity(a, b time.Time) float64 {
	gap := a.Sub(b)
	if gap < 0 {
		gap = -gap
	}
	if gap >= proximityWindow {
		return 0
	}
	return 1 - float64(gap)/float64(proximityWindow)
}
