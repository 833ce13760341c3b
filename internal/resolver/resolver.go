// Package resolver maps free-text project names onto the known project set
// and owns the project-to-wallet bindings.
package resolver

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xrash/smetrics"
)

// Resolution statuses.
type Status string

const (
	// StatusExact means the candidate matched a known name case-insensitively.
	StatusExact Status = "exact"
	// StatusAutoFix means one known name is close enough to substitute
	// silently (similarity at or above the auto-fix threshold).
	StatusAutoFix Status = "auto_fix"
	// StatusAmbiguous means plausible candidates exist but none is certain;
	// the user picks from a numbered list.
	StatusAmbiguous Status = "ambiguous"
	// StatusNew means nothing on record resembles the candidate.
	StatusNew Status = "new"
	// StatusOperational means the text names an operational expense, not a
	// project.
	StatusOperational Status = "operational"
)

const (
	autoFixThreshold   = 0.92
	ambiguousThreshold = 0.80

	// Similarity is only meaningful between names of comparable length.
	maxLenDiff = 3

	minCandidateRunes = 3
)

// operationalKeywords route obviously operational descriptions away from
// project resolution before any fuzzy matching.
var operationalKeywords = []string{
	"gaji", "gajian", "payroll",
	"listrik", "token listrik", "pln",
	"air", "pdam",
	"internet", "wifi", "pulsa",
	"konsumsi", "makan siang", "snack",
	"atk", "alat tulis",
	"kantor", "operasional",
}

// Result is the outcome of resolving a candidate project name.
type Result struct {
	Status Status

	// Match is the resolved known name for exact and auto_fix.
	Match string

	// Candidates is the numbered choice list for ambiguous, best first.
	Candidates []string

	// Confidence is the best similarity seen, 1.0 for exact.
	Confidence float64
}

// Resolver resolves candidates against the cached project-name set.
type Resolver struct {
	cache *NameCache
}

// New builds a Resolver over the given name cache.
func New(cache *NameCache) *Resolver {
	return &Resolver{cache: cache}
}

// IsOperationalText reports whether the text names an operational expense.
// Single-word keywords match whole tokens only, so short terms like "air"
// do not fire inside longer words.
func IsOperationalText(text string) bool {
	lower := strings.ToLower(text)
	words := make(map[string]struct{})
	for _, f := range strings.Fields(lower) {
		words[strings.Trim(f, ".,!?")] = struct{}{}
	}
	for _, kw := range operationalKeywords {
		if strings.ContainsRune(kw, ' ') {
			if strings.Contains(lower, kw) {
				return true
			}
			continue
		}
		if _, ok := words[kw]; ok {
			return true
		}
	}
	return false
}

// Resolve classifies the candidate. The decision is deterministic for a
// fixed known-name set: exact beats auto_fix beats ambiguous beats new, and
// similarity is computed only between names whose lengths differ by at most
// three runes.
func (r *Resolver) Resolve(ctx context.Context, candidate string) (Result, error) {
	candidate = strings.TrimSpace(candidate)
	if utf8.RuneCountInString(candidate) < minCandidateRunes {
		return Result{Status: StatusNew}, nil
	}
	if IsOperationalText(candidate) {
		return Result{Status: StatusOperational}, nil
	}

	known, err := r.cache.Names(ctx)
	if err != nil {
		return Result{}, err
	}

	lower := strings.ToLower(candidate)
	candLen := utf8.RuneCountInString(candidate)

	type scored struct {
		name      string
		score     float64
		substring bool
	}
	var matches []scored

	for _, name := range known {
		nameLower := strings.ToLower(name)
		if nameLower == lower {
			return Result{Status: StatusExact, Match: name, Confidence: 1.0}, nil
		}

		s := scored{name: name}
		if strings.Contains(lower, nameLower) || strings.Contains(nameLower, lower) {
			s.substring = true
		}
		diff := candLen - utf8.RuneCountInString(name)
		if diff < 0 {
			diff = -diff
		}
		if diff <= maxLenDiff {
			s.score = smetrics.JaroWinkler(lower, nameLower, 0.7, 4)
		}
		if s.substring || s.score >= ambiguousThreshold {
			matches = append(matches, s)
		}
	}

	if len(matches) == 0 {
		return Result{Status: StatusNew}, nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].substring && !matches[j].substring
	})

	best := matches[0]
	if best.score >= autoFixThreshold {
		return Result{Status: StatusAutoFix, Match: best.name, Confidence: best.score}, nil
	}

	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.name
	}
	return Result{Status: StatusAmbiguous, Candidates: names, Confidence: best.score}, nil
}
