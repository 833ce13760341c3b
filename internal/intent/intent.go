package intent

import (
	"regexp"
	"strings"

	"github.com/texturin/catatbot/internal/parse"
)

// Intent is the coarse classification of an inbound message.
type Intent string

const (
	RecordTransaction Intent = "record_transaction"
	RevisionRequest   Intent = "revision_request"
	QueryStatus       Intent = "query_status"
	AnswerPending     Intent = "answer_pending"
	Cancel            Intent = "cancel"
	Chitchat          Intent = "chitchat"
	Unknown           Intent = "unknown"
)

// Result is a pre-filter classification. SkipExternal is set when a rule
// fired and the caller must not fall back to the semantic classifier.
type Result struct {
	Intent       Intent
	Confidence   float64
	SkipExternal bool
}

// commandIntents maps explicit commands to intents, bypassing everything
// else except the reply-context override.
var commandIntents = map[string]Intent{
	"/catat":     RecordTransaction,
	"/revisi":    RevisionRequest,
	"/undo":      RevisionRequest,
	"/saldo":     QueryStatus,
	"/laporan":   QueryStatus,
	"/laporan30": QueryStatus,
	"/status":    QueryStatus,
	"/list":      QueryStatus,
	"/riwayat":   QueryStatus,
	"/dompet":    QueryStatus,
	"/kategori":  QueryStatus,
	"/batal":     Cancel,
	"/cancel":    Cancel,
	"/start":     Chitchat,
	"/help":      Chitchat,
}

var cancelWords = []string{"batal", "batalkan", "cancel", "ga jadi", "gak jadi", "tidak jadi", "jangan", "lupakan"}

var queryWords = []string{"saldo", "laporan", "status", "total", "berapa", "cek", "sisa", "riwayat"}

var confirmShortRe = regexp.MustCompile(`(?i)^(\d{1,2}|y|n|ya|iya|yes|no|tidak|bukan|betul|ok|oke|sip)$`)

var bareNumberRe = regexp.MustCompile(`^\d[\d.,]*\s*(rb|ribu|k|jt|juta)?$`)

// IsCancel reports whether the text is a cancel instruction. Cancel is
// honored in every state of the confirmation flow.
func IsCancel(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	lower = strings.TrimPrefix(lower, "/")
	for _, w := range cancelWords {
		if lower == w {
			return true
		}
	}
	return false
}

// Classify runs the rule-ordered pre-filter. Rule priority is a contract:
// reply-context override, explicit command, cancel keyword, amount+verb,
// interrogative+financial keyword, chitchat-without-addressed-score. The
// first matching rule short-circuits; no rule firing yields Unknown and the
// caller falls back to the external semantic classifier.
func Classify(msg Message) Result {
	text := strings.TrimSpace(msg.Text)
	lower := strings.ToLower(text)

	// Rule 1: reply-context override. A reply to a transaction report that
	// is just a number is a revision, even without any keyword. This is the
	// single most common ambiguous case.
	if msg.QuotedIsTxReport && bareNumberRe.MatchString(lower) {
		return Result{Intent: RevisionRequest, Confidence: 0.9, SkipExternal: true}
	}
	if msg.HasPendingSession && (confirmShortRe.MatchString(lower) || len(lower) < 20) {
		return Result{Intent: AnswerPending, Confidence: 0.85, SkipExternal: true}
	}

	// Rule 2: explicit command.
	first := lower
	if i := strings.IndexByte(first, ' '); i >= 0 {
		first = first[:i]
	}
	if i := strings.IndexByte(first, '@'); i > 0 {
		first = first[:i]
	}
	if it, ok := commandIntents[first]; ok {
		return Result{Intent: it, Confidence: 0.95, SkipExternal: true}
	}

	// Rule 3: cancel keyword.
	if IsCancel(text) {
		return Result{Intent: Cancel, Confidence: 0.9, SkipExternal: true}
	}

	// Rule 4: amount + action verb.
	if parse.HasAmountPattern(text) && HasActionVerb(text) {
		return Result{Intent: RecordTransaction, Confidence: 0.8, SkipExternal: true}
	}

	// Rule 5: interrogative + financial keyword.
	if strings.HasSuffix(lower, "?") || containsAny(lower, queryWords) {
		if containsAny(lower, queryWords) {
			return Result{Intent: QueryStatus, Confidence: 0.7, SkipExternal: true}
		}
	}

	// Rule 6: clearly not addressed to the bot.
	if Score(msg) < 50 {
		return Result{Intent: Chitchat, Confidence: 0.6, SkipExternal: true}
	}

	return Result{Intent: Unknown, Confidence: 0}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
