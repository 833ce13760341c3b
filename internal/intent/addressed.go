// Package intent scores whether a message is addressed to the bot and
// pre-classifies its intent before any external AI call.
package intent

import (
	"regexp"
	"strings"
	"time"

	"github.com/texturin/catatbot/internal/parse"
)

// Addressed-score signal weights. The score estimates how likely a message
// is meant for the bot; it is additive and capped at 100.
const (
	scoreQuotedReport   = 70
	scoreQuotedBot      = 50
	scoreMention        = 50
	scorePendingSession = 40
	scoreAmountPattern  = 40
	scoreActionVerb     = 30
	scoreMedia          = 20

	scoreRecentMax = 30
	scoreRecentMin = 15

	recentWindow = 10 * time.Minute
)

// actionVerbs are the financial action words that signal a transaction
// report.
var actionVerbs = []string{
	"beli", "bayar", "transfer", "kirim", "terima", "setor", "tarik",
	"dibayarin", "dibayar", "dibeli", "ditransfer", "dikirim",
	"lunasin", "lunasi", "pelunasan", "lunas",
	"cicil", "cicilan", "nyicil",
	"dp", "uang muka",
	"isi", "topup", "top up",
	"catat", "input", "masukin",
}

var mentionRe = regexp.MustCompile(`(?i)@bot|^/\w+`)

// Message is the inbound-message metadata the scorer and pre-filter see.
// It is pure data; neither component touches any store.
type Message struct {
	Text     string
	HasMedia bool

	// Quoted message context (reply-to).
	QuotedBotMessage  bool
	QuotedIsTxReport  bool
	MentionsBot       bool
	HasPendingSession bool

	LastInteraction time.Time
	Now             time.Time
}

// HasActionVerb reports whether the text contains a financial action verb.
func HasActionVerb(text string) bool {
	lower := strings.ToLower(text)
	for _, verb := range actionVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// Score estimates 0-100 how likely the message is directed at the bot.
// Pure function of the message metadata.
func Score(msg Message) int {
	score := 0

	switch {
	case msg.QuotedIsTxReport:
		score += scoreQuotedReport
	case msg.QuotedBotMessage:
		score += scoreQuotedBot
	}

	if msg.MentionsBot || mentionRe.MatchString(msg.Text) {
		score += scoreMention
	}

	if msg.HasPendingSession {
		score += scorePendingSession
	}

	if parse.HasAmountPattern(msg.Text) {
		score += scoreAmountPattern
	}

	if HasActionVerb(msg.Text) {
		score += scoreActionVerb
	}

	if msg.HasMedia {
		score += scoreMedia
	}

	score += recencyScore(msg.LastInteraction, msg.Now)

	if score > 100 {
		score = 100
	}
	return score
}

// recencyScore decays from scoreRecentMax to scoreRecentMin across the
// recent-activity window, then drops to zero.
func recencyScore(last, now time.Time) int {
	if last.IsZero() || now.IsZero() || now.Before(last) {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed > recentWindow {
		return 0
	}
	span := scoreRecentMax - scoreRecentMin
	decayed := scoreRecentMax - int(float64(span)*float64(elapsed)/float64(recentWindow))
	return decayed
}
