package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/texturin/catatbot/internal/models"
)

// ExtractTimeout bounds every Gemini API call.
const ExtractTimeout = 30 * time.Second

// ErrExtractTimeout indicates the Gemini call timed out.
var ErrExtractTimeout = errors.New("extraction timed out")

// ErrNoData indicates the model returned nothing usable.
var ErrNoData = errors.New("no usable data extracted")

// ErrEmptyInput indicates there was no text or image to extract from.
var ErrEmptyInput = errors.New("nothing to extract from")

// Scope suggestions the extractor may return.
const (
	ScopeProject     = "project"
	ScopeOperational = "operational"
	ScopeUnknown     = "unknown"
)

// Extraction is the structured result of one extraction call.
type Extraction struct {
	Drafts             []models.DraftTransaction
	SuggestedScope     string
	NeedsClarification bool
	Question           string
}

// extractionResponse is the JSON shape the prompt asks for.
type extractionResponse struct {
	Transactions []struct {
		Amount      json.Number `json:"amount"`
		Description string      `json:"description"`
		Type        string      `json:"type"`
		ProjectName string      `json:"project_name"`
		Category    string      `json:"category"`
	} `json:"transactions"`
	Scope              string `json:"scope"`
	NeedsClarification bool   `json:"needs_clarification"`
	Question           string `json:"question"`
}

func buildExtractionPrompt(knownProjects []string) string {
	var b strings.Builder
	b.WriteString("Kamu asisten pembukuan. Ekstrak transaksi keuangan dari pesan berikut.\n")
	b.WriteString("Jumlah dalam rupiah penuh (500rb = 500000, 1.5jt = 1500000).\n")
	b.WriteString("Balas HANYA JSON dengan bentuk:\n")
	b.WriteString(`{"transactions":[{"amount":0,"description":"","type":"Pemasukan|Pengeluaran","project_name":"","category":""}],` +
		`"scope":"project|operational|unknown","needs_clarification":false,"question":""}` + "\n")
	b.WriteString("scope: \"project\" kalau pengeluaran untuk projek tertentu, \"operational\" kalau biaya rutin kantor (gaji, listrik, air, internet, konsumsi).\n")
	b.WriteString("Kalau jumlah tidak jelas, set amount 0 dan needs_clarification true dengan pertanyaan singkat.\n")
	if len(knownProjects) > 0 {
		b.WriteString("Projek yang sudah dikenal: ")
		b.WriteString(strings.Join(knownProjects, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

// ExtractTransactions pulls draft transactions out of a free-text message.
func (c *Client) ExtractTransactions(ctx context.Context, text string, knownProjects []string) (*Extraction, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	prompt := buildExtractionPrompt(knownProjects) + "\nPesan: " + text
	parts := []*genai.Part{{Text: prompt}}
	return c.extract(ctx, parts)
}

// ExtractFromImage pulls draft transactions out of a receipt or transfer
// proof photo, with the caption as extra context.
func (c *Client) ExtractFromImage(ctx context.Context, image []byte, mimeType, caption string, knownProjects []string) (*Extraction, error) {
	if len(image) == 0 {
		return nil, ErrEmptyInput
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	prompt := buildExtractionPrompt(knownProjects)
	if caption != "" {
		prompt += "\nKeterangan pengirim: " + caption
	}
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
		{Text: prompt},
	}
	return c.extract(ctx, parts)
}

func (c *Client) extract(ctx context.Context, parts []*genai.Part) (*Extraction, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, ExtractTimeout)
	defer cancel()

	resp, err := c.generator.GenerateContent(timeoutCtx, ModelName, []*genai.Content{{Parts: parts}}, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrExtractTimeout
		}
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, ErrNoData
	}
	return parseExtractionResponse(text)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// stripCodeFence removes a surrounding markdown code block, which the model
// adds despite the JSON-only instruction.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

func parseExtractionResponse(text string) (*Extraction, error) {
	var raw extractionResponse
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &raw); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}

	out := &Extraction{
		SuggestedScope:     raw.Scope,
		NeedsClarification: raw.NeedsClarification,
		Question:           raw.Question,
	}
	if out.SuggestedScope == "" {
		out.SuggestedScope = ScopeUnknown
	}

	for _, tx := range raw.Transactions {
		amount, _ := tx.Amount.Int64()
		if amount == 0 {
			if f, err := tx.Amount.Float64(); err == nil {
				amount = int64(f)
			}
		}
		txType := models.TxType(tx.Type)
		if txType != models.TypeIncome && txType != models.TypeExpense {
			txType = models.TypeExpense
		}
		draft := models.DraftTransaction{
			Amount:      amount,
			Description: strings.TrimSpace(tx.Description),
			Category:    strings.TrimSpace(tx.Category),
			Type:        txType,
			ProjectName: strings.TrimSpace(tx.ProjectName),
			NeedsAmount: amount <= 0,
		}
		if draft.Description == "" && draft.Amount <= 0 {
			continue
		}
		out.Drafts = append(out.Drafts, draft)
	}

	if len(out.Drafts) == 0 && !out.NeedsClarification {
		return nil, ErrNoData
	}
	return out, nil
}

// ClassifyIntent is the semantic fallback when no pre-filter rule fires.
// It returns one of the pre-filter intent labels.
func (c *Client) ClassifyIntent(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyInput
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, ExtractTimeout)
	defer cancel()

	prompt := "Klasifikasikan pesan berikut ke salah satu label: " +
		"record_transaction, revision_request, query_status, answer_pending, cancel, chitchat.\n" +
		"Balas HANYA labelnya.\nPesan: " + text

	resp, err := c.generator.GenerateContent(timeoutCtx, ModelName, []*genai.Content{
		{Parts: []*genai.Part{{Text: prompt}}},
	}, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrExtractTimeout
		}
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	label := strings.ToLower(strings.TrimSpace(responseText(resp)))
	if label == "" {
		return "", ErrNoData
	}
	return label, nil
}
