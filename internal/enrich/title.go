// Package enrich holds the per-row stage processors: title classification,
// company enrichment, and contact matching.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/internal/config"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/pkg/anthropic"
)

// Title categories assigned by classification.
const (
	CategoryFounder    = "Founder"
	CategoryRelevant   = "Relevant"
	CategoryIrrelevant = "Irrelevant"
)

const titleSystemPrompt = `Classify a job title for B2B sales outreach into exactly one of these categories: Founder, Relevant, Irrelevant. Founder means an owner or co-founder with buying authority. Relevant means a decision maker or influencer for business services. Irrelevant means no plausible buying role. Respond with a valid JSON object: {"category": "<category>", "confidence": <0.0-1.0>}`

const titleUserPrompt = `Job title: %s
Company: %s`

// founderKeywords short-circuit the LLM call for unambiguous owner titles.
var founderKeywords = []string{
	"founder", "co-founder", "cofounder", "owner", "ceo",
	"chief executive", "president", "managing partner", "principal",
}

// TitleClassifier classifies lead titles via Claude, with a keyword fast
// path for obvious founder titles.
type TitleClassifier struct {
	ai  anthropic.Client
	cfg config.AnthropicConfig
}

// NewTitleClassifier creates a TitleClassifier.
func NewTitleClassifier(ai anthropic.Client, cfg config.AnthropicConfig) *TitleClassifier {
	return &TitleClassifier{ai: ai, cfg: cfg}
}

// classifyByKeyword returns a category without an LLM call when the title is
// empty or matches a founder keyword. Returns ("", false) otherwise.
func classifyByKeyword(title string) (string, bool) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return CategoryIrrelevant, true
	}
	lower := strings.ToLower(trimmed)
	for _, kw := range founderKeywords {
		if strings.Contains(lower, kw) {
			return CategoryFounder, true
		}
	}
	return "", false
}

// Classify annotates the lead with titleCategory, titleConfidence and
// titleSource. Re-entry is idempotent: an already-classified lead is not
// reclassified, so a stage retry never re-spends tokens on merged rows.
func (t *TitleClassifier) Classify(ctx context.Context, lead *model.Lead) (anthropic.TokenUsage, error) {
	var usage anthropic.TokenUsage

	if lead.StringAttr("titleCategory") != "" && lead.StringAttr("titleSource") != "error" {
		return usage, nil
	}

	if category, ok := classifyByKeyword(lead.Title); ok {
		lead.SetAttr("titleCategory", category)
		lead.SetAttr("titleConfidence", 1.0)
		lead.SetAttr("titleSource", "keyword")
		return usage, nil
	}

	resp, err := t.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     t.cfg.Model,
		MaxTokens: t.cfg.MaxTokens,
		System:    titleSystemPrompt,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf(titleUserPrompt, lead.Title, lead.CompanyName),
		}},
	})
	if err != nil {
		return usage, eris.Wrap(err, "enrich: classify title")
	}
	usage = resp.Usage
	usage.LogUsage(t.cfg.Model, "title")

	category, confidence, err := parseTitleResponse(resp.Text())
	if err != nil {
		return usage, err
	}

	lead.SetAttr("titleCategory", category)
	lead.SetAttr("titleConfidence", confidence)
	lead.SetAttr("titleSource", "claude")
	return usage, nil
}

func parseTitleResponse(text string) (string, float64, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return "", 0, eris.Wrapf(err, "enrich: parse classification %q", text)
	}

	switch parsed.Category {
	case CategoryFounder, CategoryRelevant, CategoryIrrelevant:
		return parsed.Category, parsed.Confidence, nil
	}
	return "", 0, eris.Errorf("enrich: unknown title category %q", parsed.Category)
}
