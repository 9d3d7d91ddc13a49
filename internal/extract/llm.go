package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/leadore/distill/internal/model"
	"github.com/leadore/distill/pkg/anthropic"
)

// synthesisSchema is the strict output contract for model synthesis. Output
// that fails validation is discarded, never propagated downstream.
const synthesisSchema = `{
	"type": "object",
	"required": ["signals"],
	"additionalProperties": false,
	"properties": {
		"signals": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["rule_id", "source_text"],
				"additionalProperties": false,
				"properties": {
					"rule_id": {"type": "string", "minLength": 1},
					"source_text": {"type": "string", "minLength": 1, "maxLength": 500},
					"occurrences": {"type": "integer", "minimum": 1}
				}
			}
		}
	}
}`

var compiledSynthesisSchema = jsonschema.MustCompileString("synthesis.json", synthesisSchema)

const synthesisSystem = `You detect business signals in web page text.
Given page content and a list of detection rules, return ONLY a JSON object
of the form {"signals": [{"rule_id": "...", "source_text": "...", "occurrences": N}]}.
source_text must be a verbatim excerpt of at most 500 characters supporting
the detection. Include a rule only when the text clearly supports it.
Return {"signals": []} when nothing matches. No commentary.`

// synthesisOutput mirrors the validated JSON contract.
type synthesisOutput struct {
	Signals []struct {
		RuleID      string `json:"rule_id"`
		SourceText  string `json:"source_text"`
		Occurrences int    `json:"occurrences"`
	} `json:"signals"`
}

// synthesize asks the model to decide the rules pattern matching could not.
// The prompt content is truncated to the configured character budget.
func (e *Extractor) synthesize(ctx context.Context, text string, capture *model.RawCapture, rules []model.HighValueSignalRule) ([]model.ExtractedSignal, error) {
	if len(text) > e.opts.MaxPromptChars {
		text = text[:e.opts.MaxPromptChars]
	}

	byID := make(map[string]model.HighValueSignalRule, len(rules))
	var ruleList strings.Builder
	for _, r := range rules {
		byID[r.ID] = r
		fmt.Fprintf(&ruleList, "- %s: %s (keywords: %s)\n", r.ID, r.Label, strings.Join(r.Keywords, ", "))
	}

	temp := 0.0
	resp, err := e.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.opts.Model,
		MaxTokens:   e.opts.MaxTokens,
		System:      synthesisSystem,
		Temperature: &temp,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Rules:\n%s\nPage content:\n%s", ruleList.String(), text),
		}},
	})
	if err != nil {
		return nil, &model.ExtractionError{Stage: "model", Err: err}
	}
	resp.Usage.LogCost(e.opts.Model, "signal-synthesis")

	out, err := parseSynthesis(resp.Text)
	if err != nil {
		return nil, &model.ExtractionError{Stage: "schema", Err: err}
	}

	var signals []model.ExtractedSignal
	for _, item := range out.Signals {
		rule, ok := byID[item.RuleID]
		if !ok {
			// Hallucinated rule reference.
			zap.L().Warn("extract: discarding signal for unknown rule",
				zap.String("rule_id", item.RuleID),
			)
			continue
		}
		occ := item.Occurrences
		if occ < 1 {
			occ = 1
		}
		sig := model.ExtractedSignal{
			SignalID:        rule.ID,
			Label:           rule.Label,
			SourceText:      item.SourceText,
			Confidence:      Confidence(rule.Priority, occ, false),
			Platform:        capture.Platform,
			ScoreBoost:      rule.ScoreBoost,
			PatternMatch:    false,
			Occurrences:     occ,
			ExtractedAt:     e.now().UTC(),
			SourceCaptureID: capture.ID,
		}
		sig.BoundSourceText()
		signals = append(signals, sig)
	}
	return signals, nil
}

// parseSynthesis extracts and validates the JSON object from model output.
func parseSynthesis(raw string) (*synthesisOutput, error) {
	raw = strings.TrimSpace(raw)
	// Tolerate a fenced code block around the JSON.
	if i := strings.Index(raw, "{"); i > 0 {
		raw = raw[i:]
	}
	if i := strings.LastIndex(raw, "}"); i >= 0 {
		raw = raw[:i+1]
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, eris.Wrap(err, "unmarshal model output")
	}
	if err := compiledSynthesisSchema.Validate(v); err != nil {
		return nil, eris.Wrap(err, "model output does not match contract")
	}

	var out synthesisOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, eris.Wrap(err, "decode model output")
	}
	return &out, nil
}
