// Package extract distills raw captures into permanent signals. Detection is
// a hybrid: deterministic keyword/regex matching against per-industry rule
// sets, with a bounded language-model synthesis pass for rules the patterns
// could not decide. Model output is held to a strict JSON contract and
// discarded when it fails validation.
package extract

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadore/distill/internal/model"
	"github.com/leadore/distill/pkg/anthropic"
)

// Options tunes an Extractor.
type Options struct {
	// Model is the language model used for synthesis. Empty disables the
	// synthesis pass; extraction is then pattern-only.
	Model string

	// MaxPromptChars bounds the content passed to the model. Default 8000.
	MaxPromptChars int

	// MaxTokens bounds the model response. Default 1024.
	MaxTokens int64
}

func (o Options) withDefaults() Options {
	if o.MaxPromptChars <= 0 {
		o.MaxPromptChars = 8000
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	return o
}

// Extractor runs the distillation pipeline for one capture at a time.
type Extractor struct {
	llm  anthropic.Client
	opts Options
	now  func() time.Time
}

// NewExtractor creates an Extractor. llm may be nil for pattern-only mode.
func NewExtractor(llm anthropic.Client, opts Options) *Extractor {
	return &Extractor{llm: llm, opts: opts.withDefaults(), now: time.Now}
}

// Extract strips fluff and runs pattern matching, then model synthesis for
// the rules patterns could not decide. Signals from both paths reference the
// capture for audit. Pattern extraction is deterministic; a synthesis failure
// degrades to the pattern-only result rather than failing the capture.
func (e *Extractor) Extract(ctx context.Context, capture *model.RawCapture, rf *RuleFile) ([]model.ExtractedSignal, error) {
	text := StripFluff(capture.CleanedText, rf.FluffPatterns)

	signals := e.matchPatterns(text, capture, rf.Rules)

	if e.llm != nil && e.opts.Model != "" {
		matched := make(map[string]bool, len(signals))
		for _, s := range signals {
			matched[s.SignalID] = true
		}
		var undecided []model.HighValueSignalRule
		for _, r := range rf.Rules {
			if !matched[r.ID] && r.Platform.Matches(capture.Platform) {
				undecided = append(undecided, r)
			}
		}
		if len(undecided) > 0 {
			synth, err := e.synthesize(ctx, text, capture, undecided)
			if err != nil {
				zap.L().Warn("extract: synthesis failed, keeping pattern results",
					zap.String("capture_id", capture.ID),
					zap.Error(err),
				)
			} else {
				signals = append(signals, synth...)
			}
		}
	}

	return signals, nil
}

// matchPatterns applies keyword and regex rules to the stripped text.
// Deterministic given identical input.
func (e *Extractor) matchPatterns(text string, capture *model.RawCapture, rules []model.HighValueSignalRule) []model.ExtractedSignal {
	lower := strings.ToLower(text)
	var signals []model.ExtractedSignal

	for _, rule := range rules {
		if !rule.Platform.Matches(capture.Platform) {
			continue
		}

		occurrences := 0
		firstIdx := -1
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(kw)
			if kw == "" {
				continue
			}
			idx := strings.Index(lower, kw)
			if idx < 0 {
				continue
			}
			occurrences += strings.Count(lower, kw)
			if firstIdx < 0 || idx < firstIdx {
				firstIdx = idx
			}
		}
		if rule.RegexPattern != "" {
			// Validated at load time; compile failure here means the rule
			// bypassed LoadRuleFile, so treat it as a non-match.
			if re, err := regexp.Compile("(?i)" + rule.RegexPattern); err == nil {
				if locs := re.FindAllStringIndex(text, -1); len(locs) > 0 {
					occurrences += len(locs)
					if firstIdx < 0 || locs[0][0] < firstIdx {
						firstIdx = locs[0][0]
					}
				}
			}
		}
		if occurrences == 0 {
			continue
		}

		sig := model.ExtractedSignal{
			SignalID:        rule.ID,
			Label:           rule.Label,
			SourceText:      excerpt(text, firstIdx),
			Confidence:      Confidence(rule.Priority, occurrences, true),
			Platform:        capture.Platform,
			ScoreBoost:      rule.ScoreBoost,
			PatternMatch:    true,
			Occurrences:     occurrences,
			ExtractedAt:     e.now().UTC(),
			SourceCaptureID: capture.ID,
		}
		sig.BoundSourceText()
		signals = append(signals, sig)
	}

	return signals
}

// excerptContext is how far around a match the excerpt extends.
const excerptContext = 200

// excerpt returns a window of text centered on the match position.
func excerpt(text string, idx int) string {
	if idx < 0 {
		idx = 0
	}
	start := idx - excerptContext/4
	if start < 0 {
		start = 0
	}
	end := start + excerptContext
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}
