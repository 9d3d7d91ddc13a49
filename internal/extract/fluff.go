package extract

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/leadore/distill/internal/model"
)

// compiledFluff pairs a pattern with its compiled regex.
type compiledFluff struct {
	id string
	re *regexp.Regexp
}

// compileFluff compiles fluff patterns, skipping any whose regex does not
// compile. A bad pattern is a config defect, never a runtime failure.
func compileFluff(patterns []model.FluffPattern) []compiledFluff {
	out := make([]compiledFluff, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			zap.L().Warn("extract: skipping malformed fluff pattern",
				zap.String("pattern_id", p.ID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, compiledFluff{id: p.ID, re: re})
	}
	return out
}

// StripFluff removes boilerplate (copyright notices, cookie banners,
// navigation chrome) from cleaned text before signal detection.
func StripFluff(text string, patterns []model.FluffPattern) string {
	for _, f := range compileFluff(patterns) {
		text = f.re.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(collapseWS(text))
}

var wsRe = regexp.MustCompile(`[ \t]{2,}`)

func collapseWS(s string) string {
	return wsRe.ReplaceAllString(s, " ")
}
