package extract

import "github.com/leadore/distill/internal/model"

// patternBonus is the reliability bonus for deterministic pattern matches
// over model-derived signals.
const patternBonus = 5

// Confidence scores a signal from rule priority, occurrence count, and how
// it was detected. Pure and deterministic. Always in [0, 100].
func Confidence(priority model.Priority, occurrences int, patternMatch bool) int {
	var score int
	switch priority {
	case model.PriorityCritical:
		score = 90
	case model.PriorityHigh:
		score = 75
	case model.PriorityMedium:
		score = 60
	case model.PriorityLow:
		score = 45
	default:
		score = 45
	}

	switch {
	case occurrences >= 4:
		score += 10
	case occurrences >= 2:
		score += 5
	}

	if patternMatch {
		score += patternBonus
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
