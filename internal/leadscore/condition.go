package leadscore

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/leadore/distill/internal/model"
)

// Conditions are a small declarative form, not a general language. Supported
// atoms, joined by "and" / "or" (no parentheses, "and" binds tighter):
//
//	has(<signal_id>)
//	confidence(<signal_id>) <op> <int>
//	occurrences(<signal_id>) <op> <int>
//	signal_count <op> <int>
//
// where <op> is one of == != > >= < <=. Evaluation is sandboxed: anything
// unparseable fails closed.

var atomRe = regexp.MustCompile(`^(?:(has)\((\S+)\)|(confidence|occurrences)\((\S+)\)\s*(==|!=|>=|<=|>|<)\s*(-?\d+)|(signal_count)\s*(==|!=|>=|<=|>|<)\s*(-?\d+))$`)

// evalCondition evaluates a condition against the extracted signals.
// Returns an error for any form it does not recognise; callers fail closed.
func evalCondition(cond string, signals []model.ExtractedSignal) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return false, eris.New("empty condition")
	}

	// "or" over "and": a or b and c == a or (b and c).
	for _, disjunct := range strings.Split(cond, " or ") {
		all := true
		for _, atom := range strings.Split(disjunct, " and ") {
			ok, err := evalAtom(strings.TrimSpace(atom), signals)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

func evalAtom(atom string, signals []model.ExtractedSignal) (bool, error) {
	m := atomRe.FindStringSubmatch(atom)
	if m == nil {
		return false, eris.Errorf("unrecognised condition atom %q", atom)
	}

	switch {
	case m[1] == "has":
		return findSignal(signals, m[2]) != nil, nil

	case m[3] != "":
		sig := findSignal(signals, m[4])
		if sig == nil {
			return false, nil
		}
		val := sig.Confidence
		if m[3] == "occurrences" {
			val = sig.Occurrences
		}
		want, err := strconv.Atoi(m[6])
		if err != nil {
			return false, eris.Wrap(err, "condition operand")
		}
		return compare(val, m[5], want)

	default: // signal_count
		want, err := strconv.Atoi(m[9])
		if err != nil {
			return false, eris.Wrap(err, "condition operand")
		}
		return compare(len(signals), m[8], want)
	}
}

func findSignal(signals []model.ExtractedSignal, id string) *model.ExtractedSignal {
	for i := range signals {
		if signals[i].SignalID == id {
			return &signals[i]
		}
	}
	return nil
}

func compare(a int, op string, b int) (bool, error) {
	switch op {
	case "==":
		return a == b, nil
	case "!=":
		return a != b, nil
	case ">":
		return a > b, nil
	case ">=":
		return a >= b, nil
	case "<":
		return a < b, nil
	case "<=":
		return a <= b, nil
	}
	return false, eris.Errorf("unknown operator %q", op)
}
