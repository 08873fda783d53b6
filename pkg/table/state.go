package table

import (
	"math"
	"strconv"
	"strings"
)

// State is a lambda state: one coupling-parameter value per alchemical
// dimension. A single-dimension state has length one.
type State []float64

// Key returns a string usable as a map key. Two states have equal keys
// exactly when Equal reports true.
func (s State) Key() string {
	parts := make([]string, len(s))
	for i, v := range s {
		if v == 0 {
			v = 0 // fold -0
		}
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// String formats a scalar state as "0.5" and a tuple as "(0.0, 0.5)".
func (s State) String() string {
	if len(s) == 1 {
		return formatFloat(s[0])
	}
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = formatFloat(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Equal reports whether both states have the same dimension and values.
func (s State) Equal(o State) bool {
	return s.Compare(o) == 0
}

// Compare orders states lexicographically; a shorter state that is a prefix
// of a longer one sorts first.
func (s State) Compare(o State) int {
	n := len(s)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		switch {
		case s[i] < o[i]:
			return -1
		case s[i] > o[i]:
			return 1
		}
	}
	switch {
	case len(s) < len(o):
		return -1
	case len(s) > len(o):
		return 1
	}
	return 0
}

// Clone returns a copy that does not share storage with s.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	copy(out, s)
	return out
}

// ParseState parses a column label that names a lambda state, either a bare
// number ("0.25") or a parenthesised tuple ("(0.0, 0.25)"). It reports false
// for labels that are not states, such as gradient column names.
func ParseState(label string) (State, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, false
	}
	if strings.HasPrefix(label, "(") || strings.HasPrefix(label, "[") {
		if len(label) < 2 {
			return nil, false
		}
		closing := label[len(label)-1]
		if (label[0] == '(' && closing != ')') || (label[0] == '[' && closing != ']') {
			return nil, false
		}
		inner := strings.TrimSpace(label[1 : len(label)-1])
		if inner == "" {
			return nil, false
		}
		fields := strings.Split(inner, ",")
		st := make(State, 0, len(fields))
		for _, f := range fields {
			f = strings.TrimSpace(f)
			if f == "" {
				// "(0.5,)" is a one-element tuple
				continue
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil || math.IsNaN(v) {
				return nil, false
			}
			st = append(st, v)
		}
		if len(st) == 0 {
			return nil, false
		}
		return st, true
	}
	v, err := strconv.ParseFloat(label, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false
	}
	return State{v}, true
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
