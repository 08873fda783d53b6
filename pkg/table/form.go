package table

import "strings"

// Form classifies the shape of a dataset.
type Form string

const (
	// FormUnknown means no parser recorded the shape.
	FormUnknown Form = ""
	// FormGradient is a gradient-style dataset: one column per lambda
	// dimension holding dH/dlambda.
	FormGradient Form = "dHdl"
	// FormEnergyMatrix is an energy-matrix dataset: one column per sampled
	// lambda state holding reduced potential energies.
	FormEnergyMatrix Form = "u_nk"
)

// ParseForm accepts the canonical names plus a few aliases.
func ParseForm(s string) (Form, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", "unknown":
		return FormUnknown, true
	case "dhdl", "gradient":
		return FormGradient, true
	case "u_nk", "unk", "energy-matrix", "energy_matrix":
		return FormEnergyMatrix, true
	}
	return FormUnknown, false
}

// InferForm classifies the table. An explicit Form wins. Otherwise the table
// is an energy matrix when every column label is a lambda state and every
// sampled state has its own column; anything else is treated as gradient
// data.
func InferForm(t *Table) Form {
	if t.Form != FormUnknown {
		return t.Form
	}
	if len(t.Columns) == 0 {
		return FormGradient
	}
	for _, c := range t.Columns {
		if !c.HasState {
			return FormGradient
		}
	}
	for _, st := range t.States() {
		if t.ColumnForState(st) < 0 {
			return FormGradient
		}
	}
	return FormEnergyMatrix
}
