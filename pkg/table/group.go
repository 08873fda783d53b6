package table

// Group is the maximal sub-table sharing one lambda state, sorted by time.
type Group struct {
	State State
	Table *Table
	// Positions maps each group row back to its position in the table the
	// group was cut from.
	Positions []int
}

// Len returns the number of rows in the group.
func (g *Group) Len() int {
	return g.Table.Len()
}

// GroupByState partitions the table by lambda state. Groups come back in
// ascending state order and each group is sorted by time (stable, so rows
// with equal times keep their relative order). Grouping never mixes rows
// of different states.
func (t *Table) GroupByState() []*Group {
	perm := t.SortPermutation()
	var groups []*Group
	var cur *Group
	for _, p := range perm {
		st := t.Rows[p].State
		if cur == nil || !cur.State.Equal(st) {
			if cur != nil {
				cur.Table = t.Take(cur.Positions)
				groups = append(groups, cur)
			}
			cur = &Group{State: st.Clone()}
		}
		cur.Positions = append(cur.Positions, p)
	}
	if cur != nil {
		cur.Table = t.Take(cur.Positions)
		groups = append(groups, cur)
	}
	return groups
}

// Sub returns the group restricted to the given group-relative positions.
// Positions keep pointing into the original table.
func (g *Group) Sub(rel []int) *Group {
	pos := make([]int, len(rel))
	for i, r := range rel {
		pos[i] = g.Positions[r]
	}
	return &Group{State: g.State, Table: g.Table.Take(rel), Positions: pos}
}
