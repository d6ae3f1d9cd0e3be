package core

import "strings"

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// OrderBy renders orderings whose field is in `allowed` ({api field: column}).
// Unknown fields are skipped; `fallback` is used when nothing is left.
func OrderBy(orderings []DBOrdering, allowed map[string]string, fallback ...DBOrdering) string {
	parts := make([]string, 0, len(orderings))
	for _, ord := range orderings {
		col, ok := allowed[ord.Field]
		if !ok {
			continue
		}
		parts = append(parts, DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(parts) == 0 {
		for _, ord := range fallback {
			parts = append(parts, ord.String())
		}
	}
	return strings.Join(parts, ", ")
}
