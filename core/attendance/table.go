package attendance

import "github.com/trezcool/proxyguard/core"

type (
	// Row maps a header to its raw cell value.
	Row map[string]string

	// Table is a parsed attendance sheet. Headers are unique and keep their original case.
	Table struct {
		Headers []string `json:"headers" validate:"required,min=1,dive,notblank"`
		Rows    []Row    `json:"rows" validate:"required"`
	}
)

// Value returns the typed value of `header` in the row.
func (r Row) Value(header string) Value {
	if header == "" {
		return Value{}
	}
	raw, ok := r[header]
	if !ok {
		return Value{}
	}
	return ParseValue(raw)
}

// IsBlank reports whether every value of the row is blank.
func (r Row) IsBlank() bool {
	for _, v := range r {
		if !core.IsBlank(v) {
			return false
		}
	}
	return true
}

// NewTable builds a Table from a header line and positional records.
// Records shorter than the headers are padded with blanks, longer ones are truncated;
// blank records are dropped.
func NewTable(headers []string, records [][]string) Table {
	hdrs := make([]string, len(headers))
	for i, h := range headers {
		hdrs[i] = core.CleanString(h)
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		row := make(Row, len(hdrs))
		for i, h := range hdrs {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		if !row.IsBlank() {
			rows = append(rows, row)
		}
	}
	return Table{Headers: hdrs, Rows: rows}
}

// Compact drops blank rows and keys that are not part of the headers.
func (t Table) Compact() Table {
	known := make(map[string]struct{}, len(t.Headers))
	for _, h := range t.Headers {
		known[h] = struct{}{}
	}

	rows := make([]Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		row := make(Row, len(r))
		for k, v := range r {
			if _, ok := known[k]; ok {
				row[k] = v
			}
		}
		if !row.IsBlank() {
			rows = append(rows, row)
		}
	}
	return Table{Headers: t.Headers, Rows: rows}
}

// Empty reports whether the table has no usable rows.
func (t Table) Empty() bool {
	return len(t.Headers) == 0 || len(t.Rows) == 0
}
