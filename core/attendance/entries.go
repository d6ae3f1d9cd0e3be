package attendance

// BuildEntries turns every row into an Entry, marking the ones flagged by the analysis.
func BuildEntries(t Table, res AnalysisResult) []Entry {
	t = t.Compact()
	cols := LookupColumns(t.Headers)
	flagged := res.FlaggedByRoll()

	entries := make([]Entry, 0, len(t.Rows))
	for _, row := range t.Rows {
		e := Entry{
			StudentName: row.Value(cols.Name).OrDefault(unknownName),
			RollNumber:  row.Value(cols.RollNumber).String(),
			BenchID:     row.Value(cols.BenchID).Ptr(),
			IPAddress:   row.Value(cols.IPAddress).Ptr(),
			Present:     NormalizePresent(row, cols.Present),
		}
		if fe, ok := flagged[e.RollNumber]; ok {
			reason, confidence := fe.Reason, fe.Confidence
			e.Flagged = true
			e.FlagReason = &reason
			e.Confidence = &confidence
		}
		entries = append(entries, e)
	}
	return entries
}
