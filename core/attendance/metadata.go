package attendance

import "strings"

// Metadata are the session facts detected from an uploaded sheet.
// They only pre-fill the session form and never override user input.
type Metadata struct {
	ClassName        *string `json:"className"`
	Section          *string `json:"section"`
	Subject          *string `json:"subject"`
	Room             *string `json:"room"`
	Date             *string `json:"date"`
	TotalStudents    int     `json:"totalStudents"`
	PresentCount     int     `json:"presentCount"`
	AbsentCount      int     `json:"absentCount"`
	HasIPColumn      bool    `json:"hasIPColumn"`
	HasBenchIDColumn bool    `json:"hasBenchIdColumn"`
}

// ExtractMetadata derives session facts from the sheet.
func ExtractMetadata(headers []string, rows []Row) Metadata {
	cols := ClassifyColumns(headers)
	md := Metadata{TotalStudents: len(rows)}

	// bench ids like "CSE-A-R1C1" carry the class and section
	var benchParts []string
	if h, ok := cols.Header(RoleBenchID); ok && len(rows) > 0 {
		if parts := strings.Split(rows[0].Value(h).String(), "-"); len(parts) >= 2 {
			benchParts = parts
		}
	}

	if h, ok := cols.Header(RoleClass); ok {
		md.ClassName = mostCommon(rows, h)
	} else if benchParts != nil {
		md.ClassName = nonBlank(benchParts[0])
	}

	if h, ok := cols.Header(RoleSection); ok {
		md.Section = mostCommon(rows, h)
	} else if benchParts != nil {
		md.Section = nonBlank(benchParts[1])
	}

	if h, ok := cols.Header(RoleSubject); ok {
		md.Subject = mostCommon(rows, h)
	}
	if h, ok := cols.Header(RoleRoom); ok {
		md.Room = mostCommon(rows, h)
	}
	if h, ok := cols.Header(RoleDate); ok {
		md.Date = mostCommon(rows, h)
	}

	if h, ok := cols.Header(RolePresent); ok {
		for _, r := range rows {
			switch r.Value(h).Mark() {
			case MarkPresent:
				md.PresentCount++
			case MarkAbsent:
				md.AbsentCount++
			}
		}
	}

	_, md.HasIPColumn = MatchExact(RoleIPAddress, headers)
	_, md.HasBenchIDColumn = MatchExact(RoleBenchID, headers)
	return md
}

// mostCommon returns the most frequent non-blank value of the column.
// Ties go to the value encountered first.
func mostCommon(rows []Row, header string) *string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, r := range rows {
		v, ok := r.Value(header).Optional()
		if !ok {
			continue
		}
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}

	var (
		best      string
		bestCount int
	)
	for _, v := range order {
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	if bestCount == 0 {
		return nil
	}
	return &best
}

func nonBlank(s string) *string {
	return ParseValue(s).Ptr()
}
