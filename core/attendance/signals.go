package attendance

import (
	"regexp"
	"sort"
	"strconv"
)

// bench ids end with a row/column position, e.g. "CSE-A-R2C5"
var seatPositionRegex = regexp.MustCompile(`(?i)R(\d+)\s*C(\d+)\s*$`)

// analyzeIPs reports addresses shared by several students. Nil without an IP column.
func analyzeIPs(t Table, cols Columns) *IPAnalysis {
	if cols.IPAddress == "" {
		return nil
	}

	counts := make(map[string]int)
	order := make([]string, 0)
	for _, row := range t.Rows {
		ip, ok := row.Value(cols.IPAddress).Optional()
		if !ok {
			continue
		}
		if _, seen := counts[ip]; !seen {
			order = append(order, ip)
		}
		counts[ip]++
	}

	res := &IPAnalysis{UniqueIPs: len(order), SuspiciousIPs: []string{}}
	for _, ip := range order {
		if counts[ip] > 1 {
			res.DuplicateIPs++
			res.SuspiciousIPs = append(res.SuspiciousIPs, ip)
		}
	}
	return res
}

// analyzeSeating counts runs of adjacent occupied seats and bench ids claimed twice.
// Nil without a bench column.
func analyzeSeating(t Table, cols Columns) *SeatingAnalysis {
	if cols.BenchID == "" {
		return nil
	}

	res := new(SeatingAnalysis)
	claims := make(map[string]int)
	occupied := make(map[int][]int) // {bench row: [columns]}
	for _, row := range t.Rows {
		bench, ok := row.Value(cols.BenchID).Optional()
		if !ok {
			continue
		}
		claims[bench]++
		if claims[bench] == 2 {
			res.Anomalies++
		}

		if cols.Present != "" && !NormalizePresent(row, cols.Present) {
			continue
		}
		if r, c, ok := seatPosition(bench); ok {
			occupied[r] = append(occupied[r], c)
		}
	}

	for _, seats := range occupied {
		res.Clusters += countRuns(seats)
	}
	return res
}

func seatPosition(bench string) (row, col int, ok bool) {
	m := seatPositionRegex.FindStringSubmatch(bench)
	if m == nil {
		return 0, 0, false
	}
	row, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	col, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return row, col, true
}

// countRuns counts maximal runs of at least two consecutive columns.
func countRuns(cols []int) int {
	sort.Ints(cols)
	var runs, length int
	for i, c := range cols {
		switch {
		case i == 0:
			length = 1
		case c == cols[i-1]: // same seat twice, already an anomaly
			continue
		case c == cols[i-1]+1:
			length++
		default:
			if length >= 2 {
				runs++
			}
			length = 1
		}
	}
	if length >= 2 {
		runs++
	}
	return runs
}
