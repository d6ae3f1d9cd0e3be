package attendance

import (
	"strings"

	"github.com/trezcool/proxyguard/core"
)

// Role is the meaning of a spreadsheet column.
type Role int

const (
	RoleName Role = iota
	RoleRollNumber
	RoleBenchID
	RoleIPAddress
	RolePresent
	RoleClass
	RoleSection
	RoleSubject
	RoleRoom
	RoleDate
)

var roleNames = [...]string{
	RoleName:       "name",
	RoleRollNumber: "rollNumber",
	RoleBenchID:    "benchId",
	RoleIPAddress:  "ipAddress",
	RolePresent:    "present",
	RoleClass:      "className",
	RoleSection:    "section",
	RoleSubject:    "subject",
	RoleRoom:       "room",
	RoleDate:       "date",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return "unknown"
}

var (
	// Name and roll number are classified by substring; their exact sets only serve MatchExact callers.
	exactTokens = map[Role]map[string]struct{}{
		RoleName:       tokenSet("name", "student", "student name", "full name"),
		RoleRollNumber: tokenSet("roll", "id", "roll no", "roll number", "rollno", "roll_no"),
		RoleBenchID: tokenSet(
			"bench", "bench id", "benchid", "bench_id", "bench no",
			"seat", "seat no", "seat number", "seat_no", "seatid",
		),
		RoleIPAddress: tokenSet("ip", "ip address", "ipaddress", "ip_address", "ip addr", "client ip", "device ip"),
		RolePresent:   tokenSet("present", "attendance", "status", "attended", "att"),
		RoleClass: tokenSet(
			"class", "class name", "classname", "class_name",
			"course", "branch", "program", "grade", "standard",
		),
		RoleSection: tokenSet("section", "sec", "division", "div", "batch", "group"),
		RoleSubject: tokenSet(
			"subject", "subject name", "subject_name", "subject code",
			"course name", "paper", "module",
		),
		RoleRoom: tokenSet("room", "room no", "room number", "room_no", "classroom", "hall", "venue", "lab"),
		RoleDate: tokenSet("date", "session date", "attendance date", "day"),
	}

	substringTokens = map[Role][]string{
		RoleName:       {"name", "student"},
		RoleRollNumber: {"roll", "id"},
		RoleBenchID:    {"bench", "seat"},
		RolePresent:    {"present", "attendance"},
		RoleIPAddress:  {"ip"},
	}
)

// MatchFunc reports whether a header fits a role.
type MatchFunc func(role Role, header string) bool

// ExactMatch matches the normalized header against the role's token set.
func ExactMatch(role Role, header string) bool {
	_, ok := exactTokens[role][normalizeHeader(header)]
	return ok
}

// SubstringMatch matches when the normalized header contains one of the role's keywords.
func SubstringMatch(role Role, header string) bool {
	h := normalizeHeader(header)
	for _, sub := range substringTokens[role] {
		if strings.Contains(h, sub) {
			return true
		}
	}
	return false
}

// MatchExact returns the first header (in original order) exactly matching the role.
func MatchExact(role Role, headers []string) (string, bool) {
	return firstMatch(ExactMatch, role, headers, nil)
}

// MatchSubstring returns the first header (in original order) containing one of the role's keywords.
func MatchSubstring(role Role, headers []string) (string, bool) {
	return firstMatch(SubstringMatch, role, headers, nil)
}

func firstMatch(match MatchFunc, role Role, headers []string, claimed map[string]struct{}) (string, bool) {
	for _, h := range headers {
		if _, ok := claimed[h]; ok {
			continue
		}
		if match(role, h) {
			return h, true
		}
	}
	return "", false
}

func normalizeHeader(h string) string {
	return core.CleanString(h, true /* lower */)
}

type rule struct {
	role  Role
	match MatchFunc
}

// Rules are applied in order; a header claimed by an earlier rule is not offered to later ones.
var (
	metadataRules = []rule{
		{RoleIPAddress, ExactMatch},
		{RoleBenchID, ExactMatch},
		{RoleDate, ExactMatch},
		{RolePresent, ExactMatch},
		{RoleClass, ExactMatch},
		{RoleSection, ExactMatch},
		{RoleSubject, ExactMatch},
		{RoleRoom, ExactMatch},
		{RoleRollNumber, SubstringMatch},
		{RoleName, SubstringMatch},
	}

	lookupRules = []rule{
		{RoleIPAddress, ExactMatch},
		{RoleBenchID, SubstringMatch},
		{RoleDate, ExactMatch},
		{RolePresent, SubstringMatch},
		{RoleClass, ExactMatch},
		{RoleSection, ExactMatch},
		{RoleSubject, ExactMatch},
		{RoleRoom, ExactMatch},
		{RoleRollNumber, SubstringMatch},
		{RoleName, SubstringMatch},
	}
)

// Columns maps roles to headers; an empty string means no column was found.
type Columns struct {
	Name       string `json:"name,omitempty"`
	RollNumber string `json:"rollNumber,omitempty"`
	BenchID    string `json:"benchId,omitempty"`
	IPAddress  string `json:"ipAddress,omitempty"`
	Present    string `json:"present,omitempty"`
	Class      string `json:"className,omitempty"`
	Section    string `json:"section,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Room       string `json:"room,omitempty"`
	Date       string `json:"date,omitempty"`
}

func (c *Columns) field(role Role) *string {
	switch role {
	case RoleName:
		return &c.Name
	case RoleRollNumber:
		return &c.RollNumber
	case RoleBenchID:
		return &c.BenchID
	case RoleIPAddress:
		return &c.IPAddress
	case RolePresent:
		return &c.Present
	case RoleClass:
		return &c.Class
	case RoleSection:
		return &c.Section
	case RoleSubject:
		return &c.Subject
	case RoleRoom:
		return &c.Room
	case RoleDate:
		return &c.Date
	}
	return nil
}

// Header returns the header mapped to role.
func (c Columns) Header(role Role) (string, bool) {
	if f := c.field(role); f != nil && *f != "" {
		return *f, true
	}
	return "", false
}

// ClassifyColumns is the strict mapping used for metadata detection:
// structural roles need an exact header, name and roll number a keyword.
func ClassifyColumns(headers []string) Columns {
	return resolve(headers, metadataRules)
}

// LookupColumns is the lenient mapping used when analysing and recording entries:
// name, roll number, bench and present columns are found by keyword.
func LookupColumns(headers []string) Columns {
	return resolve(headers, lookupRules)
}

func resolve(headers []string, rules []rule) Columns {
	var cols Columns
	claimed := make(map[string]struct{}, len(headers))
	for _, r := range rules {
		h, ok := firstMatch(r.match, r.role, headers, claimed)
		if !ok {
			continue
		}
		claimed[h] = struct{}{}
		*cols.field(r.role) = h
	}
	return cols
}
