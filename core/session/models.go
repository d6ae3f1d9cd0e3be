package session

import (
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/attendance"
)

const (
	DefaultClassName = "Unknown"
	DefaultSection   = "A"

	defaultPageLimit = 10
	maxPageLimit     = 100
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrInvalidID = errors.New("invalid session ID")
)

// Session is the persisted snapshot of one analysis run.
type Session struct {
	ID        string                    `json:"id"`
	Date      time.Time                 `json:"date"` // UTC
	ClassName string                    `json:"className"`
	Section   string                    `json:"section"`
	Subject   *string                   `json:"subject"`
	Room      *string                   `json:"room"`
	Entries   []attendance.Entry        `json:"entries,omitempty"`
	Analysis  attendance.AnalysisResult `json:"analysis"`
	RawData   *attendance.Table         `json:"rawData,omitempty"`
	Status    attendance.Status         `json:"status"`
	CreatedAt time.Time                 `json:"createdAt"` // UTC
	UpdatedAt time.Time                 `json:"updatedAt"` // UTC
}

// Summary drops the bulky parts of the session (entries & raw data).
func (s Session) Summary() Session {
	s.Entries = nil
	s.RawData = nil
	return s
}

// FlaggedEntries returns the entries marked by the analysis.
func (s Session) FlaggedEntries() []attendance.Entry {
	flagged := make([]attendance.Entry, 0, s.Analysis.FlaggedCount)
	for _, e := range s.Entries {
		if e.Flagged {
			flagged = append(flagged, e)
		}
	}
	return flagged
}

// NewSession contains information needed to store a Session as is.
type NewSession struct {
	Date      *time.Time                `json:"date"`
	ClassName string                    `json:"className" validate:"required,notblank,max=128"`
	Section   string                    `json:"section" validate:"required,notblank,max=64"`
	Subject   string                    `json:"subject" validate:"max=128"`
	Room      string                    `json:"room" validate:"max=64"`
	Entries   []attendance.Entry        `json:"entries" validate:"dive"`
	Analysis  attendance.AnalysisResult `json:"analysis"`
	RawData   *attendance.Table         `json:"rawData"`
}

func (ns *NewSession) Validate(validate *validator.Validate) error {
	ns.ClassName = core.CleanString(ns.ClassName)
	ns.Section = core.CleanString(ns.Section)
	ns.Subject = core.CleanString(ns.Subject)
	ns.Room = core.CleanString(ns.Room)
	return validate.Struct(ns)
}

// RecordSession is an analysis run to be recorded.
// Blank class & section take the DefaultClassName & DefaultSection.
type RecordSession struct {
	Date      time.Time
	ClassName string
	Section   string
	Subject   string
	Room      string
	Table     attendance.Table
	Result    attendance.AnalysisResult
}

type QueryFilter struct {
	Status    string    `query:"status"`
	ClassName string    `query:"class"`
	Section   string    `query:"section"`
	DateFrom  time.Time `query:"date_from"`
	DateTo    time.Time `query:"date_to"`
	Page      int       `query:"page"`
	Limit     int       `query:"limit"`
}

// Clean normalizes the filter & sets pagination defaults.
func (qf *QueryFilter) Clean() {
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	if !attendance.Status(qf.Status).Valid() {
		qf.Status = ""
	}
	qf.ClassName = core.CleanString(qf.ClassName)
	qf.Section = core.CleanString(qf.Section)
	if qf.Page < 1 {
		qf.Page = 1
	}
	if qf.Limit < 1 {
		qf.Limit = defaultPageLimit
	} else if qf.Limit > maxPageLimit {
		qf.Limit = maxPageLimit
	}
	if !qf.DateFrom.IsZero() {
		qf.DateFrom = qf.DateFrom.UTC()
	}
	if !qf.DateTo.IsZero() {
		qf.DateTo = qf.DateTo.UTC()
	}
}

func (qf QueryFilter) Offset() int {
	return (qf.Page - 1) * qf.Limit
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

type Page struct {
	Sessions   []Session  `json:"sessions"`
	Pagination Pagination `json:"pagination"`
}

// Orderable fields: {api field: column}.
var Orderings = map[string]string{
	"date":             "session_date",
	"className":        "class_name",
	"section":          "section",
	"status":           "status",
	"proxyProbability": "proxy_probability",
	"createdAt":        "created_at",
}

// DefaultOrdering lists the latest sessions first.
var DefaultOrdering = []core.DBOrdering{{Field: "date"}, {Field: "createdAt"}}
