package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/attendance"
	"github.com/trezcool/proxyguard/core/session"
)

const (
	sessionTable = "attendance_session"

	sessionSummaryColumns = "id, session_date, class_name, section, subject, room, analysis, status, " +
		"proxy_probability, created_at, updated_at"
	sessionColumns = sessionSummaryColumns + ", entries, raw_data"
)

type sessionRow struct {
	ID               string      `db:"id"`
	Date             time.Time   `db:"session_date"`
	ClassName        string      `db:"class_name"`
	Section          string      `db:"section"`
	Subject          null.String `db:"subject"`
	Room             null.String `db:"room"`
	Entries          null.String `db:"entries"`
	Analysis         string      `db:"analysis"`
	RawData          null.String `db:"raw_data"`
	Status           string      `db:"status"`
	ProxyProbability float64     `db:"proxy_probability"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

type sessionRepository struct {
	db *sqlx.DB
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sqlx.DB) *sessionRepository {
	return &sessionRepository{db: db}
}

// timestamps are stored in UTC, second precision (sqlite compares them as text)
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func (repo sessionRepository) toRow(s session.Session) (sessionRow, error) {
	entries := s.Entries
	if entries == nil {
		entries = []attendance.Entry{}
	}
	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return sessionRow{}, errors.Wrap(err, "encoding entries")
	}
	analysisJSON, err := json.Marshal(s.Analysis)
	if err != nil {
		return sessionRow{}, errors.Wrap(err, "encoding analysis")
	}
	row := sessionRow{
		ID:               s.ID,
		Date:             dbTime(s.Date),
		ClassName:        s.ClassName,
		Section:          s.Section,
		Subject:          null.StringFromPtr(s.Subject),
		Room:             null.StringFromPtr(s.Room),
		Entries:          null.StringFrom(string(entriesJSON)),
		Analysis:         string(analysisJSON),
		Status:           string(s.Status),
		ProxyProbability: s.Analysis.ProxyProbability,
		CreatedAt:        dbTime(s.CreatedAt),
		UpdatedAt:        dbTime(s.UpdatedAt),
	}
	if s.RawData != nil {
		rawJSON, err := json.Marshal(s.RawData)
		if err != nil {
			return sessionRow{}, errors.Wrap(err, "encoding raw data")
		}
		row.RawData = null.StringFrom(string(rawJSON))
	}
	return row, nil
}

func (repo sessionRepository) fromRow(row sessionRow) (session.Session, error) {
	s := session.Session{
		ID:        row.ID,
		Date:      row.Date.UTC(),
		ClassName: row.ClassName,
		Section:   row.Section,
		Subject:   row.Subject.Ptr(),
		Room:      row.Room.Ptr(),
		Status:    attendance.Status(row.Status),
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(row.Analysis), &s.Analysis); err != nil {
		return session.Session{}, errors.Wrap(err, "decoding analysis")
	}
	if row.Entries.Valid {
		if err := json.Unmarshal([]byte(row.Entries.String), &s.Entries); err != nil {
			return session.Session{}, errors.Wrap(err, "decoding entries")
		}
	}
	if row.RawData.Valid {
		s.RawData = new(attendance.Table)
		if err := json.Unmarshal([]byte(row.RawData.String), s.RawData); err != nil {
			return session.Session{}, errors.Wrap(err, "decoding raw data")
		}
	}
	return s, nil
}

// trapNoRowsErr maps "no rows" err to session.ErrNotFound
func (repo sessionRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return session.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo sessionRepository) CreateSession(ctx context.Context, s session.Session) (session.Session, error) {
	row, err := repo.toRow(s)
	if err != nil {
		return session.Session{}, err
	}

	q := "INSERT INTO " + sessionTable + " (" + sessionColumns + ") VALUES " +
		"(:id, :session_date, :class_name, :section, :subject, :room, :analysis, :status, " +
		":proxy_probability, :created_at, :updated_at, :entries, :raw_data)"
	if _, err = repo.db.NamedExecContext(ctx, q, row); err != nil {
		return session.Session{}, errors.Wrap(err, "inserting session")
	}
	return repo.fromRow(row)
}

func (repo sessionRepository) GetSession(ctx context.Context, id string) (session.Session, error) {
	var row sessionRow
	q := repo.db.Rebind("SELECT " + sessionColumns + " FROM " + sessionTable + " WHERE id = ?")
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		return session.Session{}, repo.trapNoRowsErr(err, "finding session by ID")
	}
	return repo.fromRow(row)
}

func (repo sessionRepository) QuerySessions(
	ctx context.Context,
	filter session.QueryFilter,
	orderings []core.DBOrdering,
) ([]session.Session, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ClassName != "" {
		conds = append(conds, "class_name = ?")
		args = append(args, filter.ClassName)
	}
	if filter.Section != "" {
		conds = append(conds, "section = ?")
		args = append(args, filter.Section)
	}
	if !filter.DateFrom.IsZero() {
		conds = append(conds, "session_date >= ?")
		args = append(args, dbTime(filter.DateFrom))
	}
	if !filter.DateTo.IsZero() {
		conds = append(conds, "session_date <= ?")
		args = append(args, dbTime(filter.DateTo))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQ := repo.db.Rebind("SELECT COUNT(*) FROM " + sessionTable + where)
	if err := repo.db.GetContext(ctx, &total, countQ, args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting sessions")
	}

	orderBy := core.OrderBy(orderings, session.Orderings, core.DBOrdering{Field: "session_date"})
	q := repo.db.Rebind(
		"SELECT " + sessionSummaryColumns + " FROM " + sessionTable + where +
			" ORDER BY " + orderBy + ", id ASC LIMIT ? OFFSET ?",
	)
	var rows []sessionRow
	if err := repo.db.SelectContext(ctx, &rows, q, append(args, filter.Limit, filter.Offset())...); err != nil {
		return nil, 0, errors.Wrap(err, "querying sessions")
	}

	sessions := make([]session.Session, 0, len(rows))
	for _, row := range rows {
		s, err := repo.fromRow(row)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, s.Summary())
	}
	return sessions, total, nil
}

func (repo sessionRepository) DeleteSession(ctx context.Context, id string) error {
	q := repo.db.Rebind("DELETE FROM " + sessionTable + " WHERE id = ?")
	res, err := repo.db.ExecContext(ctx, q, id)
	if err != nil {
		return errors.Wrap(err, "deleting session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "deleting session")
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (repo sessionRepository) DeleteSessionsBefore(ctx context.Context, t time.Time) (int64, error) {
	q := repo.db.Rebind("DELETE FROM " + sessionTable + " WHERE session_date < ?")
	res, err := repo.db.ExecContext(ctx, q, dbTime(t))
	if err != nil {
		return 0, errors.Wrap(err, "deleting sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting sessions")
	}
	return n, nil
}
