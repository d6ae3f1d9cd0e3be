package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/attendance"
	"github.com/trezcool/proxyguard/core/session"
	"github.com/trezcool/proxyguard/storage/database"
)

// NewConfig returns a test configuration (in-memory SQLite, no external services).
func NewConfig() *core.Config {
	return &core.Config{
		AppName:  "ProxyGuard",
		Env:      "TEST",
		Debug:    true,
		TestMode: true,
		Server: core.ServerConfig{
			MaxUploadSize:  "1M",
			DisableReqLogs: true,
		},
		Database: core.DatabaseConfig{Engine: database.EngineSQLite, Path: ":memory:"},
		Analysis: core.AnalysisConfig{Timeout: time.Second, Seed: 42},
	}
}

// PrepareDB opens a migrated in-memory database, closed when the test ends.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

// ResetDB deletes every session.
func ResetDB(t *testing.T, db *sqlx.DB) {
	t.Helper()
	if _, err := db.Exec("DELETE FROM attendance_session"); err != nil {
		t.Fatalf("ResetDB() failed: %v", err)
	}
}

// SessionFixture describes a stored session; zero values get sensible defaults.
type SessionFixture struct {
	ClassName   string
	Section     string
	Subject     string
	Date        time.Time
	Probability float64
	Total       int
	Present     int
	Flagged     []attendance.FlaggedEntry
	CreatedAt   time.Time
}

func CreateSession(t *testing.T, repo session.Repository, f SessionFixture) session.Session {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	if f.Date.IsZero() {
		f.Date = now
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.ClassName == "" {
		f.ClassName = session.DefaultClassName
	}
	if f.Section == "" {
		f.Section = session.DefaultSection
	}
	if f.Flagged == nil {
		f.Flagged = []attendance.FlaggedEntry{}
	}

	res := attendance.AnalysisResult{
		TotalStudents:    f.Total,
		PresentCount:     f.Present,
		AbsentCount:      f.Total - f.Present,
		FlaggedCount:     len(f.Flagged),
		ProxyProbability: f.Probability,
		Insights:         []string{"fixture"},
		FlaggedEntries:   f.Flagged,
	}
	s := session.Session{
		ID:        uuid.New().String(),
		Date:      f.Date.UTC().Truncate(time.Second),
		ClassName: f.ClassName,
		Section:   f.Section,
		Subject:   attendance.ParseValue(f.Subject).Ptr(),
		Entries:   []attendance.Entry{},
		Analysis:  res,
		Status:    res.Status(),
		CreatedAt: f.CreatedAt.UTC().Truncate(time.Second),
		UpdatedAt: f.CreatedAt.UTC().Truncate(time.Second),
	}

	s, err := repo.CreateSession(context.Background(), s)
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return s
}
