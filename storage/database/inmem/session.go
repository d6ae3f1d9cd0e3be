package inmemdb

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/session"
)

type (
	DB struct {
		session *sessionTable
	}

	sessionTable struct {
		table map[string]session.Session
		mutex sync.RWMutex
	}
)

// Open returns an empty in-memory database.
func Open() *DB {
	return &DB{session: &sessionTable{table: make(map[string]session.Session)}}
}

type sessionRepository struct {
	db *sessionTable
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) *sessionRepository {
	return &sessionRepository{db: db.session}
}

func (repo *sessionRepository) CreateSession(_ context.Context, s session.Session) (session.Session, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.table[s.ID] = s
	return s, nil
}

func (repo *sessionRepository) GetSession(_ context.Context, id string) (session.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if s, ok := repo.db.table[id]; ok {
		return s, nil
	}
	return session.Session{}, session.ErrNotFound
}

func (repo *sessionRepository) QuerySessions(
	_ context.Context,
	filter session.QueryFilter,
	orderings []core.DBOrdering,
) ([]session.Session, int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	matches := make([]session.Session, 0, len(repo.db.table))
	for _, s := range repo.db.table {
		if matchFilter(s, filter) {
			matches = append(matches, s.Summary())
		}
	}

	known := make([]core.DBOrdering, 0, len(orderings))
	for _, ord := range orderings {
		if _, ok := session.Orderings[ord.Field]; ok {
			known = append(known, ord)
		}
	}
	if len(known) == 0 {
		known = []core.DBOrdering{{Field: "date"}}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		for _, ord := range known {
			if c := compareField(matches[i], matches[j], ord.Field); c != 0 {
				if ord.Ascending {
					return c < 0
				}
				return c > 0
			}
		}
		return matches[i].ID < matches[j].ID
	})

	total := len(matches)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total || filter.Limit <= 0 {
		end = total
	}
	return matches[start:end], total, nil
}

func (repo *sessionRepository) DeleteSession(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.table[id]; !ok {
		return session.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}

func (repo *sessionRepository) DeleteSessionsBefore(_ context.Context, t time.Time) (int64, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int64
	for id, s := range repo.db.table {
		if s.Date.Before(t) {
			delete(repo.db.table, id)
			n++
		}
	}
	return n, nil
}

func matchFilter(s session.Session, f session.QueryFilter) bool {
	if f.Status != "" && string(s.Status) != f.Status {
		return false
	}
	if f.ClassName != "" && s.ClassName != f.ClassName {
		return false
	}
	if f.Section != "" && s.Section != f.Section {
		return false
	}
	if !f.DateFrom.IsZero() && s.Date.Before(f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && s.Date.After(f.DateTo) {
		return false
	}
	return true
}

// compareField compares two sessions on an orderable field; unknown fields compare equal.
func compareField(a, b session.Session, field string) int {
	switch field {
	case "date":
		return compareTime(a.Date, b.Date)
	case "createdAt":
		return compareTime(a.CreatedAt, b.CreatedAt)
	case "className":
		return strings.Compare(a.ClassName, b.ClassName)
	case "section":
		return strings.Compare(a.Section, b.Section)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "proxyProbability":
		switch {
		case a.Analysis.ProxyProbability < b.Analysis.ProxyProbability:
			return -1
		case a.Analysis.ProxyProbability > b.Analysis.ProxyProbability:
			return 1
		}
	}
	return 0
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
