package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/session"
	testutil "github.com/trezcool/proxyguard/tests"
)

func TestSessionRepository(t *testing.T) {
	repo := NewSessionRepository(Open())
	ctx := context.Background()

	day := func(d int) time.Time { return time.Date(2024, 3, d, 9, 0, 0, 0, time.UTC) }
	s1 := testutil.CreateSession(t, repo, testutil.SessionFixture{ClassName: "CSE", Date: day(1), Probability: 0.6})
	s2 := testutil.CreateSession(t, repo, testutil.SessionFixture{ClassName: "ECE", Date: day(2), Probability: 0.1})
	s3 := testutil.CreateSession(t, repo, testutil.SessionFixture{ClassName: "CSE", Date: day(3), Probability: 0.3})

	got, err := repo.GetSession(ctx, s2.ID)
	require.NoError(t, err)
	assert.Equal(t, s2, got)

	tests := []struct {
		name      string
		filter    session.QueryFilter
		orderings []core.DBOrdering
		wantIDs   []string
		wantTotal int
	}{
		{
			name:      "default ordering",
			filter:    session.QueryFilter{Page: 1, Limit: 10},
			orderings: session.DefaultOrdering,
			wantIDs:   []string{s3.ID, s2.ID, s1.ID},
			wantTotal: 3,
		},
		{
			name:      "unknown ordering",
			filter:    session.QueryFilter{Page: 1, Limit: 10},
			orderings: []core.DBOrdering{{Field: "nope", Ascending: true}},
			wantIDs:   []string{s3.ID, s2.ID, s1.ID},
			wantTotal: 3,
		},
		{
			name:      "class filter, class then probability",
			filter:    session.QueryFilter{ClassName: "CSE", Page: 1, Limit: 10},
			orderings: []core.DBOrdering{{Field: "proxyProbability", Ascending: true}},
			wantIDs:   []string{s3.ID, s1.ID},
			wantTotal: 2,
		},
		{
			name:      "status filter",
			filter:    session.QueryFilter{Status: "suspicious", Page: 1, Limit: 10},
			orderings: session.DefaultOrdering,
			wantIDs:   []string{s3.ID},
			wantTotal: 1,
		},
		{
			name:      "page past the end",
			filter:    session.QueryFilter{Page: 3, Limit: 2},
			orderings: session.DefaultOrdering,
			wantIDs:   []string{},
			wantTotal: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions, total, err := repo.QuerySessions(ctx, tt.filter, tt.orderings)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, total)
			ids := make([]string, 0, len(sessions))
			for _, s := range sessions {
				ids = append(ids, s.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	require.NoError(t, repo.DeleteSession(ctx, s1.ID))
	assert.Equal(t, session.ErrNotFound, repo.DeleteSession(ctx, s1.ID))

	n, err := repo.DeleteSessionsBefore(ctx, day(3))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetSession(ctx, s2.ID)
	assert.Equal(t, session.ErrNotFound, err)
}
