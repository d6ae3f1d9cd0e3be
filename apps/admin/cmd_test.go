package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/attendance"
	"github.com/trezcool/proxyguard/core/session"
	emailsvc "github.com/trezcool/proxyguard/services/email"
	sqlxrepos "github.com/trezcool/proxyguard/storage/database/sqlxrepos"
	testutil "github.com/trezcool/proxyguard/tests"
)

const sheetCSV = "Name,Roll No,Bench,Present\n" +
	"Ann,1,CSE-A-R1C1,yes\n" +
	"Bob,2,CSE-A-R1C2,yes\n" +
	"Cyd,3,CSE-A-R1C4,no\n"

var sessRepo session.Repository

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	core.ParseEmailTemplates(core.NopLogger(), true)
	conf := testutil.NewConfig()

	// set up DB & repos
	db := testutil.PrepareDB(t)
	sessRepo = sqlxrepos.NewSessionRepository(db)

	// start CLI
	out := new(bytes.Buffer)
	return &commandLine{
		db:         db,
		conf:       conf,
		logger:     core.NopLogger(),
		sessionSvc: session.NewServiceMock(sessRepo, emailsvc.NewConsoleServiceMock(conf), conf),
		out:        out,
	}, out
}

func writeSheet(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("os.WriteFile(): %v", err)
	}
	return path
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkErr(t *testing.T, tt cliTest, err error) {
	switch {
	case tt.wantErr != nil:
		assert.ErrorIs(t, err, tt.wantErr)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli, out := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "analyze: no file", args: []string{"analyze"}, wantErr: errHelp},
		{name: "analyze: unknown flag", args: []string{"analyze", "-lol"}, wantErrStr: "flag provided but not defined: -lol"},
		{name: "purge: no max age", args: []string{"purge"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			checkErr(t, tt, cli.run(args))
			assert.NotEmpty(t, out.String(), "usage printed")
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	origRun := gooseRunFunc
	t.Cleanup(func() { gooseRunFunc = origRun })
	gooseRunFunc = func(_ context.Context, _ *sqlx.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "absence_reason", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
}

func Test_commandLine_migrate_status(t *testing.T) {
	cli, _ := setup(t)
	assert.NoError(t, cli.run([]string{"admin", "migrate", "status"}), "runs against the migrated database")
}

func Test_commandLine_analyze(t *testing.T) {
	cli, out := setup(t)
	sheet := writeSheet(t, "cse-a.csv", sheetCSV)
	pdf := writeSheet(t, "cse-a.pdf", sheetCSV)

	type extra struct {
		wantOutput []string
		wantSaved  bool
	}
	tests := []cliTest{
		{name: "missing file", args: []string{"analyze", "-file", filepath.Join(t.TempDir(), "nope.csv")}, wantErr: fs.ErrNotExist},
		{name: "unsupported format", args: []string{"analyze", "-file", pdf}, wantErrStr: "unsupported file format, please use CSV or Excel files"},
		{
			name: "text report", args: []string{"analyze", "-file", sheet, "-offline"},
			extra: extra{wantOutput: []string{"cse-a.csv (3 rows)", "Attendance:  2/3 present, 1 absent", "Status:", "Seating:     1 clusters, 0 anomalies", "STUDENT"}},
		},
		{
			name: "saved", args: []string{"analyze", "-file", sheet, "-save", "-class", "CSE", "-section", "A"},
			extra: extra{wantOutput: []string{"Session:"}, wantSaved: true},
		},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			before, err := cli.sessionSvc.Query(context.Background(), session.QueryFilter{}, nil)
			require.NoError(t, err)

			err = cli.run(args)
			checkErr(t, tt, err)
			if err != nil {
				return
			}

			ex := tt.extra.(extra)
			for _, want := range ex.wantOutput {
				assert.Contains(t, out.String(), want)
			}

			after, err := cli.sessionSvc.Query(context.Background(), session.QueryFilter{}, nil)
			require.NoError(t, err)
			if ex.wantSaved {
				require.Equal(t, before.Pagination.Total+1, after.Pagination.Total)
				assert.Equal(t, "CSE", after.Sessions[0].ClassName)
			} else {
				assert.Equal(t, before.Pagination.Total, after.Pagination.Total)
			}
		})
	}
}

func Test_commandLine_analyze_json(t *testing.T) {
	cli, out := setup(t)
	sheet := writeSheet(t, "cse-a.csv", sheetCSV)

	require.NoError(t, cli.run([]string{"admin", "analyze", "-file", sheet, "-json", "-seed", "7"}))

	var res struct {
		attendance.AnalysisResult
		Status attendance.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res), out.String())
	assert.Equal(t, 3, res.TotalStudents)
	assert.Equal(t, 2, res.PresentCount)
	assert.Equal(t, attendance.StatusFor(res.ProxyProbability), res.Status)
	assert.Equal(t, len(res.FlaggedEntries), res.FlaggedCount)

	// same seed, same scores
	first := out.String()
	out.Reset()
	require.NoError(t, cli.run([]string{"admin", "analyze", "-file", sheet, "-json", "-seed", "7"}))
	assert.Equal(t, first, out.String())
}

func Test_commandLine_sessions(t *testing.T) {
	cli, out := setup(t)

	cse := testutil.CreateSession(t, sessRepo, testutil.SessionFixture{ClassName: "CSE", Probability: 0.7})
	ece := testutil.CreateSession(t, sessRepo, testutil.SessionFixture{ClassName: "ECE", Probability: 0.1})

	tests := []cliTest{
		{name: "all", args: []string{"sessions"}, extra: []string{cse.ID, ece.ID}},
		{name: "by class", args: []string{"sessions", "-class", "ECE"}, extra: []string{ece.ID}},
		{name: "by status", args: []string{"sessions", "-status", "flagged"}, extra: []string{cse.ID}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			checkErr(t, tt, cli.run(args))
			wantIDs := tt.extra.([]string)
			for _, id := range wantIDs {
				assert.Contains(t, out.String(), id)
			}
			for _, id := range []string{cse.ID, ece.ID} {
				if !contains(wantIDs, id) {
					assert.NotContains(t, out.String(), id)
				}
			}
		})
	}
}

func Test_commandLine_purge(t *testing.T) {
	cli, out := setup(t)

	now := time.Now().UTC()
	testutil.CreateSession(t, sessRepo, testutil.SessionFixture{Date: now.AddDate(0, 0, -60)})
	testutil.CreateSession(t, sessRepo, testutil.SessionFixture{Date: now.AddDate(0, 0, -45)})
	keep := testutil.CreateSession(t, sessRepo, testutil.SessionFixture{Date: now.AddDate(0, 0, -1)})

	require.NoError(t, cli.run([]string{"admin", "purge", "-older-than", "720h"}))
	assert.Equal(t, "2 session(s) deleted\n", out.String())

	_, err := sessRepo.GetSession(context.Background(), keep.ID)
	assert.NoError(t, err)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
