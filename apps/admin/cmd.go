package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/jmoiron/sqlx"
	"github.com/olekukonko/tablewriter"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/attendance"
	"github.com/trezcool/proxyguard/core/session"
	gensvc "github.com/trezcool/proxyguard/services/generator"
	"github.com/trezcool/proxyguard/services/spreadsheet"
)

var (
	readFileFunc = os.ReadFile // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sqlx.DB
	conf       *core.Config
	logger     core.Logger
	sessionSvc *session.Service
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate CMD [ARGS] - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  analyze -file PATH [-seed N] [-offline] [-json] [-save [-class C] [-section S] [-subject S] [-room R]] - analyze an attendance sheet")
	fmt.Fprintln(cli.out, "  sessions [-status S] [-class C] [-limit N] - list recorded sessions")
	fmt.Fprintln(cli.out, "  purge [-older-than DURATION] - delete sessions older than DURATION (defaults to the retention max age)")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	cli.colorize()
	ctx := context.Background()

	analyzeCmd := flag.NewFlagSet("analyze", flag.ContinueOnError)
	analyzeCmd.SetOutput(cli.out)
	analyzeFile := analyzeCmd.String("file", "", "The CSV or XLSX attendance sheet.")
	analyzeSeed := analyzeCmd.Int64("seed", cli.conf.Analysis.Seed, "Seed of the heuristic scorer (0: clock).")
	analyzeOffline := analyzeCmd.Bool("offline", false, "Never delegate to Gemini.")
	analyzeJSON := analyzeCmd.Bool("json", false, "Print the analysis as JSON.")
	analyzeSave := analyzeCmd.Bool("save", false, "Record the analysis as a session.")
	analyzeClass := analyzeCmd.String("class", "", "Class name of the recorded session.")
	analyzeSection := analyzeCmd.String("section", "", "Section of the recorded session.")
	analyzeSubject := analyzeCmd.String("subject", "", "Subject of the recorded session.")
	analyzeRoom := analyzeCmd.String("room", "", "Room of the recorded session.")

	sessionsCmd := flag.NewFlagSet("sessions", flag.ContinueOnError)
	sessionsCmd.SetOutput(cli.out)
	sessionsStatus := sessionsCmd.String("status", "", "clean, suspicious or flagged.")
	sessionsClass := sessionsCmd.String("class", "", "Class name.")
	sessionsLimit := sessionsCmd.Int("limit", 20, "Max number of sessions.")

	purgeCmd := flag.NewFlagSet("purge", flag.ContinueOnError)
	purgeCmd.SetOutput(cli.out)
	purgeOlderThan := purgeCmd.Duration("older-than", cli.conf.Retention.MaxAge, "Max age of the kept sessions, e.g. 720h.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])
	case "analyze":
		if err := analyzeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *analyzeFile == "" {
			analyzeCmd.Usage()
			return errHelp
		}
		return cli.analyze(ctx, analyzeOptions{
			file:    *analyzeFile,
			seed:    *analyzeSeed,
			offline: *analyzeOffline,
			json:    *analyzeJSON,
			save:    *analyzeSave,
			record: session.RecordSession{
				ClassName: *analyzeClass,
				Section:   *analyzeSection,
				Subject:   *analyzeSubject,
				Room:      *analyzeRoom,
			},
		})
	case "sessions":
		if err := sessionsCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.listSessions(ctx, session.QueryFilter{Status: *sessionsStatus, ClassName: *sessionsClass, Limit: *sessionsLimit})
	case "purge":
		if err := purgeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *purgeOlderThan <= 0 {
			purgeCmd.Usage()
			return errHelp
		}
		return cli.purge(ctx, *purgeOlderThan)
	default:
		cli.printUsage()
		return errHelp
	}
}

// colorize disables colors unless writing to a terminal.
func (cli *commandLine) colorize() {
	f, ok := cli.out.(*os.File)
	color.NoColor = !ok || !term.IsTerminal(int(f.Fd()))
}

type analyzeOptions struct {
	file    string
	seed    int64
	offline bool
	json    bool
	save    bool
	record  session.RecordSession
}

func (cli *commandLine) analyzer(opts analyzeOptions) *attendance.Analyzer {
	aOpts := []attendance.Option{
		attendance.WithRandSource(attendance.NewRandSource(opts.seed)),
		attendance.WithTimeout(cli.conf.Analysis.Timeout),
		attendance.WithLogger(cli.logger),
	}
	if !opts.offline && cli.conf.Analysis.GeminiEnabled() {
		gen, err := gensvc.NewGeminiClient(cli.conf, cli.logger)
		if err != nil {
			cli.logger.Warn(fmt.Sprintf("%v: using heuristic analysis", err), err)
		} else {
			aOpts = append(aOpts, attendance.WithGenerator(gen))
		}
	}
	return attendance.NewAnalyzer(aOpts...)
}

func (cli *commandLine) analyze(ctx context.Context, opts analyzeOptions) error {
	data, err := readFileFunc(opts.file)
	if err != nil {
		return pkgerrors.Wrap(err, "reading sheet")
	}
	table, err := spreadsheet.Parse(filepath.Base(opts.file), data)
	if err != nil {
		return err
	}

	res := cli.analyzer(opts).Analyze(ctx, table)

	var sessionID string
	if opts.save {
		rs := opts.record
		rs.Table = table
		rs.Result = res
		s, err := cli.sessionSvc.Record(ctx, rs)
		if err != nil {
			return pkgerrors.Wrap(err, "recording session")
		}
		sessionID = s.ID
	}

	if opts.json {
		enc := json.NewEncoder(cli.out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			attendance.AnalysisResult
			Status    attendance.Status `json:"status"`
			SessionID string            `json:"sessionId,omitempty"`
		}{res, res.Status(), sessionID})
	}

	fmt.Fprintf(cli.out, "Sheet:       %s (%d rows)\n", opts.file, len(table.Rows))
	fmt.Fprintf(cli.out, "Attendance:  %d/%d present, %d absent\n", res.PresentCount, res.TotalStudents, res.AbsentCount)
	fmt.Fprintf(cli.out, "Probability: %.0f%%\n", res.ProxyProbability*100)
	fmt.Fprintf(cli.out, "Status:      %s\n", statusColor(res.Status()).Sprint(res.Status()))
	if res.IPAnalysis != nil {
		fmt.Fprintf(cli.out, "IPs:         %d unique, %d shared\n", res.IPAnalysis.UniqueIPs, res.IPAnalysis.DuplicateIPs)
	}
	if res.SeatingAnalysis != nil {
		fmt.Fprintf(cli.out, "Seating:     %d clusters, %d anomalies\n", res.SeatingAnalysis.Clusters, res.SeatingAnalysis.Anomalies)
	}
	if sessionID != "" {
		fmt.Fprintf(cli.out, "Session:     %s\n", sessionID)
	}

	for _, insight := range res.Insights {
		fmt.Fprintf(cli.out, "  - %s\n", insight)
	}

	if len(res.FlaggedEntries) > 0 {
		tw := tablewriter.NewWriter(cli.out)
		tw.SetHeader([]string{"Student", "Roll", "Bench", "Reason", "Confidence"})
		for _, fe := range res.FlaggedEntries {
			tw.Append([]string{fe.StudentName, fe.RollNumber, fe.BenchID, fe.Reason, fmt.Sprintf("%.0f%%", fe.Confidence*100)})
		}
		tw.Render()
	}
	return nil
}

func (cli *commandLine) listSessions(ctx context.Context, filter session.QueryFilter) error {
	page, err := cli.sessionSvc.Query(ctx, filter, nil)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(cli.out)
	tw.SetHeader([]string{"ID", "Date", "Class", "Section", "Present", "Flagged", "Probability", "Status"})
	for _, s := range page.Sessions {
		tw.Append([]string{
			s.ID,
			s.Date.Format(time.DateTime),
			s.ClassName,
			s.Section,
			strconv.Itoa(s.Analysis.PresentCount) + "/" + strconv.Itoa(s.Analysis.TotalStudents),
			strconv.Itoa(s.Analysis.FlaggedCount),
			fmt.Sprintf("%.0f%%", s.Analysis.ProxyProbability*100),
			statusColor(s.Status).Sprint(s.Status),
		})
	}
	tw.SetFooter([]string{"", "", "", "", "", "", "Total", strconv.Itoa(page.Pagination.Total)})
	tw.Render()
	return nil
}

func (cli *commandLine) purge(ctx context.Context, olderThan time.Duration) error {
	n, err := cli.sessionSvc.PurgeOlderThan(ctx, olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d session(s) deleted\n", n)
	return nil
}

func statusColor(s attendance.Status) *color.Color {
	switch s {
	case attendance.StatusFlagged:
		return color.New(color.FgRed, color.Bold)
	case attendance.StatusSuspicious:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}
