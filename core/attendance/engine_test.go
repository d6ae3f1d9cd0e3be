package attendance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRand replays fixed draws; Shuffle keeps the order.
type scriptedRand struct {
	ints   []int
	floats []float64
}

func (r *scriptedRand) Intn(n int) int {
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	return v % n
}

func (r *scriptedRand) Float64() float64 {
	if len(r.floats) == 0 {
		return 0
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

func (r *scriptedRand) Shuffle(int, func(i, j int)) {}

type fakeGenerator struct {
	text  string
	err   error
	block bool

	mu     sync.Mutex
	prompt string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompt = prompt
	g.mu.Unlock()
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.text, g.err
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...interface{}) {}
func (l *recordingLogger) Info(string, ...interface{})  {}
func (l *recordingLogger) Error(string, ...interface{}) {}
func (l *recordingLogger) Fatal(string, ...interface{}) {}
func (l *recordingLogger) Warn(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func classTable() Table {
	return Table{
		Headers: []string{"Name", "Roll", "Bench", "Present"},
		Rows: []Row{
			{"Name": "Ann", "Roll": "1", "Bench": "CSE-A-R1C1", "Present": "yes"},
			{"Name": "Bob", "Roll": "2", "Bench": "CSE-A-R1C2", "Present": "1"},
			{"Name": "Cyd", "Roll": "3", "Bench": "CSE-A-R1C4", "Present": "no"},
		},
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		p    float64
		want Status
	}{
		{p: 0.0, want: StatusClean},
		{p: 0.19999, want: StatusClean},
		{p: 0.2, want: StatusSuspicious},
		{p: 0.49999, want: StatusSuspicious},
		{p: 0.5, want: StatusFlagged},
		{p: 1.0, want: StatusFlagged},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.p); got != tt.want {
			t.Errorf("StatusFor(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestAnalyzer_Analyze_heuristic(t *testing.T) {
	rnd := &scriptedRand{
		ints:   []int{1, 0, 4},            // 2 flags, reasons #0 and #4
		floats: []float64{0.5, 0.25, 0.5}, // confidences, then jitter
	}
	a := NewAnalyzer(WithRandSource(rnd))

	res := a.Analyze(context.Background(), classTable())

	assert.Equal(t, 3, res.TotalStudents)
	assert.Equal(t, 2, res.PresentCount)
	assert.Equal(t, 1, res.AbsentCount)
	assert.Equal(t, 2, res.FlaggedCount)
	require.Len(t, res.FlaggedEntries, 2)
	assert.InDelta(t, 0.35, res.ProxyProbability, 1e-9)
	assert.Equal(t, StatusSuspicious, res.Status())

	first := res.FlaggedEntries[0]
	assert.Equal(t, "Ann", first.StudentName)
	assert.Equal(t, "1", first.RollNumber)
	assert.Equal(t, "CSE-A-R1C1", first.BenchID)
	assert.Equal(t, flagReasons[0], first.Reason)
	assert.InDelta(t, 0.7, first.Confidence, 1e-9)
	assert.Equal(t, flagReasons[4], res.FlaggedEntries[1].Reason)
	assert.InDelta(t, 0.6, res.FlaggedEntries[1].Confidence, 1e-9)

	assert.Equal(t, []string{
		"Analyzed 3 students with 2 marked as present (67% attendance rate).",
		"Detected 2 potentially suspicious entries based on pattern analysis.",
		"Cross-referenced bench positions with historical seating data.",
		"Attendance rate within normal parameters.",
	}, res.Insights)

	assert.Nil(t, res.IPAnalysis)
	require.NotNil(t, res.SeatingAnalysis)
	assert.Equal(t, SeatingAnalysis{Clusters: 1, Anomalies: 0}, *res.SeatingAnalysis)
}

func TestAnalyzer_Analyze_heuristicEdges(t *testing.T) {
	t.Run("defaults without columns", func(t *testing.T) {
		tbl := Table{Headers: []string{"foo"}, Rows: []Row{{"foo": "x"}}}
		a := NewAnalyzer(WithRandSource(&scriptedRand{ints: []int{2}}))
		res := a.Analyze(context.Background(), tbl)

		require.Len(t, res.FlaggedEntries, 1) // capped by the row count
		fe := res.FlaggedEntries[0]
		assert.Equal(t, "Unknown", fe.StudentName)
		assert.Equal(t, "N/A", fe.RollNumber)
		assert.Equal(t, "N/A", fe.BenchID)
		assert.InDelta(t, 0.15, res.ProxyProbability, 1e-9)
		assert.Equal(t, 0, res.PresentCount)
		assert.Equal(t, 1, res.AbsentCount)
	})

	t.Run("no roll column", func(t *testing.T) {
		tbl := Table{Headers: []string{"Name", "Present"}, Rows: []Row{
			{"Name": "Ann", "Present": "yes"},
			{"Name": "Bob", "Present": "yes"},
			{"Name": "Cyd", "Present": "no"},
		}}
		a := NewAnalyzer(WithRandSource(&scriptedRand{ints: []int{2}}))
		res := a.Analyze(context.Background(), tbl)

		require.Len(t, res.FlaggedEntries, 3, "one entry per drawn row")
		assert.Equal(t, 3, res.FlaggedCount)
		for i, name := range []string{"Ann", "Bob", "Cyd"} {
			assert.Equal(t, name, res.FlaggedEntries[i].StudentName)
			assert.Equal(t, "N/A", res.FlaggedEntries[i].RollNumber)
		}
		assert.InDelta(t, 0.45, res.ProxyProbability, 1e-9)
		assert.Equal(t, StatusSuspicious, res.Status())
		assert.Equal(t, "Detected 3 potentially suspicious entries based on pattern analysis.", res.Insights[1])
	})

	t.Run("empty table", func(t *testing.T) {
		a := NewAnalyzer(WithRandSource(&scriptedRand{floats: []float64{0.5}}))
		res := a.Analyze(context.Background(), Table{Headers: []string{"Name"}})

		assert.Equal(t, 0, res.TotalStudents)
		assert.Empty(t, res.FlaggedEntries)
		assert.NotNil(t, res.FlaggedEntries)
		assert.InDelta(t, 0.075, res.ProxyProbability, 1e-9)
		require.Len(t, res.Insights, 4)
		assert.Equal(t, "No significant anomalies detected in the attendance patterns.", res.Insights[1])
		assert.Contains(t, res.Insights[0], "(0% attendance rate)")
	})

	t.Run("high attendance", func(t *testing.T) {
		tbl := Table{Headers: []string{"Roll", "Present"}, Rows: []Row{{"Roll": "1", "Present": "p"}}}
		res := NewAnalyzer(WithRandSource(&scriptedRand{})).Analyze(context.Background(), tbl)
		assert.Equal(t, "Unusually high attendance rate detected - recommend manual verification.", res.Insights[3])
	})

	t.Run("probability is capped", func(t *testing.T) {
		tun := DefaultFallbackTuning
		tun.MaxFlags = 10
		tbl := Table{Headers: []string{"Roll"}}
		for _, r := range []string{"1", "2", "3", "4", "5", "6", "7"} {
			tbl.Rows = append(tbl.Rows, Row{"Roll": r})
		}
		a := NewAnalyzer(WithTuning(tun), WithRandSource(&scriptedRand{ints: []int{6}, floats: make([]float64, 7)}))
		res := a.Analyze(context.Background(), tbl)
		assert.Equal(t, 7, res.FlaggedCount)
		assert.InDelta(t, 0.8, res.ProxyProbability, 1e-9)
	})
}

func TestAnalyzer_Analyze_seeded(t *testing.T) {
	run := func() AnalysisResult {
		return NewAnalyzer(WithRandSource(NewRandSource(42))).Analyze(context.Background(), classTable())
	}
	assert.Equal(t, run(), run())
}

func TestAnalyzer_Analyze_delegated(t *testing.T) {
	gen := &fakeGenerator{text: "Sure! Here is the analysis:\n```json\n" + `{
		"proxyProbability": 1.7,
		"insights": ["Bench R1C2 is far from the usual seat."],
		"flaggedEntries": [
			{"studentName": "Bob", "rollNumber": "2", "benchId": "CSE-A-R1C2", "reason": "moved", "confidence": -0.2},
			{"studentName": "Bob", "rollNumber": "2", "benchId": "CSE-A-R1C2", "reason": "again", "confidence": 0.4},
			{"studentName": "Cyd", "rollNumber": "3", "benchId": null, "reason": "cluster", "confidence": 0.9}
		]
	}` + "\n```"}
	logger := new(recordingLogger)
	a := NewAnalyzer(WithGenerator(gen), WithLogger(logger))
	require.True(t, a.Delegating())

	res := a.Analyze(context.Background(), classTable())

	assert.Empty(t, logger.warns)
	assert.Equal(t, 3, res.TotalStudents)
	assert.Equal(t, 2, res.PresentCount)
	assert.Equal(t, 1.0, res.ProxyProbability)
	assert.Equal(t, StatusFlagged, res.Status())
	assert.Equal(t, []string{"Bench R1C2 is far from the usual seat."}, res.Insights)
	require.Equal(t, 2, res.FlaggedCount)
	require.Len(t, res.FlaggedEntries, 2)
	assert.Equal(t, "moved", res.FlaggedEntries[0].Reason)
	assert.Equal(t, 0.0, res.FlaggedEntries[0].Confidence)
	assert.Equal(t, "", res.FlaggedEntries[1].BenchID)

	assert.True(t, strings.HasPrefix(gen.prompt, promptPreamble))
	assert.Contains(t, gen.prompt, "1. Name: Ann, Roll: 1, Bench: CSE-A-R1C1, Present: yes\n2. Name: Bob")
}

func TestAnalyzer_Analyze_delegatedFaults(t *testing.T) {
	tests := []struct {
		name    string
		gen     *fakeGenerator
		timeout time.Duration
	}{
		{name: "service error", gen: &fakeGenerator{err: errors.New("quota exceeded")}},
		{name: "no json", gen: &fakeGenerator{text: "I cannot help with that."}},
		{name: "malformed json", gen: &fakeGenerator{text: `{"proxyProbability": "high",}`}},
		{name: "empty response", gen: &fakeGenerator{}},
		{name: "timeout", gen: &fakeGenerator{block: true}, timeout: 10 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := new(recordingLogger)
			a := NewAnalyzer(
				WithGenerator(tt.gen),
				WithLogger(logger),
				WithTimeout(tt.timeout),
				WithRandSource(&scriptedRand{ints: []int{0}, floats: []float64{0, 0}}),
			)

			res := a.Analyze(context.Background(), classTable())

			assert.Len(t, logger.warns, 1)
			assert.Equal(t, 3, res.TotalStudents)
			assert.Equal(t, 2, res.PresentCount)
			assert.Equal(t, 1, res.FlaggedCount)
			assert.Len(t, res.FlaggedEntries, 1)
			assert.Len(t, res.Insights, 4)
			assert.InDelta(t, 0.15, res.ProxyProbability, 1e-9)
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr error
	}{
		{name: "bare", text: `{"a":1}`, want: `{"a":1}`},
		{name: "surrounded", text: "result:\n{\"a\":{\"b\":2}}\nthanks", want: "{\"a\":{\"b\":2}}"},
		{name: "greedy", text: `{"a":1} and {"b":2}`, want: `{"a":1} and {"b":2}`},
		{name: "none", text: "nothing here", wantErr: ErrNoJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.text)
			if err != tt.wantErr {
				t.Fatalf("ExtractJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildPrompt_blankValues(t *testing.T) {
	p := BuildPrompt(Table{Headers: []string{"Name", "Bench"}, Rows: []Row{{"Name": "Ann", "Bench": " "}}})
	assert.True(t, strings.HasSuffix(p, "ATTENDANCE DATA:\n1. Name: Ann, Bench: N/A"))
}

func TestDedupeFlagged(t *testing.T) {
	tests := []struct {
		name      string
		rolls     []string
		wantRolls []string
	}{
		{name: "first roll wins", rolls: []string{"1", "2", "1"}, wantRolls: []string{"1", "2"}},
		{name: "placeholders kept", rolls: []string{"N/A", "N/A", "N/A"}, wantRolls: []string{"N/A", "N/A", "N/A"}},
		{name: "blank kept", rolls: []string{"", " ", "3", "3 "}, wantRolls: []string{"", " ", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := make([]FlaggedEntry, 0, len(tt.rolls))
			for _, r := range tt.rolls {
				entries = append(entries, FlaggedEntry{RollNumber: r})
			}
			got := make([]string, 0, len(tt.wantRolls))
			for _, fe := range dedupeFlagged(entries) {
				got = append(got, fe.RollNumber)
			}
			assert.Equal(t, tt.wantRolls, got)
		})
	}
}
