package attendance

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/trezcool/proxyguard/core"
)

const DefaultTimeout = 20 * time.Second

// Analyzer scores attendance sheets for proxy attendance.
// With a TextGenerator the analysis is delegated to it; any generator fault
// (error, timeout, unparsable response) falls back to the heuristic scorer.
type Analyzer struct {
	generator TextGenerator
	rand      RandSource
	timeout   time.Duration
	logger    core.Logger
	tuning    FallbackTuning
}

type Option func(*Analyzer)

// WithGenerator enables delegated analysis. A nil generator disables it.
func WithGenerator(g TextGenerator) Option {
	return func(a *Analyzer) { a.generator = g }
}

func WithRandSource(r RandSource) Option {
	return func(a *Analyzer) {
		if r != nil {
			a.rand = r
		}
	}
}

// WithTimeout bounds the generator call.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithLogger(l core.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithTuning(t FallbackTuning) Option {
	return func(a *Analyzer) {
		if t.MaxFlags < 1 {
			t.MaxFlags = 1
		}
		a.tuning = t
	}
}

func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		rand:    NewRandSource(0),
		timeout: DefaultTimeout,
		logger:  core.NopLogger(),
		tuning:  DefaultFallbackTuning,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Delegating reports whether a generator is configured.
func (a *Analyzer) Delegating() bool {
	return a.generator != nil
}

// Analyze never fails: generator faults are logged and recovered with the heuristic scorer.
func (a *Analyzer) Analyze(ctx context.Context, t Table) AnalysisResult {
	t = t.Compact()
	cols := LookupColumns(t.Headers)

	total := len(t.Rows)
	var present int
	for _, row := range t.Rows {
		if NormalizePresent(row, cols.Present) {
			present++
		}
	}

	var res AnalysisResult
	if a.generator != nil {
		var err error
		if res, err = a.delegate(ctx, t, total, present); err != nil {
			a.logger.Warn(fmt.Sprintf("delegated analysis failed, using heuristics: %v", err), err)
			res = a.heuristic(t, cols, total, present)
		}
	} else {
		res = a.heuristic(t, cols, total, present)
	}

	res.IPAnalysis = analyzeIPs(t, cols)
	res.SeatingAnalysis = analyzeSeating(t, cols)
	return finalize(res)
}

// finalize enforces the result invariants.
func finalize(res AnalysisResult) AnalysisResult {
	res.ProxyProbability = Clamp01(res.ProxyProbability)
	if res.Insights == nil {
		res.Insights = []string{}
	}
	if res.FlaggedEntries == nil {
		res.FlaggedEntries = []FlaggedEntry{}
	}
	for i := range res.FlaggedEntries {
		res.FlaggedEntries[i].Confidence = Clamp01(res.FlaggedEntries[i].Confidence)
	}
	res.FlaggedCount = len(res.FlaggedEntries)
	if res.PresentCount > res.TotalStudents {
		res.PresentCount = res.TotalStudents
	}
	res.AbsentCount = res.TotalStudents - res.PresentCount
	return res
}

// dedupeFlagged keeps the first entry of each roll number.
// Entries without a real roll number are all kept.
func dedupeFlagged(entries []FlaggedEntry) []FlaggedEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]FlaggedEntry, 0, len(entries))
	for _, fe := range entries {
		roll := strings.TrimSpace(fe.RollNumber)
		if roll == "" || roll == notAvail {
			out = append(out, fe)
			continue
		}
		if _, ok := seen[roll]; ok {
			continue
		}
		seen[roll] = struct{}{}
		out = append(out, fe)
	}
	return out
}

// Clamp01 bounds f to [0, 1]. NaN maps to 0.
func Clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
