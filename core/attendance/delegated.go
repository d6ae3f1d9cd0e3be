package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// TextGenerator is an external text generation service.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrNoJSON is returned when a generated response holds no JSON object.
var ErrNoJSON = errors.New("no JSON object in generated response")

const promptPreamble = `You are an AI assistant analyzing attendance data to detect potential proxy attendance patterns.

Analyze the following attendance data and identify any suspicious patterns that might indicate proxy attendance:

1. **Bench Position Anomalies**: Students sitting far from their usual positions
2. **Attendance Frequency**: Students with unusual attendance patterns
3. **Group Patterns**: Groups of students always present/absent together suspiciously
4. **Roll Number Clusters**: Sequential roll numbers with identical patterns

Provide your analysis in the following JSON format:
{
  "proxyProbability": 0.0-1.0 (overall probability of proxy attendance),
  "insights": ["insight1", "insight2", ...],
  "flaggedEntries": [
    {
      "studentName": "name",
      "rollNumber": "roll",
      "benchId": "bench",
      "reason": "why flagged",
      "confidence": 0.0-1.0
    }
  ]
}

ATTENDANCE DATA:
`

// greedy: from the first "{" to the last "}"
var jsonBlockRegex = regexp.MustCompile(`(?s)\{.*\}`)

type generatedAnalysis struct {
	ProxyProbability float64        `json:"proxyProbability"`
	Insights         []string       `json:"insights"`
	FlaggedEntries   []FlaggedEntry `json:"flaggedEntries"`
}

// BuildPrompt renders the instructions followed by one numbered line per row.
func BuildPrompt(t Table) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	for i, row := range t.Rows {
		if i > 0 {
			b.WriteString("\n")
		}
		fields := make([]string, 0, len(t.Headers))
		for _, h := range t.Headers {
			fields = append(fields, h+": "+row.Value(h).OrDefault(notAvail))
		}
		fmt.Fprintf(&b, "%d. %s", i+1, strings.Join(fields, ", "))
	}
	return b.String()
}

// ExtractJSON returns the outermost {...} block of a free text response.
func ExtractJSON(text string) (string, error) {
	block := jsonBlockRegex.FindString(text)
	if block == "" {
		return "", ErrNoJSON
	}
	return block, nil
}

func parseGenerated(text string) (generatedAnalysis, error) {
	var ga generatedAnalysis
	block, err := ExtractJSON(text)
	if err != nil {
		return ga, err
	}
	if err = json.Unmarshal([]byte(block), &ga); err != nil {
		return ga, errors.Wrap(err, "decoding generated analysis")
	}
	return ga, nil
}

// delegate asks the generator for the analysis. Counts are always computed locally.
func (a *Analyzer) delegate(ctx context.Context, t Table, total, present int) (AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err := a.generator.Generate(ctx, BuildPrompt(t))
	if err != nil {
		return AnalysisResult{}, errors.Wrap(err, "generating analysis")
	}
	if err = ctx.Err(); err != nil {
		return AnalysisResult{}, errors.Wrap(err, "generating analysis")
	}

	ga, err := parseGenerated(text)
	if err != nil {
		return AnalysisResult{}, err
	}
	return AnalysisResult{
		TotalStudents:    total,
		PresentCount:     present,
		ProxyProbability: ga.ProxyProbability,
		Insights:         ga.Insights,
		FlaggedEntries:   dedupeFlagged(ga.FlaggedEntries),
	}, nil
}
