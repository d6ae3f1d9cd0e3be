package attendance

import "github.com/trezcool/proxyguard/core"

// Mark is the tri-state reading of a present-flag cell.
type Mark int

const (
	MarkUnknown Mark = iota
	MarkPresent
	MarkAbsent
)

var (
	// presentTokens is the strict vocabulary used when normalizing entries.
	presentTokens = tokenSet("yes", "1", "true", "p")

	// markPresentTokens / markAbsentTokens are the wider vocabularies used for metadata counts.
	markPresentTokens = tokenSet("yes", "y", "1", "true", "present", "p")
	markAbsentTokens  = tokenSet("no", "n", "0", "false", "absent", "a")
)

// Value is a typed spreadsheet cell.
type Value struct {
	raw   string
	clean string
}

// ParseValue wraps a raw cell.
func ParseValue(raw string) Value {
	return Value{raw: raw, clean: core.CleanString(raw)}
}

func (v Value) Raw() string    { return v.raw }
func (v Value) String() string { return v.clean }

// Normalized is the trimmed, lower-cased value.
func (v Value) Normalized() string {
	return core.CleanString(v.clean, true /* lower */)
}

func (v Value) IsBlank() bool {
	return v.clean == ""
}

// Optional returns the trimmed value, or false when blank.
func (v Value) Optional() (string, bool) {
	if v.IsBlank() {
		return "", false
	}
	return v.clean, true
}

// OrDefault returns the trimmed value, or def when blank.
func (v Value) OrDefault(def string) string {
	if s, ok := v.Optional(); ok {
		return s
	}
	return def
}

// Ptr returns a pointer to the trimmed value, or nil when blank.
func (v Value) Ptr() *string {
	if s, ok := v.Optional(); ok {
		return &s
	}
	return nil
}

// Present is the strict present/absent reading: unrecognized tokens are absent.
func (v Value) Present() bool {
	_, ok := presentTokens[v.Normalized()]
	return ok
}

// Mark is the lenient tri-state reading.
func (v Value) Mark() Mark {
	n := v.Normalized()
	if _, ok := markPresentTokens[n]; ok {
		return MarkPresent
	}
	if _, ok := markAbsentTokens[n]; ok {
		return MarkAbsent
	}
	return MarkUnknown
}

// NormalizePresent reads the present flag of a row. A missing header is absent.
func NormalizePresent(row Row, presentHeader string) bool {
	return row.Value(presentHeader).Present()
}

func tokenSet(tokens ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
