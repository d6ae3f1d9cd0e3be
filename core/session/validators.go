package session

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/attendance"
)

var (
	countsTag  = "counts"
	countsText = "presentCount and absentCount must add up to totalStudents"

	flaggedCountTag  = "flaggedcount"
	flaggedCountText = "flaggedCount must match the number of flaggedEntries"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(analysisStructValidation, attendance.AnalysisResult{})
	core.RegisterCustomTranslation(validate, translator, countsTag, countsText)
	core.RegisterCustomTranslation(validate, translator, flaggedCountTag, flaggedCountText)
}

// analysisStructValidation checks the count invariants of an analysis summary.
// A zero AbsentCount and a missing flaggedEntries list are treated as "not supplied".
func analysisStructValidation(sl validator.StructLevel) {
	res := sl.Current().Interface().(attendance.AnalysisResult)

	if res.AbsentCount != 0 && res.PresentCount+res.AbsentCount != res.TotalStudents {
		sl.ReportError(res.AbsentCount, "absentCount", "AbsentCount", countsTag, "")
	}
	if res.PresentCount > res.TotalStudents {
		sl.ReportError(res.PresentCount, "presentCount", "PresentCount", countsTag, "")
	}
	if res.FlaggedEntries != nil && res.FlaggedCount != len(res.FlaggedEntries) {
		sl.ReportError(res.FlaggedCount, "flaggedCount", "FlaggedCount", flaggedCountTag, "")
	}
}
