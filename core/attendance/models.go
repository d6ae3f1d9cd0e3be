package attendance

// Status is the risk level of an analysed session.
type Status string

const (
	StatusClean      Status = "clean"
	StatusSuspicious Status = "suspicious"
	StatusFlagged    Status = "flagged"

	flaggedThreshold    = 0.5
	suspiciousThreshold = 0.2
)

var Statuses = []Status{StatusClean, StatusSuspicious, StatusFlagged}

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// StatusFor maps a proxy probability to a status.
func StatusFor(probability float64) Status {
	switch {
	case probability >= flaggedThreshold:
		return StatusFlagged
	case probability >= suspiciousThreshold:
		return StatusSuspicious
	default:
		return StatusClean
	}
}

type (
	// FlaggedEntry is a student suspected of proxy attendance.
	FlaggedEntry struct {
		StudentName string  `json:"studentName"`
		RollNumber  string  `json:"rollNumber"`
		BenchID     string  `json:"benchId"`
		IPAddress   string  `json:"ipAddress,omitempty"`
		Reason      string  `json:"reason"`
		Confidence  float64 `json:"confidence" validate:"gte=0,lte=1"`
	}

	IPAnalysis struct {
		UniqueIPs     int      `json:"uniqueIPs"`
		DuplicateIPs  int      `json:"duplicateIPs"`
		SuspiciousIPs []string `json:"suspiciousIPs"`
	}

	SeatingAnalysis struct {
		Clusters  int `json:"clusters"`
		Anomalies int `json:"anomalies"`
	}

	AnalysisResult struct {
		TotalStudents    int              `json:"totalStudents" validate:"gte=0"`
		PresentCount     int              `json:"presentCount" validate:"gte=0"`
		AbsentCount      int              `json:"absentCount" validate:"gte=0"`
		FlaggedCount     int              `json:"flaggedCount" validate:"gte=0"`
		ProxyProbability float64          `json:"proxyProbability" validate:"gte=0,lte=1"`
		Insights         []string         `json:"insights"`
		FlaggedEntries   []FlaggedEntry   `json:"flaggedEntries" validate:"dive"`
		IPAnalysis       *IPAnalysis      `json:"ipAnalysis,omitempty"`
		SeatingAnalysis  *SeatingAnalysis `json:"seatingAnalysis,omitempty"`
	}

	// Entry is one student's attendance in a recorded session.
	Entry struct {
		StudentName string   `json:"studentName"`
		RollNumber  string   `json:"rollNumber"`
		BenchID     *string  `json:"benchId"`
		IPAddress   *string  `json:"ipAddress"`
		Present     bool     `json:"present"`
		Flagged     bool     `json:"flagged"`
		FlagReason  *string  `json:"flagReason"`
		Confidence  *float64 `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	}
)

// Status derives the session status from the proxy probability.
func (r AnalysisResult) Status() Status {
	return StatusFor(r.ProxyProbability)
}

// AttendanceRate is present/total, 0 for an empty sheet.
func (r AnalysisResult) AttendanceRate() float64 {
	if r.TotalStudents == 0 {
		return 0
	}
	return float64(r.PresentCount) / float64(r.TotalStudents)
}

// FlaggedByRoll indexes flagged entries by roll number.
func (r AnalysisResult) FlaggedByRoll() map[string]FlaggedEntry {
	idx := make(map[string]FlaggedEntry, len(r.FlaggedEntries))
	for _, fe := range r.FlaggedEntries {
		if _, ok := idx[fe.RollNumber]; !ok {
			idx[fe.RollNumber] = fe
		}
	}
	return idx
}
