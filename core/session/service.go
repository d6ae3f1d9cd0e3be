package session

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/attendance"
)

const flaggedSessionTemplate = "flagged_session"

var nowFunc = time.Now // mockable

type Repository interface {
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	// QuerySessions returns a page of session summaries (no entries nor raw data) & the total matching count.
	QuerySessions(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]Session, int, error)
	DeleteSession(ctx context.Context, id string) error
	// DeleteSessionsBefore deletes sessions dated before t and returns how many were deleted.
	DeleteSessionsBefore(ctx context.Context, t time.Time) (int64, error)
}

type Service struct {
	repo    Repository
	mailSvc core.EmailService
	conf    *core.Config
	logger  core.Logger
	async   bool
	wg      sync.WaitGroup
}

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config, logger core.Logger) *Service {
	return &Service{
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
		logger:  logger,
		async:   true,
	}
}

// Record stores an analysis run: one entry per row, status derived from the proxy probability.
// Recipients are notified of flagged sessions.
func (svc *Service) Record(ctx context.Context, rs RecordSession) (Session, error) {
	now := nowFunc().UTC()
	date := rs.Date
	if date.IsZero() {
		date = now
	}
	className := core.CleanString(rs.ClassName)
	if className == "" {
		className = DefaultClassName
	}
	section := core.CleanString(rs.Section)
	if section == "" {
		section = DefaultSection
	}

	raw := rs.Table.Compact()
	s := Session{
		ID:        uuid.New().String(),
		Date:      date.UTC(),
		ClassName: className,
		Section:   section,
		Subject:   attendance.ParseValue(rs.Subject).Ptr(),
		Room:      attendance.ParseValue(rs.Room).Ptr(),
		Entries:   attendance.BuildEntries(raw, rs.Result),
		Analysis:  rs.Result,
		RawData:   &raw,
		Status:    rs.Result.Status(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s, err := svc.repo.CreateSession(ctx, s)
	if err != nil {
		return Session{}, errors.Wrap(err, "creating session")
	}

	if s.Status == attendance.StatusFlagged {
		if svc.async {
			svc.wg.Add(1)
			go func() {
				defer svc.wg.Done()
				svc.notifyFlagged(s)
			}()
		} else {
			svc.notifyFlagged(s)
		}
	}
	return s, nil
}

// Create stores a session as provided by the client. The status is always derived from the analysis.
func (svc *Service) Create(ctx context.Context, ns NewSession) (Session, error) {
	now := nowFunc().UTC()
	date := now
	if ns.Date != nil && !ns.Date.IsZero() {
		date = ns.Date.UTC()
	}

	analysis := ns.Analysis
	if analysis.Insights == nil {
		analysis.Insights = []string{}
	}
	if analysis.FlaggedEntries == nil {
		analysis.FlaggedEntries = []attendance.FlaggedEntry{}
	}
	analysis.FlaggedCount = len(analysis.FlaggedEntries)
	analysis.ProxyProbability = attendance.Clamp01(analysis.ProxyProbability)
	if analysis.AbsentCount == 0 {
		analysis.AbsentCount = analysis.TotalStudents - analysis.PresentCount
	}
	entries := ns.Entries
	if entries == nil {
		entries = []attendance.Entry{}
	}

	s := Session{
		ID:        uuid.New().String(),
		Date:      date,
		ClassName: ns.ClassName,
		Section:   ns.Section,
		Subject:   attendance.ParseValue(ns.Subject).Ptr(),
		Room:      attendance.ParseValue(ns.Room).Ptr(),
		Entries:   entries,
		Analysis:  analysis,
		RawData:   ns.RawData,
		Status:    analysis.Status(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s, err := svc.repo.CreateSession(ctx, s)
	if err != nil {
		return Session{}, errors.Wrap(err, "creating session")
	}
	return s, nil
}

// Wait blocks until pending notifications are sent.
func (svc *Service) Wait() {
	svc.wg.Wait()
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) (Page, error) {
	filter.Clean()
	if len(orderings) == 0 {
		orderings = DefaultOrdering
	}

	sessions, total, err := svc.repo.QuerySessions(ctx, filter, orderings)
	if err != nil {
		return Page{}, errors.Wrap(err, "querying sessions")
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return Page{
		Sessions:   sessions,
		Pagination: NewPagination(filter.Page, filter.Limit, total),
	}, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, ErrInvalidID
	}
	return svc.repo.GetSession(ctx, id)
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return svc.repo.DeleteSession(ctx, id)
}

// PurgeOlderThan deletes sessions dated more than maxAge ago.
func (svc *Service) PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	n, err := svc.repo.DeleteSessionsBefore(ctx, nowFunc().UTC().Add(-maxAge))
	if err != nil {
		return 0, errors.Wrap(err, "purging sessions")
	}
	return n, nil
}

type flaggedMailData struct {
	SessionID   string
	ClassName   string
	Section     string
	Subject     string
	Date        string
	Status      string
	Probability string
	Total       int
	Present     int
	Flagged     []flaggedMailEntry
}

type flaggedMailEntry struct {
	StudentName string
	RollNumber  string
	BenchID     string
	Reason      string
	Confidence  string
}

func (svc *Service) notifyFlagged(s Session) {
	if svc.mailSvc == nil || svc.conf == nil || len(svc.conf.Notify.Recipients) == 0 {
		return
	}

	data := flaggedMailData{
		SessionID:   s.ID,
		ClassName:   s.ClassName,
		Section:     s.Section,
		Date:        s.Date.Format("2006-01-02 15:04 MST"),
		Status:      string(s.Status),
		Probability: fmt.Sprintf("%.0f%%", s.Analysis.ProxyProbability*100),
		Total:       s.Analysis.TotalStudents,
		Present:     s.Analysis.PresentCount,
	}
	if s.Subject != nil {
		data.Subject = *s.Subject
	}
	for _, fe := range s.Analysis.FlaggedEntries {
		data.Flagged = append(data.Flagged, flaggedMailEntry{
			StudentName: fe.StudentName,
			RollNumber:  fe.RollNumber,
			BenchID:     fe.BenchID,
			Reason:      fe.Reason,
			Confidence:  fmt.Sprintf("%.0f%%", fe.Confidence*100),
		})
	}

	msg := &core.EmailMessage{
		To:           svc.conf.Notify.Recipients,
		Subject:      fmt.Sprintf("Proxy attendance flagged: %s %s", s.ClassName, s.Section),
		TemplateName: flaggedSessionTemplate,
		TemplateData: data,
	}
	msg.SetAppName(svc.conf.AppName)

	report, err := flaggedReport(s)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("building flagged report: %v", err), err)
	} else if err = msg.Attach(report, "flagged-"+s.ID+".csv", "text/csv"); err != nil {
		svc.logger.Error(fmt.Sprintf("attaching flagged report: %v", err), err)
	}

	svc.mailSvc.SendMessages(msg)
}

// flaggedReport renders the flagged entries as CSV.
func flaggedReport(s Session) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"studentName", "rollNumber", "benchId", "reason", "confidence"})
	for _, fe := range s.Analysis.FlaggedEntries {
		_ = w.Write([]string{
			fe.StudentName,
			fe.RollNumber,
			fe.BenchID,
			fe.Reason,
			strconv.FormatFloat(fe.Confidence, 'f', 2, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf, nil
}
