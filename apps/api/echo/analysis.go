package echoapi

import (
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/attendance"
	"github.com/trezcool/proxyguard/core/session"
	"github.com/trezcool/proxyguard/services/spreadsheet"
)

const uploadFormField = "file"

type (
	UploadResponse struct {
		Headers          []string            `json:"headers"`
		Rows             []attendance.Row    `json:"rows"`
		FileName         string              `json:"fileName"`
		RowCount         int                 `json:"rowCount"`
		DetectedMetadata attendance.Metadata `json:"detectedMetadata"`
	}

	DetectResponse struct {
		Columns          attendance.Columns  `json:"columns"`
		DetectedMetadata attendance.Metadata `json:"detectedMetadata"`
	}

	AnalyzeRequest struct {
		Data      *attendance.Table    `json:"data" validate:"required"`
		ClassName string               `json:"className" validate:"max=128"`
		Section   string               `json:"section" validate:"max=64"`
		Subject   string               `json:"subject" validate:"max=128"`
		Room      string               `json:"room" validate:"max=64"`
		Date      *time.Time           `json:"date"`
		Metadata  *attendance.Metadata `json:"metadata"`
	}

	AnalyzeResponse struct {
		attendance.AnalysisResult
		Status    attendance.Status `json:"status"`
		SessionID string            `json:"sessionId,omitempty"`
	}
)

func (ar *AnalyzeRequest) Validate(validate *validator.Validate) error {
	ar.ClassName = core.CleanString(ar.ClassName)
	ar.Section = core.CleanString(ar.Section)
	ar.Subject = core.CleanString(ar.Subject)
	ar.Room = core.CleanString(ar.Room)
	return validate.Struct(ar)
}

// prefill completes blank session fields with the detected metadata.
func (ar *AnalyzeRequest) prefill() {
	md := ar.Metadata
	if md == nil {
		return
	}
	fill := func(dst *string, val *string) {
		if *dst == "" && val != nil {
			*dst = core.CleanString(*val)
		}
	}
	fill(&ar.ClassName, md.ClassName)
	fill(&ar.Section, md.Section)
	fill(&ar.Subject, md.Subject)
	fill(&ar.Room, md.Room)
	if ar.Date == nil && md.Date != nil {
		if d, err := time.Parse(time.DateOnly, core.CleanString(*md.Date)); err == nil {
			ar.Date = &d
		}
	}
}

type analysisApi struct {
	analyzer   *attendance.Analyzer
	sessionSvc *session.Service
	validate   *validator.Validate
	logger     core.Logger
}

func registerAnalysisAPI(
	g *echo.Group,
	analyzer *attendance.Analyzer,
	sessionSvc *session.Service,
	validate *validator.Validate,
	logger core.Logger,
) {
	api := analysisApi{
		analyzer:   analyzer,
		sessionSvc: sessionSvc,
		validate:   validate,
		logger:     logger,
	}

	g.POST("/upload", api.upload)
	g.POST("/detect", api.detect)
	g.POST("/analyze", api.analyze)
}

// Handlers

func (api *analysisApi) upload(ctx echo.Context) error {
	fh, err := ctx.FormFile(uploadFormField)
	if err != nil {
		return errNoFile
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return errors.Wrap(err, "reading uploaded file")
	}

	table, err := spreadsheet.Parse(fh.Filename, data)
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, UploadResponse{
		Headers:          table.Headers,
		Rows:             table.Rows,
		FileName:         fh.Filename,
		RowCount:         len(table.Rows),
		DetectedMetadata: attendance.ExtractMetadata(table.Headers, table.Rows),
	})
}

func (api *analysisApi) detect(ctx echo.Context) error {
	var data attendance.Table
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Table")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	data = data.Compact()
	return ctx.JSON(http.StatusOK, DetectResponse{
		Columns:          attendance.ClassifyColumns(data.Headers),
		DetectedMetadata: attendance.ExtractMetadata(data.Headers, data.Rows),
	})
}

func (api *analysisApi) analyze(ctx echo.Context) error {
	var data AnalyzeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AnalyzeRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	data.prefill()

	table := data.Data.Compact()
	if table.Empty() {
		return core.NewValidationError(nil, core.FieldError{Field: "data", Error: "no data found in the sheet"})
	}

	res := api.analyzer.Analyze(ctx.Request().Context(), table)
	resp := AnalyzeResponse{AnalysisResult: res, Status: res.Status()}

	rs := session.RecordSession{
		ClassName: data.ClassName,
		Section:   data.Section,
		Subject:   data.Subject,
		Room:      data.Room,
		Table:     table,
		Result:    res,
	}
	if data.Date != nil {
		rs.Date = *data.Date
	}
	// recording is best-effort: the analysis is returned anyway
	if s, err := api.sessionSvc.Record(ctx.Request().Context(), rs); err != nil {
		api.logger.Warn("recording analysis session failed", errors.Wrap(err, "recording session"))
	} else {
		resp.SessionID = s.ID
	}

	return ctx.JSON(http.StatusOK, resp)
}
