package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/proxyguard/apps/api/echo"
	"github.com/trezcool/proxyguard/core/attendance"
	"github.com/trezcool/proxyguard/core/session"
	"github.com/trezcool/proxyguard/services/spreadsheet"
)

const sheetCSV = "Name,Roll No,Bench,Present\n" +
	"Ann,1,CSE-A-R1C1,yes\n" +
	"Bob,2,CSE-A-R1C2,yes\n" +
	",,,\n" +
	"Cyd,3,CSE-A-R1C4,no\n"

func sheet() attendance.Table {
	return attendance.NewTable(
		[]string{"Name", "Roll No", "Bench", "Present"},
		[][]string{
			{"Ann", "1", "CSE-A-R1C1", "yes"},
			{"Bob", "2", "CSE-A-R1C2", "yes"},
			{"Cyd", "3", "CSE-A-R1C4", "no"},
		},
	)
}

func Test_analysisApi_upload(t *testing.T) {
	app := setup(t)
	tbl := sheet()

	tests := []struct {
		httpTest
		filename string
		content  string
	}{
		{
			httpTest: httpTest{name: "no file", wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "No file provided"})},
		},
		{
			httpTest: httpTest{
				name: "unsupported format", wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, map[string]string{"file": spreadsheet.ErrUnsupportedFormat.Error()}),
			},
			filename: "sheet.pdf", content: sheetCSV,
		},
		{
			httpTest: httpTest{
				name: "legacy excel", wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, map[string]string{"file": spreadsheet.ErrLegacyExcel.Error()}),
			},
			filename: "sheet.xls", content: sheetCSV,
		},
		{
			httpTest: httpTest{
				name: "headers only", wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, map[string]string{"file": spreadsheet.ErrNoData.Error()}),
			},
			filename: "sheet.csv", content: "Name,Roll No\n",
		},
		{
			httpTest: httpTest{
				name: "csv", wantCode: http.StatusOK,
				wantData: marchallObj(t, echoapi.UploadResponse{
					Headers:          tbl.Headers,
					Rows:             tbl.Rows,
					FileName:         "Attendance.CSV",
					RowCount:         3,
					DetectedMetadata: attendance.ExtractMetadata(tbl.Headers, tbl.Rows),
				}),
			},
			filename: "Attendance.CSV", content: sheetCSV,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newUploadRequest(t, tt.filename, []byte(tt.content))
			app.server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt.httpTest, rec)
		})
	}
}

func Test_analysisApi_detect(t *testing.T) {
	app := setup(t)
	tbl := sheet()

	tests := []httpTest{
		{
			name: "headers required", body: []byte(`{"rows": []}`), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"headers": "this field is required"}),
		},
		{
			name: "invalid json", body: []byte(`{"headers": `), wantCode: http.StatusBadRequest,
		},
		{
			name: "detected", body: marchallObj(t, tbl), wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.DetectResponse{
				Columns:          attendance.ClassifyColumns(tbl.Headers),
				DetectedMetadata: attendance.ExtractMetadata(tbl.Headers, tbl.Rows),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/detect", tt.body)
			app.server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_analysisApi_analyze_validation(t *testing.T) {
	app := setup(t)

	tests := []httpTest{
		{
			name: "data required", body: []byte(`{"className": "CSE"}`), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"data": "this field is required"}),
		},
		{
			name: "blank rows only", wantCode: http.StatusBadRequest,
			body:     []byte(`{"data": {"headers": ["Name"], "rows": [{"Name": "  "}]}}`),
			wantData: marchallObj(t, map[string]string{"data": "no data found in the sheet"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/analyze", tt.body)
			app.server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_analysisApi_analyze(t *testing.T) {
	delegated := `Here you go: {"proxyProbability": 0.8, "insights": ["Bob sat on two benches"], ` +
		`"flaggedEntries": [{"studentName": "Bob", "rollNumber": "2", "benchId": "CSE-A-R1C2", "reason": "Bench conflict", "confidence": 0.9}]}`
	section := "B"

	tests := []struct {
		name         string
		generator    attendance.TextGenerator
		req          echoapi.AnalyzeRequest
		wantClass    string
		wantSection  string
		wantStatus   attendance.Status
		wantInsights []string
	}{
		{
			name:        "heuristics",
			req:         echoapi.AnalyzeRequest{ClassName: "CSE"},
			wantClass:   "CSE",
			wantSection: session.DefaultSection,
		},
		{
			name:        "metadata fills blanks",
			req:         echoapi.AnalyzeRequest{Section: " ", Metadata: &attendance.Metadata{Section: &section}},
			wantClass:   session.DefaultClassName,
			wantSection: "B",
		},
		{
			name:         "delegated",
			generator:    fakeGenerator{text: delegated},
			req:          echoapi.AnalyzeRequest{ClassName: "CSE", Section: "A", Subject: "Maths"},
			wantClass:    "CSE",
			wantSection:  "A",
			wantStatus:   attendance.StatusFlagged,
			wantInsights: []string{"Bob sat on two benches"},
		},
		{
			name:        "generator failure falls back",
			generator:   fakeGenerator{err: errors.New("quota exceeded")},
			req:         echoapi.AnalyzeRequest{ClassName: "CSE", Section: "A"},
			wantClass:   "CSE",
			wantSection: "A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []attendance.Option
			if tt.generator != nil {
				opts = append(opts, attendance.WithGenerator(tt.generator))
			}
			app := setup(t, opts...)

			tbl := sheet()
			tt.req.Data = &tbl
			req, rec := newRequest(http.MethodPost, "/v1/analyze", marchallObj(t, tt.req))
			app.server.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp echoapi.AnalyzeResponse
			decode(t, rec, &resp)
			assert.Equal(t, 3, resp.TotalStudents)
			assert.Equal(t, 2, resp.PresentCount)
			assert.Equal(t, 1, resp.AbsentCount)
			assert.Equal(t, len(resp.FlaggedEntries), resp.FlaggedCount)
			assert.Equal(t, attendance.StatusFor(resp.ProxyProbability), resp.Status)
			assert.Nil(t, resp.IPAnalysis, "no IP column")
			require.NotNil(t, resp.SeatingAnalysis)
			assert.Equal(t, 1, resp.SeatingAnalysis.Clusters)
			if tt.wantStatus != "" {
				assert.Equal(t, tt.wantStatus, resp.Status)
			}
			if tt.wantInsights != nil {
				assert.Equal(t, tt.wantInsights, resp.Insights)
			}

			require.NotEmpty(t, resp.SessionID)
			s, err := app.repo.GetSession(context.Background(), resp.SessionID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantClass, s.ClassName)
			assert.Equal(t, tt.wantSection, s.Section)
			assert.Equal(t, resp.Status, s.Status)
			assert.Len(t, s.Entries, 3)

			wantMails := 0
			if resp.Status == attendance.StatusFlagged {
				wantMails = 1
			}
			assert.Len(t, app.mailSvc.SentMessages(), wantMails, "flagged sessions are notified")
		})
	}
}
