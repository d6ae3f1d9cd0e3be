package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"reflect"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/proxyguard/apps/api/echo"
	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/attendance"
	"github.com/trezcool/proxyguard/core/session"
	emailsvc "github.com/trezcool/proxyguard/services/email"
	sqlxrepos "github.com/trezcool/proxyguard/storage/database/sqlxrepos"
	testutil "github.com/trezcool/proxyguard/tests"
)

var admin = mail.Address{Name: "Admin", Address: "admin@school.test"}

type testApp struct {
	server  *echoapi.Server
	repo    session.Repository
	mailSvc *emailsvc.ConsoleServiceMock
}

// fakeGenerator answers every prompt with the same text.
type fakeGenerator struct {
	text string
	err  error
}

func (g fakeGenerator) Generate(context.Context, string) (string, error) {
	return g.text, g.err
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func setup(t *testing.T, opts ...attendance.Option) testApp {
	core.ParseEmailTemplates(core.NopLogger(), true)
	conf := testutil.NewConfig()
	conf.Notify.Recipients = []mail.Address{admin}

	// set up DB & repos
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewSessionRepository(db)

	// set up services
	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	session.InitValidators(validate, translator)

	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	sessionSvc := session.NewServiceMock(repo, mailSvc, conf)

	opts = append([]attendance.Option{
		attendance.WithRandSource(attendance.NewRandSource(conf.Analysis.Seed)),
		attendance.WithTimeout(conf.Analysis.Timeout),
	}, opts...)

	// set up server
	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     core.NopLogger(),
		Analyzer:   attendance.NewAnalyzer(opts...),
		SessionSvc: sessionSvc,
		Validate:   validate,
		Translator: translator,
	})
	return testApp{server: server, repo: repo, mailSvc: mailSvc}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	wantCode int
	wantData []byte
	extra    interface{}
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return req, rec
}

// newUploadRequest posts content as the "file" form field; an empty filename sends no file.
func newUploadRequest(t *testing.T, filename string, content []byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile(): %v", err)
		}
		if _, err = part.Write(content); err != nil {
			t.Fatalf("part.Write(): %v", err)
		}
	} else {
		_ = w.WriteField("note", "no file")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("multipart.Close(): %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	return req, rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	assert.Equal(t, tt.wantCode, rec.Code)
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if assert.NoError(t, err, "jsonBytesEqual() failed to compare") {
		assert.True(t, ok, "data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal(): %v; body %s", err, rec.Body.String())
	}
}
