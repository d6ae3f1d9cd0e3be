package dig_container

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/proxyguard/apps/api/echo"
	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/attendance"
	"github.com/trezcool/proxyguard/core/session"
	emailsvc "github.com/trezcool/proxyguard/services/email"
	gensvc "github.com/trezcool/proxyguard/services/generator"
	logsvc "github.com/trezcool/proxyguard/services/logger"
	retentionsvc "github.com/trezcool/proxyguard/services/retention"
	"github.com/trezcool/proxyguard/storage/database"
	sqlxrepos "github.com/trezcool/proxyguard/storage/database/sqlxrepos"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// newAnalyzer delegates to Gemini when an API key is configured, heuristics are used otherwise.
func newAnalyzer(conf *core.Config, logger core.Logger) *attendance.Analyzer {
	opts := []attendance.Option{
		attendance.WithRandSource(attendance.NewRandSource(conf.Analysis.Seed)),
		attendance.WithTimeout(conf.Analysis.Timeout),
		attendance.WithLogger(logger),
	}
	if conf.Analysis.GeminiEnabled() {
		gen, err := gensvc.NewGeminiClient(conf, logger)
		if err != nil {
			logger.Warn(fmt.Sprintf("%v: using heuristic analysis", err), err)
		} else {
			opts = append(opts, attendance.WithGenerator(gen))
		}
	}
	return attendance.NewAnalyzer(opts...)
}

func newSessionService(repo session.Repository, mailSvc core.EmailService, conf *core.Config, logger core.Logger) *session.Service {
	return session.NewService(repo, mailSvc, conf, logger)
}

func newReaper(svc *session.Service, conf *core.Config, logger core.Logger) (*retentionsvc.Reaper, error) {
	return retentionsvc.NewReaper(svc, conf, logger)
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	analyzer *attendance.Analyzer,
	sessionSvc *session.Service,
	validate *validator.Validate,
	translator ut.Translator,
) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Analyzer:   analyzer,
		SessionSvc: sessionSvc,
		Validate:   validate,
		Translator: translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(sqlxrepos.NewSessionRepository, dig.As(new(session.Repository))))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(newAnalyzer))
	must(c.Provide(newSessionService))
	must(c.Provide(newReaper))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
