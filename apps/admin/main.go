package main

import (
	"log"
	"os"

	"github.com/trezcool/proxyguard/core"
	"github.com/trezcool/proxyguard/core/session"
	emailsvc "github.com/trezcool/proxyguard/services/email"
	logsvc "github.com/trezcool/proxyguard/services/logger"
	"github.com/trezcool/proxyguard/storage/database"
	sqlxrepos "github.com/trezcool/proxyguard/storage/database/sqlxrepos"
)

var logger core.Logger

func main() {
	conf := core.NewConfig()

	rl := logsvc.NewRollbarLogger(log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	rl.Enable(!conf.Debug)
	logger = rl

	core.ParseEmailTemplates(logger)

	// set up DB
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	errAndDie(err)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	repo := sqlxrepos.NewSessionRepository(db)

	// start CLI
	cli := commandLine{
		db:         db,
		conf:       conf,
		logger:     logger,
		sessionSvc: session.NewService(repo, mailSvc, conf, logger),
		out:        os.Stdout,
	}
	err = cli.run(os.Args)
	cli.sessionSvc.Wait()
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error("command failed", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
