package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/shule/apps/api/di"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/enrollment"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)

	os.Exit(run(conf, logger))
}

func run(conf *core.Config, logger *logsvc.RollbarLogger) int {
	defer logger.Close()

	// set up DB
	st, err := storage.Open(conf, false /* migrate */)
	if err != nil {
		logger.Error(fmt.Sprintf("setting up database: %v", err), err)
		return 1
	}
	defer func() { _ = st.Close() }()

	validate, _ := di.NewValidator(logger)
	tmpls, err := di.NewEmailTemplates(conf)
	if err != nil {
		logger.Error(fmt.Sprintf("parsing email templates: %v", err), err)
		return 1
	}
	usrSvc := di.NewUserService(st, validate, conf)
	notifier := di.NewNotifier(st, usrSvc, di.NewEmailService(conf, tmpls, logger), logger, conf)
	defer notifier.Wait()

	// start CLI
	cli := commandLine{
		st:       st,
		usrSvc:   usrSvc,
		enrolSvc: enrollment.NewService(st.EnrollmentRepo, notifier, nil, logger, validate, enrollment.OptionsFromConfig(conf)),
		out:      os.Stdout,
	}
	if err = cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		return 1
	}
	return 0
}
