package main

import (
	"fmt"

	"github.com/trezcool/shule/apps/api/di"
	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
)

func startManual() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := di.NewLogger(conf)
	defer logger.Close()

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate, uni := di.NewValidator(logger)

	tmpls, err := di.NewEmailTemplates(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("parsing email templates: %v", err), err)
	}
	mailSvc := di.NewEmailService(conf, tmpls, logger)

	// set up DB
	st, err := di.NewStorage(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing database: %v", err), err)
		}
	}()

	// set up services
	usrSvc := di.NewUserService(st, validate, conf)
	notifier := di.NewNotifier(st, usrSvc, mailSvc, logger, conf)
	metrics, err := di.NewMetrics()
	if err != nil {
		logger.Fatal(fmt.Sprintf("registering metrics: %v", err), err)
	}
	enrolSvc := di.NewEnrollmentService(st, notifier, metrics, logger, validate, conf)

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:           conf,
			Logger:         logger,
			DB:             st.DB,
			EnrollmentSvc:  enrolSvc,
			UserSvc:        usrSvc,
			Translator:     uni,
			MetricsHandler: di.MetricsHandler(),
		},
	)

	serve(conf, logger, server, notifier)
}
