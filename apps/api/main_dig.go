package main

import (
	"fmt"
	"log"

	dig_container "github.com/trezcool/shule/apps/api/di/dig"
	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/services/notify"
	"github.com/trezcool/shule/storage"
)

func startWithDig() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		logger *logsvc.RollbarLogger,
		st *storage.Storage,
		notifier *notify.CredentialNotifier,
		server *echoapi.Server,
	) {
		defer logger.Close()

		logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
		defer logger.Info("Application stopped")

		defer func() {
			if err := st.Close(); err != nil {
				logger.Error(fmt.Sprintf("closing database: %v", err), err)
			}
		}()

		serve(conf, logger, server, notifier)
	}))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
