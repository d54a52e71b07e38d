package dig_container

import (
	"log"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	"github.com/trezcool/shule/apps/api/di"
	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/enrollment"
	"github.com/trezcool/shule/core/user"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage"
)

// ServerParams are the dependencies of the API server.
type ServerParams struct {
	dig.In

	Conf           *core.Config
	Logger         core.Logger
	Storage        *storage.Storage
	EnrollmentSvc  *enrollment.Service
	UserSvc        *user.Service
	Translator     *ut.UniversalTranslator
	MetricsHandler http.Handler `name:"metrics"`
}

func newServer(p ServerParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:           p.Conf,
		Logger:         p.Logger,
		DB:             p.Storage.DB,
		EnrollmentSvc:  p.EnrollmentSvc,
		UserSvc:        p.UserSvc,
		Translator:     p.Translator,
		MetricsHandler: p.MetricsHandler,
	})
}

func coreLogger(l *logsvc.RollbarLogger) core.Logger { return l }

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(di.NewLogger))
	must(c.Provide(coreLogger))
	must(c.Provide(di.NewValidator))
	must(c.Provide(di.NewEmailTemplates))
	must(c.Provide(di.NewEmailService))
	must(c.Provide(di.NewStorage))
	must(c.Provide(di.NewUserService))
	must(c.Provide(di.NewNotifier))
	must(c.Provide(di.NewMetrics))
	must(c.Provide(di.MetricsHandler, dig.Name("metrics")))
	must(c.Provide(di.NewEnrollmentService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
