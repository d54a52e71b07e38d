// Package di holds the constructors of the API dependencies, shared by the manual and dig wirings.
package di

import (
	"log"
	"net/http"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/enrollment"
	"github.com/trezcool/shule/core/user"
	appfs "github.com/trezcool/shule/fs"
	emailsvc "github.com/trezcool/shule/services/email"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/services/metrics"
	"github.com/trezcool/shule/services/notify"
	"github.com/trezcool/shule/storage"
)

func NewLogger(conf *core.Config) *logsvc.RollbarLogger {
	return logsvc.NewRollbarLogger(log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
}

// NewValidator registers all the validators & their translations, and loads the common passwords list.
func NewValidator(logger core.Logger) (*validator.Validate, *ut.UniversalTranslator) {
	uni := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, uni)
	user.InitValidators(validate, uni)
	enrollment.InitValidators(validate, uni)

	user.LoadCommonPasswords(appfs.FS, logger)
	return validate, uni
}

func NewEmailTemplates(conf *core.Config) (*core.EmailTemplates, error) {
	return core.ParseEmailTemplates(appfs.FS, conf)
}

// NewEmailService prints emails in debug mode and sends them with Sendgrid otherwise.
func NewEmailService(conf *core.Config, tmpls *core.EmailTemplates, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(log.New(os.Stdout, "EMAIL : ", log.LstdFlags), tmpls, conf, logger)
	}
	return emailsvc.NewSendgridService(tmpls, conf, logger)
}

// NewStorage opens (and migrates) the configured database.
func NewStorage(conf *core.Config) (*storage.Storage, error) {
	return storage.Open(conf, true /* migrate */)
}

func NewUserService(st *storage.Storage, validate *validator.Validate, conf *core.Config) *user.Service {
	return user.NewService(st.UserRepo, validate, conf)
}

func NewNotifier(
	st *storage.Storage,
	users *user.Service,
	mailer core.EmailService,
	logger core.Logger,
	conf *core.Config,
) *notify.CredentialNotifier {
	return notify.NewCredentialNotifier(st.EnrollmentRepo, users, mailer, logger, conf)
}

// NewMetrics registers the enrollment metrics with the default Prometheus registry.
func NewMetrics() (*metrics.PrometheusMetrics, error) {
	return metrics.NewPrometheusMetrics(prometheus.DefaultRegisterer)
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func NewEnrollmentService(
	st *storage.Storage,
	notifier *notify.CredentialNotifier,
	m *metrics.PrometheusMetrics,
	logger core.Logger,
	validate *validator.Validate,
	conf *core.Config,
) *enrollment.Service {
	return enrollment.NewService(st.EnrollmentRepo, notifier, m, logger, validate, enrollment.OptionsFromConfig(conf))
}
