package echoapi

import (
	"fmt"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/text/language"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/enrollment"
	"github.com/trezcool/shule/core/user"
)

var (
	errInvalidID       = echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	errInvalidOutcome  = echo.NewHTTPError(http.StatusBadRequest, "outcome must be approved or rejected")
	errStorageNotReady = echo.NewHTTPError(http.StatusServiceUnavailable, "storage not ready")

	supportedLocales = []string{core.LocaleEN, core.LocaleES}
	localeMatcher    = language.NewMatcher([]language.Tag{language.English, language.Spanish})

	kindStatus = map[enrollment.Kind]int{
		enrollment.NotFound:                 http.StatusNotFound,
		enrollment.AlreadyDecided:           http.StatusConflict,
		enrollment.InvalidStateTransition:   http.StatusConflict,
		enrollment.GuardianCapacityExceeded: http.StatusUnprocessableEntity,
		enrollment.AllocationFailed:         http.StatusConflict,
		enrollment.CapacityExhausted:        http.StatusConflict,
		enrollment.AlreadyAssigned:          http.StatusConflict,
		enrollment.TeacherAlreadyAssigned:   http.StatusConflict,
		enrollment.GroupAlreadyHasTeacher:   http.StatusConflict,
		enrollment.GroupNotReady:            http.StatusUnprocessableEntity,
		enrollment.NoGroupAssigned:          http.StatusConflict,
		enrollment.ConcurrentModification:   http.StatusConflict,
		enrollment.StorageError:             http.StatusInternalServerError,
	}

	kindTexts = map[enrollment.Kind]core.Texts{
		enrollment.NotFound: {
			core.LocaleEN: "not found",
			core.LocaleES: "no encontrado",
		},
		enrollment.AlreadyDecided: {
			core.LocaleEN: "this pre-registration has already been decided",
			core.LocaleES: "esta preinscripción ya fue resuelta",
		},
		enrollment.InvalidStateTransition: {
			core.LocaleEN: "this state change is not allowed",
			core.LocaleES: "este cambio de estado no está permitido",
		},
		enrollment.GuardianCapacityExceeded: {
			core.LocaleEN: "the guardian cannot have more students",
			core.LocaleES: "el tutor no puede tener más estudiantes",
		},
		enrollment.AllocationFailed: {
			core.LocaleEN: "the students could not be placed in a group",
			core.LocaleES: "no se pudo asignar un grupo a los estudiantes",
		},
		enrollment.CapacityExhausted: {
			core.LocaleEN: "no group can take more students in this grade",
			core.LocaleES: "ningún grupo de este grado puede recibir más estudiantes",
		},
		enrollment.AlreadyAssigned: {
			core.LocaleEN: "the student already has a group",
			core.LocaleES: "el estudiante ya tiene un grupo",
		},
		enrollment.TeacherAlreadyAssigned: {
			core.LocaleEN: "the teacher is already assigned to another group",
			core.LocaleES: "el profesor ya está asignado a otro grupo",
		},
		enrollment.GroupAlreadyHasTeacher: {
			core.LocaleEN: "the group already has a teacher",
			core.LocaleES: "el grupo ya tiene un profesor",
		},
		enrollment.GroupNotReady: {
			core.LocaleEN: "the group has not reached its minimum size or is inactive",
			core.LocaleES: "el grupo no alcanzó su tamaño mínimo o está inactivo",
		},
		enrollment.NoGroupAssigned: {
			core.LocaleEN: "the teacher has no group",
			core.LocaleES: "el profesor no tiene grupo",
		},
		enrollment.ConcurrentModification: {
			core.LocaleEN: "the data was modified by another request, please retry",
			core.LocaleES: "los datos fueron modificados por otra solicitud, intente de nuevo",
		},
	}

	serverErrorText = core.Texts{core.LocaleEN: "internal server error", core.LocaleES: "error interno del servidor"}
)

// requestLocale returns the supported locale that best matches the Accept-Language header.
func requestLocale(ctx echo.Context) string {
	tags, _, _ := language.ParseAcceptLanguage(ctx.Request().Header.Get("Accept-Language"))
	_, idx, _ := localeMatcher.Match(tags...)
	return supportedLocales[idx]
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, uni *ut.UniversalTranslator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var (
			code    int
			message interface{}
			locale  = requestLocale(ctx)
		)

		var (
			httpErr  *echo.HTTPError
			vErrs    validator.ValidationErrors
			valErr   *core.ValidationError
			enrolErr *enrollment.Error
		)
		switch {
		case errors.As(err, &httpErr):
			if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
				httpErr = herr
			}
			code = httpErr.Code
			message = httpErr.Message

		case errors.As(err, &vErrs):
			code = http.StatusBadRequest
			message = core.TranslateValidationErrors(vErrs, core.Translator(uni, locale))

		case errors.As(err, &valErr):
			code = http.StatusBadRequest
			if valErr.Fields != nil {
				fldErrs := make(map[string]string, len(valErr.Fields))
				for _, fErr := range valErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = valErr.Error()
			}

		case errors.As(err, &enrolErr) && enrolErr.Kind != enrollment.StorageError:
			code = kindStatus[enrolErr.Kind]
			if code == 0 {
				code = http.StatusInternalServerError
			}
			message = echo.Map{"error": kindTexts[enrolErr.Kind][locale], "kind": enrolErr.Kind.String()}

		case errors.Is(err, user.ErrNotFound):
			code = http.StatusNotFound
			message = kindTexts[enrollment.NotFound][locale]

		case errors.Is(err, user.ErrInvalidToken), errors.Is(err, user.ErrTokenExpired):
			code = http.StatusBadRequest
			message = err.Error()

		default: // any other error is a server error
			code = http.StatusInternalServerError
			message = serverErrorText[locale]

			msg := fmt.Sprintf("%s %s: %v", ctx.Request().Method, ctx.Request().URL.Path, err)
			logger.Error(msg, errors.Wrap(err, http.StatusText(code)), map[string]interface{}{
				"request_id": ctx.Response().Header().Get(echo.HeaderXRequestID),
			})

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code >= http.StatusInternalServerError {
			message = echo.Map{"error": err.Error()}
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
