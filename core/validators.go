package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/es"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	es_translations "github.com/go-playground/validator/v10/translations/es"
)

// Supported locales; the first one is the fallback.
const (
	LocaleEN = "en"
	LocaleES = "es"
)

var (
	// custom validation tags & texts
	alphaNumUnderTag   = "alphanum_"
	alphaNumUnderText  = Texts{LocaleEN: "only alphanumeric characters and underscores are allowed", LocaleES: "solo se permiten caracteres alfanuméricos y guiones bajos"}
	alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

	notBlankTag  = "notblank"
	notBlankText = Texts{LocaleEN: "this field cannot be blank", LocaleES: "este campo no puede estar vacío"}

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = Texts{LocaleEN: "this field is required", LocaleES: "este campo es obligatorio"}
)

// Texts holds a message per locale.
type Texts map[string]string

// NewTranslator returns the universal translator for all supported locales.
func NewTranslator() *ut.UniversalTranslator {
	_en := en.New()
	return ut.New(_en, _en, es.New())
}

// Translator returns the translator matching one of the preferred locales, falling back to english.
func Translator(uni *ut.UniversalTranslator, locales ...string) ut.Translator {
	trans, _ := uni.FindTranslator(locales...)
	return trans
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, uni *ut.UniversalTranslator) {
	if trans, found := uni.GetTranslator(LocaleEN); found {
		_ = en_translations.RegisterDefaultTranslations(validate, trans)
	}
	if trans, found := uni.GetTranslator(LocaleES); found {
		_ = es_translations.RegisterDefaultTranslations(validate, trans)
	}

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	_ = validate.RegisterValidation(alphaNumUnderTag, alphaNumUnderValidation)
	RegisterCustomTranslation(validate, uni, alphaNumUnderTag, alphaNumUnderText)

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	RegisterCustomTranslation(validate, uni, notBlankTag, notBlankText)

	RegisterCustomTranslation(validate, uni, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, uni, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers custom translations for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, uni *ut.UniversalTranslator, tag string, texts Texts, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	for locale, text := range texts {
		trans, found := uni.GetTranslator(locale)
		if !found {
			continue
		}
		text := text
		_ = validate.RegisterTranslation(
			tag, trans,
			func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
			func(t ut.Translator, fe validator.FieldError) string {
				s, _ := t.T(tag, fe.Field())
				return s
			},
		)
	}
}

// TranslateValidationErrors maps each invalid field to its translated message.
func TranslateValidationErrors(errs validator.ValidationErrors, trans ut.Translator) map[string]string {
	fldErrs := make(map[string]string, len(errs))
	for _, vErr := range errs {
		fldErrs[vErr.Field()] = vErr.Translate(trans)
	}
	return fldErrs
}

// Custom Global Validators

// alphaNumUnderValidation only allows alphanumeric characters and underscores.
func alphaNumUnderValidation(fl validator.FieldLevel) bool {
	return alphaNumUnderRegex.MatchString(fl.Field().String())
}

// notBlankValidation rejects whitespace-only strings.
func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}
