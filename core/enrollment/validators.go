package enrollment

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

var (
	personNameTag   = "personname"
	personNameText  = core.Texts{core.LocaleEN: "only letters, spaces, hyphens and apostrophes are allowed", core.LocaleES: "solo se permiten letras, espacios, guiones y apóstrofos"}
	personNameRegex = regexp.MustCompile(`^[\p{L}\p{M}][\p{L}\p{M} '\-.]*$`)

	birthDateTag  = "birthdate"
	birthDateText = core.Texts{core.LocaleEN: "birth date cannot be in the future", core.LocaleES: "la fecha de nacimiento no puede estar en el futuro"}

	duplicateStudentTag  = "dupstudent"
	duplicateStudentText = core.Texts{core.LocaleEN: "the same student is listed twice", core.LocaleES: "el mismo estudiante aparece dos veces"}
)

// InitValidators registers the enrollment validators & their translations.
func InitValidators(validate *validator.Validate, uni *ut.UniversalTranslator) {
	_ = validate.RegisterValidation(personNameTag, personNameValidation)
	core.RegisterCustomTranslation(validate, uni, personNameTag, personNameText)

	validate.RegisterStructValidation(newStudentStructValidation, NewStudent{})
	core.RegisterCustomTranslation(validate, uni, birthDateTag, birthDateText)

	validate.RegisterStructValidation(newPreRegistrationStructValidation, NewPreRegistration{})
	core.RegisterCustomTranslation(validate, uni, duplicateStudentTag, duplicateStudentText)
}

func personNameValidation(fl validator.FieldLevel) bool {
	return personNameRegex.MatchString(fl.Field().String())
}

func newStudentStructValidation(sl validator.StructLevel) {
	ns, ok := sl.Current().Interface().(NewStudent)
	if !ok {
		return
	}
	if !ns.BirthDate.IsZero() && ns.BirthDate.After(NowFunc()) {
		sl.ReportError(ns.BirthDate, "birth_date", "BirthDate", birthDateTag, "")
	}
}

// newPreRegistrationStructValidation rejects the same student (names, birth date & grade) listed twice.
func newPreRegistrationStructValidation(sl validator.StructLevel) {
	np, ok := sl.Current().Interface().(NewPreRegistration)
	if !ok {
		return
	}
	seen := make(map[NewStudent]struct{}, len(np.Students))
	for _, ns := range np.Students {
		key := ns
		key.FirstName = core.CleanString(ns.FirstName, true /* lower */)
		key.LastName = core.CleanString(ns.LastName, true /* lower */)
		if _, dup := seen[key]; dup {
			sl.ReportError(np.Students, "students", "Students", duplicateStudentTag, "")
			return
		}
		seen[key] = struct{}{}
	}
}
