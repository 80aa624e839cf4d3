package core

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate

	plzPattern            = regexp.MustCompile(`^[1-9][0-9]{3}$`)
	translationKeyPattern = regexp.MustCompile(`^[A-Z0-9_]+$`)
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report wire names ("einheitId") rather than Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = validate.RegisterValidation("plz", func(fl validator.FieldLevel) bool {
		return plzPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	_ = validate.RegisterValidation("iban", func(fl validator.FieldLevel) bool {
		return ValidateIBAN(fl.Field().String()) == nil
	})
	_ = validate.RegisterValidation("translationkey", func(fl validator.FieldLevel) bool {
		return translationKeyPattern.MatchString(fl.Field().String())
	})
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return NewValidationError(messagesOf(err)...)
	}
	return nil
}

// messagesOf turns validator errors into banner lines like "plz: ungültige Postleitzahl".
func messagesOf(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return ve.Messages
		}
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s: %s", fe.Field(), ruleText(fe)))
	}
	return out
}

func ruleText(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank", "required":
		return "Pflichtfeld"
	case "max":
		return "höchstens " + fe.Param() + " Zeichen"
	case "oneof":
		return "erlaubt sind " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return "Auswahl erforderlich"
	case "plz":
		return "ungültige Postleitzahl"
	case "iban":
		return "ungültige IBAN"
	case "translationkey":
		return "nur Grossbuchstaben, Ziffern und _"
	default:
		return "ungültig (" + fe.Tag() + ")"
	}
}
