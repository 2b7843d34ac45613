package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	MaxColumnFamilyName = 64

	columnFamilyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

func init() {
	validate = validator.New()
	validate.RegisterValidation("cfname", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		return len(name) <= MaxColumnFamilyName && columnFamilyPattern.MatchString(name)
	})
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	for _, e := range validationErrs {
		field := e.Namespace()
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min", "gte":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max", "lte":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: %q must be one of [%s]", field, e.Value(), param)
		case "cfname":
			return fmt.Errorf("%s: %q is not a valid column family name", field, e.Value())
		case "unique":
			return fmt.Errorf("%s: duplicate entries", field)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}

	return err
}
