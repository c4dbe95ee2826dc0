package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validationMessages = map[string]string{
	"required":     "The field '%s' is required.",
	"max":          "The field '%s' must be no longer than %s characters.",
	"calendardate": "The field '%s' must be a date (YYYY-MM-DD or RFC 3339).",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("calendardate", func(fl validator.FieldLevel) bool {
		return isCalendarDate(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register calendardate validation: %v", err))
	}
	return v
}

func isCalendarDate(s string) bool {
	if _, err := time.Parse(time.DateOnly, s); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

// validationMessage turns the first failed rule into a client-facing message.
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Invalid request body"
	}
	e := fieldErrs[0]
	msg, ok := validationMessages[e.Tag()]
	if !ok {
		return fmt.Sprintf("Field '%s' is invalid: %s", e.Field(), e.Tag())
	}
	if strings.Count(msg, "%s") == 2 {
		return fmt.Sprintf(msg, e.Field(), e.Param())
	}
	return fmt.Sprintf(msg, e.Field())
}
