// Package validator checks decoded request payloads and reports failures per
// JSON field.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"marketplace/internal/models"
	"marketplace/internal/payment"
)

// Error carries one message per failing field, keyed by the field's JSON name.
type Error struct {
	Details map[string]string
}

func (e *Error) Error() string {
	fields := make([]string, 0, len(e.Details))
	for field := range e.Details {
		fields = append(fields, field)
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}

type Validator struct {
	validate *playground.Validate
}

func New() *Validator {
	validate := playground.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	mustRegister(validate, "phone", func(fl playground.FieldLevel) bool {
		_, err := payment.NormalizePhone(fl.Field().String())
		return err == nil
	})
	mustRegister(validate, "paymethod", func(fl playground.FieldLevel) bool {
		_, err := payment.ParseMethod(fl.Field().String())
		return err == nil
	})
	mustRegister(validate, "selfrole", func(fl playground.FieldLevel) bool {
		role := models.Role(fl.Field().String())
		return role == "" || role == models.RoleBuyer || role == models.RoleShareholder
	})
	return &Validator{validate: validate}
}

func mustRegister(validate *playground.Validate, tag string, fn playground.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// Struct validates s. A failure is returned as *Error.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs playground.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = message(fe)
	}
	return &Error{Details: details}
}

func message(fe playground.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "phone":
		return "must be a valid mobile number"
	case "paymethod":
		return "must be MTN or ORANGE"
	case "selfrole":
		return "must be buyer or shareholder"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
