package handler

import (
    "errors"
    "fmt"
    "reflect"
    "strings"

    "github.com/go-playground/validator/v10"

    "github.com/iliyamo/leafguard/internal/service"
)

// RequestValidator adapts validator/v10 to echo.Validator.  Field names in
// messages use the json tag.
type RequestValidator struct {
    v *validator.Validate
}

func NewValidator() *RequestValidator {
    v := validator.New(validator.WithRequiredStructEnabled())
    v.RegisterTagNameFunc(func(f reflect.StructField) string {
        name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
        if name == "-" {
            return ""
        }
        return name
    })
    return &RequestValidator{v: v}
}

// Validate returns a service validation error listing every failed field.
func (rv *RequestValidator) Validate(i interface{}) error {
    err := rv.v.Struct(i)
    if err == nil {
        return nil
    }
    var verrs validator.ValidationErrors
    if !errors.As(err, &verrs) {
        return service.Validation("invalid request")
    }
    msgs := make([]string, 0, len(verrs))
    for _, fe := range verrs {
        msgs = append(msgs, fieldMessage(fe))
    }
    return service.Validation(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
    switch fe.Tag() {
    case "required", "required_without":
        return fe.Field() + " is required"
    case "email":
        return fe.Field() + " must be a valid email address"
    case "max":
        return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
    default:
        return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
    }
}
