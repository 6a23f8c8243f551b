package ingest

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Metadata is the form data sent alongside an image. Coordinates are
// pointers so that an explicit 0 is distinguishable from a missing value.
type Metadata struct {
	Latitude    *float64 `form:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude   *float64 `form:"longitude" validate:"required,gte=-180,lte=180"`
	GrowthStage string   `form:"growth_stage" validate:"required,oneof=sowing vegetative flowering maturity harvest"`
}

// ValidationError lists every rejected field. Nothing has been stored when it
// is returned.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string { return e.Message }

func newValidationError(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			if name := strings.Split(f.Tag.Get("form"), ",")[0]; name != "" && name != "-" {
				return name
			}
			return f.Name
		})
	})
	return validate
}

var fieldMessages = map[string]string{
	"required": "%s is required",
	"oneof":    "%s must be one of: %s",
	"gte":      "%s must be greater than or equal to %s",
	"lte":      "%s must be less than or equal to %s",
}

func validateMetadata(md Metadata) error {
	err := getValidator().Struct(md)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Message: err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		tmpl, ok := fieldMessages[fe.Tag()]
		var msg string
		switch {
		case !ok:
			msg = fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
		case fe.Param() == "":
			msg = fmt.Sprintf(tmpl, fe.Field())
		default:
			msg = fmt.Sprintf(tmpl, fe.Field(), fe.Param())
		}
		fields[fe.Field()] = msg
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return &ValidationError{Message: strings.Join(msgs, "; "), Fields: fields}
}
