package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// MaxJobNameLength leaves room for the longest role suffix within the 255
// byte AMQP queue name limit.
const MaxJobNameLength = 200

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func jobValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("queuename", func(fl validator.FieldLevel) bool {
			return ValidJobName(fl.Field().String())
		})
		_ = v.RegisterValidation("valuetype", func(fl validator.FieldLevel) bool {
			return ValueType(fl.Field().String()).Valid()
		})
		v.RegisterStructValidation(validateJobSpec, JobSpec{})
		v.RegisterStructValidation(validateLearnParameter, LearnParameterSpec{})
		validate = v
	})
	return validate
}

// ValidJobName reports whether name can be embedded in a queue name.
func ValidJobName(name string) bool {
	if name == "" || len(name) > MaxJobNameLength || strings.Contains(name, "@") {
		return false
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func validateJobSpec(sl validator.StructLevel) {
	spec := sl.Current().Interface().(JobSpec)
	if len(spec.IncludeAttributes) > 0 && len(spec.ExcludeAttributes) > 0 {
		sl.ReportError(spec.ExcludeAttributes, "ExcludeAttributes", "exclude_attributes", "excluded_with_include", "")
	}
}

func validateLearnParameter(sl validator.StructLevel) {
	p := sl.Current().Interface().(LearnParameterSpec)
	switch {
	case p.Values != nil && p.Range != nil:
		sl.ReportError(p.Range, "Range", "range", "values_or_range", "")
	case p.Values == nil && p.Range == nil:
		sl.ReportError(p.Values, "Values", "values", "values_or_range", "")
	case p.Values != nil && len(p.Values) == 0:
		sl.ReportError(p.Values, "Values", "values", "min", "1")
	case p.Range != nil && p.Type != ValueTypeInteger && p.Type != ValueTypeReal:
		sl.ReportError(p.Type, "Type", "type", "numeric_range", "")
	case p.Range != nil && (p.Range.Start == nil || p.Range.Stop == nil):
		sl.ReportError(p.Range, "Range", "range", "range_bounds", "")
	}
}

// ValidateJobSpec checks the structural invariants of a job before any task
// is generated. The returned error wraps ErrInvalidJob.
func ValidateJobSpec(spec *JobSpec) error {
	if spec == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	err := jobValidator().Struct(spec)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidJob, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "queuename":
		return fmt.Sprintf("%s: must be non-empty, at most %d bytes, without whitespace or '@'", field, MaxJobNameLength)
	case "valuetype":
		return fmt.Sprintf("%s: must be one of integer, real, text", field)
	case "required":
		return fmt.Sprintf("%s: is required", field)
	case "gte", "lte":
		return fmt.Sprintf("%s: must be %s %s", field, fe.Tag(), fe.Param())
	case "excluded_with_include":
		return fmt.Sprintf("%s: cannot be combined with include_attributes", field)
	case "values_or_range":
		return fmt.Sprintf("%s: exactly one of values and range must be set", field)
	case "numeric_range":
		return fmt.Sprintf("%s: ranges are only supported for integer and real", field)
	case "range_bounds":
		return fmt.Sprintf("%s: start and stop are required", field)
	case "min":
		return fmt.Sprintf("%s: must not be empty", field)
	default:
		return fmt.Sprintf("%s: failed %s", field, fe.Tag())
	}
}
