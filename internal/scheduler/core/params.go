package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	IntegerDefaultStep int64   = 1
	RealDefaultStep    float64 = 0.001

	// MaxRangeValues caps how many candidates a single range may expand to.
	MaxRangeValues = 1_000_000

	// Real range values are rounded to this many significant digits.
	realPrecision = 12
)

var (
	errUnsupportedType  = errors.New("unsupported type")
	errNotNumeric       = errors.New("not a number")
	errRangeTooLarge    = fmt.Errorf("range expands to more than %d values", MaxRangeValues)
	errNonFiniteNumeric = errors.New("not a finite number")
)

// Resolver turns declared parameter values into typed scalars.
type Resolver interface {
	Convert(value any, valueType ValueType) (any, error)
	ExpandRange(start, stop, step any, valueType ValueType) ([]any, error)
}

type defaultResolver struct{}

// DefaultResolver converts integers to int64 and reals to float64, and
// passes text through untouched.
var DefaultResolver Resolver = defaultResolver{}

func (defaultResolver) Convert(value any, valueType ValueType) (any, error) {
	return Convert(value, valueType)
}

func (defaultResolver) ExpandRange(start, stop, step any, valueType ValueType) ([]any, error) {
	return ExpandRange(start, stop, step, valueType)
}

func Convert(value any, valueType ValueType) (any, error) {
	switch valueType {
	case ValueTypeInteger:
		return toInt(value)
	case ValueTypeReal:
		return toFloat(value)
	case ValueTypeText:
		return value, nil
	default:
		return nil, &ParameterError{Type: valueType, Value: value, Err: errUnsupportedType}
	}
}

// ExpandRange returns start, start+step, ... up to but excluding stop. A nil
// or zero step means the default step of the type.
func ExpandRange(start, stop, step any, valueType ValueType) ([]any, error) {
	switch valueType {
	case ValueTypeInteger:
		return expandIntRange(start, stop, step)
	case ValueTypeReal:
		return expandRealRange(start, stop, step)
	default:
		return nil, &ParameterError{Type: valueType, Value: start, Err: errUnsupportedType}
	}
}

func expandIntRange(start, stop, step any) ([]any, error) {
	from, err := toInt(start)
	if err != nil {
		return nil, err
	}
	to, err := toInt(stop)
	if err != nil {
		return nil, err
	}
	by := IntegerDefaultStep
	if step != nil {
		if by, err = toInt(step); err != nil {
			return nil, err
		}
		if by == 0 {
			by = IntegerDefaultStep
		}
	}

	// span and stride are unsigned so that bounds near the int64 limits
	// cannot overflow the count
	var span, stride uint64
	switch {
	case by > 0 && from < to:
		span, stride = uint64(to)-uint64(from), uint64(by)
	case by < 0 && from > to:
		span, stride = uint64(from)-uint64(to), uint64(-(by+1))+1
	}
	var n uint64
	if span > 0 {
		n = (span-1)/stride + 1
	}
	if n > MaxRangeValues {
		return nil, &ParameterError{Type: ValueTypeInteger, Value: start, Err: errRangeTooLarge}
	}

	values := make([]any, 0, n)
	for i := int64(0); i < int64(n); i++ {
		values = append(values, from+i*by)
	}
	return values, nil
}

func expandRealRange(start, stop, step any) ([]any, error) {
	from, err := toFloat(start)
	if err != nil {
		return nil, err
	}
	to, err := toFloat(stop)
	if err != nil {
		return nil, err
	}
	by := RealDefaultStep
	if step != nil {
		if by, err = toFloat(step); err != nil {
			return nil, err
		}
		if by == 0 {
			by = RealDefaultStep
		}
	}

	if (to-from)/by > MaxRangeValues {
		return nil, &ParameterError{Type: ValueTypeReal, Value: start, Err: errRangeTooLarge}
	}

	// Values are computed from the index, not accumulated, and compared to
	// stop after rounding so that e.g. 0.1 + 900*0.001 never slips in as 1.0.
	var values []any
	for i := 0; ; i++ {
		v := roundReal(from + float64(i)*by)
		if (by > 0 && v >= to) || (by < 0 && v <= to) {
			break
		}
		values = append(values, v)
	}
	return values, nil
}

func roundReal(v float64) float64 {
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', realPrecision, 64), 64)
	if err != nil {
		return v
	}
	return rounded
}

func toInt(value any) (int64, error) {
	fail := func(err error) (int64, error) {
		return 0, &ParameterError{Type: ValueTypeInteger, Value: value, Err: err}
	}

	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint32:
		return int64(v), nil
	case float32:
		return truncate(float64(v), fail)
	case float64:
		return truncate(v, fail)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return fail(errNotNumeric)
		}
		return truncate(f, fail)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fail(errNotNumeric)
		}
		return n, nil
	default:
		return fail(errNotNumeric)
	}
}

func truncate(f float64, fail func(error) (int64, error)) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return fail(errNonFiniteNumeric)
	}
	return int64(f), nil
}

func toFloat(value any) (float64, error) {
	fail := func(err error) (float64, error) {
		return 0, &ParameterError{Type: ValueTypeReal, Value: value, Err: err}
	}

	var f float64
	switch v := value.(type) {
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return fail(errNotNumeric)
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fail(errNotNumeric)
		}
		f = parsed
	default:
		return fail(errNotNumeric)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fail(errNonFiniteNumeric)
	}
	return f, nil
}
