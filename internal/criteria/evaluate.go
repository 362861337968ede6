package criteria

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Match is the tri-state outcome of evaluating one criterion.
type Match string

const (
	Met           Match = "MET"
	NotMet        Match = "NOT_MET"
	Indeterminate Match = "INDETERMINATE"
)

// DataType is the declared type of an attribute's values. An empty DataType
// means undeclared and disables declared-type checks.
type DataType string

const (
	TypeBoolean DataType = "boolean"
	TypeNumber  DataType = "number"
	TypeString  DataType = "string"
	TypeJSON    DataType = "json"
)

func (d DataType) Valid() bool {
	switch d {
	case "", TypeBoolean, TypeNumber, TypeString, TypeJSON:
		return true
	}
	return false
}

// Value is the latest recorded value of an attribute, decoded from JSON.
type Value struct {
	Data     any
	Present  bool
	Declared DataType
}

// Missing returns a Value for an attribute without recorded history.
func Missing(declared DataType) Value {
	return Value{Declared: declared}
}

// Decode builds a Value from stored raw JSON.
func Decode(declared DataType, raw json.RawMessage) (Value, error) {
	if len(raw) == 0 {
		return Missing(declared), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Value{Declared: declared}, fmt.Errorf("decode telemetry value: %w", err)
	}
	return Value{Data: v, Present: true, Declared: declared}, nil
}

// Result carries the match and, for Indeterminate results caused by bad data,
// a data-quality warning.
type Result struct {
	Match   Match  `json:"match"`
	Warning string `json:"warning,omitempty"`
}

func indeterminate(format string, args ...any) Result {
	return Result{Match: Indeterminate, Warning: fmt.Sprintf(format, args...)}
}

func boolResult(ok bool) Result {
	if ok {
		return Result{Match: Met}
	}
	return Result{Match: NotMet}
}

// compatible lists the declared data types each kind can judge.
var compatible = map[Kind][]DataType{
	KindBooleanFlag: {TypeBoolean},
	KindThreshold:   {TypeNumber, TypeString},
	KindExactMatch:  {TypeBoolean, TypeNumber, TypeString, TypeJSON},
	KindContains:    {TypeBoolean, TypeNumber, TypeString, TypeJSON},
}

// Evaluate judges v against c. It never fails: unrecognized criteria and type
// mismatches yield Indeterminate with a warning.
func Evaluate(c Criterion, v Value) Result {
	if c == nil {
		return indeterminate("no success criterion configured")
	}
	if u, ok := c.(Unknown); ok {
		return indeterminate("unrecognized success criterion type %q", u.Type)
	}
	if v.Declared != "" {
		if !declaredCompatible(c.Kind(), v.Declared) {
			return indeterminate("criterion %s cannot judge %s values", c.Kind(), v.Declared)
		}
	}
	if !v.Present || v.Data == nil {
		return Result{Match: Indeterminate}
	}
	if v.Declared != "" && !conforms(v.Data, v.Declared) {
		return indeterminate("value of type %s does not match declared type %s", jsonType(v.Data), v.Declared)
	}

	switch crit := c.(type) {
	case BooleanFlag:
		b, ok := v.Data.(bool)
		return boolResult(ok && b == crit.ExpectedValue)
	case Threshold:
		n, ok := toNumber(v.Data)
		if !ok {
			return indeterminate("value %v is not numeric", v.Data)
		}
		switch crit.Operator {
		case LessThan:
			return boolResult(n < crit.Threshold)
		case LessThanOrEqual:
			return boolResult(n <= crit.Threshold)
		case GreaterThan:
			return boolResult(n > crit.Threshold)
		case GreaterThanOrEqual:
			return boolResult(n >= crit.Threshold)
		default:
			return indeterminate("threshold operator %q is not supported", crit.Operator)
		}
	case ExactMatch:
		if isStructured(v.Data) || isStructured(crit.ExpectedValue) {
			return boolResult(reflect.DeepEqual(normalize(v.Data), normalize(crit.ExpectedValue)))
		}
		got, _ := stringify(v.Data)
		want, ok := stringify(crit.ExpectedValue)
		if !ok {
			return indeterminate("exact_match expected value is not comparable")
		}
		return boolResult(got == want)
	case Contains:
		got, ok := stringify(v.Data)
		if !ok {
			return indeterminate("value cannot be rendered as text")
		}
		return boolResult(strings.Contains(got, crit.ExpectedValue))
	default:
		return indeterminate("unsupported criterion %T", c)
	}
}

// CheckCompatible reports an error when c can never judge values of the
// declared type d. An undeclared type is always accepted.
func CheckCompatible(c Criterion, d DataType) error {
	if c == nil || d == "" {
		return nil
	}
	if _, ok := c.(Unknown); ok {
		return nil
	}
	if !declaredCompatible(c.Kind(), d) {
		return fmt.Errorf("criterion %s cannot judge %s values", c.Kind(), d)
	}
	return nil
}

func declaredCompatible(k Kind, d DataType) bool {
	for _, t := range compatible[k] {
		if t == d {
			return true
		}
	}
	return false
}

// conforms checks a decoded JSON value against a declared type. Numbers may be
// carried as strings and are coerced later by threshold evaluation.
func conforms(data any, d DataType) bool {
	switch d {
	case TypeBoolean:
		_, ok := data.(bool)
		return ok
	case TypeNumber:
		_, ok := toNumber(data)
		return ok
	case TypeString:
		_, ok := data.(string)
		return ok
	case TypeJSON:
		return true
	}
	return false
}

func jsonType(data any) string {
	switch data.(type) {
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	case string:
		return "string"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", data)
}

func toNumber(data any) (float64, bool) {
	var f float64
	switch x := data.(type) {
	case float64:
		f = x
	case json.Number:
		var err error
		if f, err = x.Float64(); err != nil {
			return 0, false
		}
	case string:
		s := strings.TrimSpace(x)
		// ParseFloat also takes Go literal forms like 1_000 and 0x1p4.
		if s == "" || strings.ContainsAny(s, "_xX") {
			return 0, false
		}
		var err error
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isStructured(data any) bool {
	switch data.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// normalize round-trips through JSON so that values built in Go compare equal
// to values decoded from storage.
func normalize(data any) any {
	b, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return data
	}
	return out
}

func stringify(data any) (string, bool) {
	switch x := data.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return formatNumber(x), true
	case json.Number:
		return x.String(), true
	case nil:
		return "", false
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
