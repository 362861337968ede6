// Package criteria models declarative success criteria for telemetry attributes
// and evaluates recorded values against them.
//
// A Criterion is a closed sum type: BooleanFlag, Threshold, ExactMatch and
// Contains are the recognized kinds. Data that carries any other type
// discriminator decodes to Unknown so it can be stored and reported, but it
// never evaluates to Met.
package criteria

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the wire discriminator of a criterion.
type Kind string

const (
	KindBooleanFlag Kind = "boolean_flag"
	KindThreshold   Kind = "threshold"
	KindExactMatch  Kind = "exact_match"
	KindContains    Kind = "contains"
)

// Operator is a threshold comparison.
type Operator string

const (
	LessThan           Operator = "lessThan"
	LessThanOrEqual    Operator = "lessThanOrEqual"
	GreaterThan        Operator = "greaterThan"
	GreaterThanOrEqual Operator = "greaterThanOrEqual"
)

func (o Operator) valid() bool {
	switch o {
	case LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual:
		return true
	}
	return false
}

// Criterion is implemented only by the types in this package.
type Criterion interface {
	Kind() Kind
	isCriterion()
}

type BooleanFlag struct {
	ExpectedValue bool
}

type Threshold struct {
	Operator  Operator
	Threshold float64
}

// ExactMatch holds a decoded JSON value: string, float64, bool, nil,
// map[string]any or []any.
type ExactMatch struct {
	ExpectedValue any
}

type Contains struct {
	ExpectedValue string
}

// Unknown preserves a criterion whose type is not recognized, or whose
// payload could not be decoded.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (BooleanFlag) Kind() Kind { return KindBooleanFlag }
func (Threshold) Kind() Kind   { return KindThreshold }
func (ExactMatch) Kind() Kind  { return KindExactMatch }
func (Contains) Kind() Kind    { return KindContains }
func (u Unknown) Kind() Kind   { return Kind(u.Type) }

func (BooleanFlag) isCriterion() {}
func (Threshold) isCriterion()   {}
func (ExactMatch) isCriterion()  {}
func (Contains) isCriterion()    {}
func (Unknown) isCriterion()     {}

type wireCriterion struct {
	Type          string          `json:"type"`
	ExpectedValue json.RawMessage `json:"expectedValue,omitempty"`
	Operator      *string         `json:"operator,omitempty"`
	Threshold     *float64        `json:"threshold,omitempty"`
}

// ErrMalformed is returned by Parse for payloads that are not a JSON object
// with a type discriminator.
var ErrMalformed = errors.New("malformed success criterion")

// Parse decodes the wire form. Unrecognized types and recognized types with
// unusable fields decode to Unknown rather than failing; only input that is not
// a criterion object at all returns an error.
func Parse(data []byte) (Criterion, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	var w wireCriterion
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrMalformed)
	}
	unknown := Unknown{Type: w.Type, Raw: append(json.RawMessage(nil), trimmed...)}
	switch Kind(w.Type) {
	case KindBooleanFlag:
		var v bool
		if len(w.ExpectedValue) == 0 || json.Unmarshal(w.ExpectedValue, &v) != nil {
			return unknown, nil
		}
		return BooleanFlag{ExpectedValue: v}, nil
	case KindThreshold:
		if w.Operator == nil || w.Threshold == nil {
			return unknown, nil
		}
		return Threshold{Operator: Operator(*w.Operator), Threshold: *w.Threshold}, nil
	case KindExactMatch:
		if len(w.ExpectedValue) == 0 {
			return unknown, nil
		}
		var v any
		if err := json.Unmarshal(w.ExpectedValue, &v); err != nil {
			return unknown, nil
		}
		return ExactMatch{ExpectedValue: v}, nil
	case KindContains:
		var v any
		if len(w.ExpectedValue) == 0 || json.Unmarshal(w.ExpectedValue, &v) != nil {
			return unknown, nil
		}
		s, ok := stringify(v)
		if !ok {
			return unknown, nil
		}
		return Contains{ExpectedValue: s}, nil
	default:
		return unknown, nil
	}
}

// Marshal encodes c in its wire form.
func Marshal(c Criterion) ([]byte, error) {
	switch v := c.(type) {
	case BooleanFlag:
		return json.Marshal(struct {
			Type          Kind `json:"type"`
			ExpectedValue bool `json:"expectedValue"`
		}{KindBooleanFlag, v.ExpectedValue})
	case Threshold:
		return json.Marshal(struct {
			Type      Kind     `json:"type"`
			Operator  Operator `json:"operator"`
			Threshold float64  `json:"threshold"`
		}{KindThreshold, v.Operator, v.Threshold})
	case ExactMatch:
		return json.Marshal(struct {
			Type          Kind `json:"type"`
			ExpectedValue any  `json:"expectedValue"`
		}{KindExactMatch, v.ExpectedValue})
	case Contains:
		return json.Marshal(struct {
			Type          Kind   `json:"type"`
			ExpectedValue string `json:"expectedValue"`
		}{KindContains, v.ExpectedValue})
	case Unknown:
		if len(v.Raw) > 0 {
			return v.Raw, nil
		}
		return json.Marshal(struct {
			Type string `json:"type"`
		}{v.Type})
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unsupported criterion %T", c)
	}
}

// Validate reports whether c can be evaluated at all. Template authoring uses
// it to reject criteria that would always be Indeterminate.
func Validate(c Criterion) error {
	switch v := c.(type) {
	case BooleanFlag, Contains:
		return nil
	case ExactMatch:
		if v.ExpectedValue == nil {
			return errors.New("exact_match requires expectedValue")
		}
		return nil
	case Threshold:
		if !v.Operator.valid() {
			return fmt.Errorf("threshold operator %q is not supported", v.Operator)
		}
		return nil
	case Unknown:
		return fmt.Errorf("unrecognized success criterion type %q", v.Type)
	case nil:
		return errors.New("success criterion is required")
	default:
		return fmt.Errorf("unsupported criterion %T", c)
	}
}

// Describe renders a short human readable form, e.g. "< 30".
func Describe(c Criterion) string {
	switch v := c.(type) {
	case BooleanFlag:
		return fmt.Sprintf("== %t", v.ExpectedValue)
	case Threshold:
		sym := map[Operator]string{
			LessThan:           "<",
			LessThanOrEqual:    "<=",
			GreaterThan:        ">",
			GreaterThanOrEqual: ">=",
		}[v.Operator]
		if sym == "" {
			sym = string(v.Operator)
		}
		return fmt.Sprintf("%s %s", sym, formatNumber(v.Threshold))
	case ExactMatch:
		s, _ := stringify(v.ExpectedValue)
		return fmt.Sprintf("= %s", s)
	case Contains:
		return fmt.Sprintf("contains %q", v.ExpectedValue)
	case Unknown:
		return "unknown:" + strings.TrimSpace(v.Type)
	default:
		return "none"
	}
}

// Spec wraps a Criterion for embedding in JSON and YAML documents.
type Spec struct {
	Criterion
}

func (s Spec) MarshalJSON() ([]byte, error) {
	return Marshal(s.Criterion)
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		s.Criterion = nil
		return nil
	}
	c, err := Parse(data)
	if err != nil {
		return err
	}
	s.Criterion = c
	return nil
}

// UnmarshalYAML decodes a YAML mapping using the JSON wire field names.
func (s *Spec) UnmarshalYAML(unmarshal func(any) error) error {
	var m map[string]any
	if err := unmarshal(&m); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.UnmarshalJSON(data)
}
