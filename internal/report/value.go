package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Value is a property value. The tool encodes some properties as booleans
// and others as counts; Value is exactly one of Bool or Integer.
type Value interface {
	isValue()
}

type Bool bool

type Integer int64

func (Bool) isValue()    {}
func (Integer) isValue() {}

var errNoValue = errors.New("value is missing")

// DecodeValue chooses the Value case by the kind of the JSON literal, never
// by the property name: true/false is Bool, an integer literal is Integer.
// Anything else is an error.
func DecodeValue(raw []byte) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errNoValue
	}
	switch c := raw[0]; {
	case c == 't' || c == 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("boolean value: %w", err)
		}
		return Bool(b), nil
	case c == '-' || (c >= '0' && c <= '9'):
		i, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("integer value %s: %w", raw, err)
		}
		return Integer(i), nil
	default:
		return nil, fmt.Errorf("unsupported value literal %s", raw)
	}
}

// EncodeValue is the inverse of DecodeValue
func EncodeValue(v Value) ([]byte, error) {
	switch x := v.(type) {
	case Bool:
		return []byte(strconv.FormatBool(bool(x))), nil
	case Integer:
		return []byte(strconv.FormatInt(int64(x), 10)), nil
	case nil:
		return nil, errNoValue
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

type wireProperty struct {
	Description string          `json:"description"`
	DisplayName string          `json:"display_name"`
	Name        string          `json:"name"`
	Value       json.RawMessage `json:"value"`
}

func (p *Property) UnmarshalJSON(b []byte) error {
	var w wireProperty
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	v, err := DecodeValue(w.Value)
	if err != nil {
		return fmt.Errorf("property %q: %w", w.Name, err)
	}
	*p = Property{
		Name:        w.Name,
		DisplayName: w.DisplayName,
		Description: w.Description,
		Value:       v,
	}
	return nil
}

func (p Property) MarshalJSON() ([]byte, error) {
	raw, err := EncodeValue(p.Value)
	if err != nil {
		return nil, fmt.Errorf("property %q: %w", p.Name, err)
	}
	return json.Marshal(wireProperty{
		Description: p.Description,
		DisplayName: p.DisplayName,
		Name:        p.Name,
		Value:       raw,
	})
}
