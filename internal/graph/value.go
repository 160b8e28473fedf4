package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Value is a sealed interface representing a node field value.
// Only String, Number, Bool, Null and Link implement it.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents a JSON null field value.
// Gun uses null fields as soft deletes, so they are ordinary values here.
type Null struct{}

func (Null) value() {}

// String represents a string field value.
type String string

func (String) value() {}

// Number represents a numeric field value.
type Number float64

func (Number) value() {}

// Bool represents a boolean field value.
type Bool bool

func (Bool) value() {}

// Link is a reference to another node by soul.
// Wire form: {"#": "<soul>"}.
type Link struct {
	Soul string
}

func (Link) value() {}

// ValuesEqual reports whether a and b are the same value.
func ValuesEqual(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Number:
		bv, ok := b.(Number)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Link:
		bv, ok := b.(Link)
		return ok && av.Soul == bv.Soul
	default:
		return false
	}
}

// MarshalValue marshals a Value to JSON bytes.
// NOTE: This is NOT canonical marshaling. Use MarshalCanonical for hashing.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Number:
		return formatNumber(float64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Link:
		return json.Marshal(map[string]string{"#": val.Soul})
	default:
		return nil, fmt.Errorf("unknown value type: %T", v)
	}
}

// UnmarshalValue decodes one JSON field value.
// Arrays and objects other than links are rejected: gun nodes are flat.
func UnmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		if string(data) != "null" {
			return nil, fmt.Errorf("invalid JSON value: %s", data)
		}
		return Null{}, nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		raw, ok := obj["#"]
		if !ok || len(obj) != 1 {
			return nil, fmt.Errorf("%w: object values must be links", ErrMalformed)
		}
		var soul string
		if err := json.Unmarshal(raw, &soul); err != nil || soul == "" {
			return nil, fmt.Errorf("%w: link soul must be a non-empty string", ErrMalformed)
		}
		return Link{Soul: soul}, nil

	case '[':
		return nil, fmt.Errorf("%w: arrays are not valid node values", ErrMalformed)

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %s: %w", n, err)
		}
		return Number(f), nil
	}
}

// formatNumber renders integral values without a fraction so that 1 and
// 1.0 serialize identically.
func formatNumber(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number: %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return []byte(strconv.FormatFloat(f, 'f', -1, 64)), nil
	}
	return []byte(strconv.FormatFloat(f, 'g', -1, 64)), nil
}
