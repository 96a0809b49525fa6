// Package props turns raw element property bags into flat, ordered property entries.
package props

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cogentcore.org/core/base/ordmap"
)

// Bag is a raw property bag. Keys keep the order they were decoded in.
// Values are primitives, nil, []any, or *Bag.
type Bag = ordmap.Map[string, any]

// NewBag returns an empty bag.
func NewBag() *Bag {
	return ordmap.New[string, any]()
}

// DecodeJSON decodes a JSON object into a Bag, preserving key order at every depth.
// Integral numbers decode to int64, all other numbers to float64.
func DecodeJSON(data []byte) (*Bag, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode bag: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("decode bag: expected object, got %v", tok)
	}
	bag, err := decodeObject(dec)
	if err != nil {
		return nil, fmt.Errorf("decode bag: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode bag: trailing data after object")
	}
	return bag, nil
}

// decodeObject reads members until the closing brace. The opening brace is already consumed.
func decodeObject(dec *json.Decoder) (*Bag, error) {
	bag := NewBag()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("object key %v is not a string", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		bag.Add(key, val)
	}
	if _, err := dec.Token(); err != nil { // '}'
		return nil, err
	}
	return bag, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	arr := []any{}
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", len(arr), err)
		}
		arr = append(arr, v)
	}
	if _, err := dec.Token(); err != nil { // ']'
		return nil, err
	}
	return arr, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", t, err)
		}
		return f, nil
	default:
		// string, bool, nil
		return t, nil
	}
}
