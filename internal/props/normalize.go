package props

import (
	"fmt"
	"slices"
)

// Source types reported on entries.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeNull    = "null"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Entry is one flattened property.
type Entry struct {
	Name       string // dot-joined path from the bag root
	Value      any
	SourceType string
}

// Normalize flattens raw into entries, depth-first in key order.
//
// A map holding a "value" key is a wrapped leaf and yields one entry typed by
// its "type" key when that is a string. Other maps are walked with the key
// appended to the path. Arrays and nil yield one entry each and are not
// descended into. Empty maps yield nothing.
func Normalize(raw *Bag) []Entry {
	if raw == nil {
		return nil
	}
	var out []Entry
	walk(raw, "", &out)
	return out
}

func walk(bag *Bag, prefix string, out *[]Entry) {
	for _, kv := range bag.Order {
		name := kv.Key
		if prefix != "" {
			name = prefix + "." + kv.Key
		}
		switch v := kv.Value.(type) {
		case *Bag:
			if val, ok := v.ValueByKeyTry("value"); ok {
				*out = append(*out, wrapped(name, v, val))
				continue
			}
			walk(v, name, out)
		case map[string]any:
			// Unordered maps come from callers building bags by hand.
			if val, ok := v["value"]; ok {
				st := Infer(val)
				if declared, ok := v["type"].(string); ok {
					st = declared
				}
				*out = append(*out, Entry{Name: name, Value: leafValue(val), SourceType: st})
				continue
			}
			walk(fromMap(v), name, out)
		default:
			*out = append(*out, leaf(name, v))
		}
	}
}

func wrapped(name string, bag *Bag, val any) Entry {
	st := Infer(val)
	if t, ok := bag.ValueByKeyTry("type"); ok {
		if declared, ok := t.(string); ok {
			st = declared
		}
	}
	return Entry{Name: name, Value: leafValue(val), SourceType: st}
}

func leaf(name string, v any) Entry {
	st := Infer(v)
	if st == TypeObject {
		// Not a shape the bag decoder produces; keep it readable.
		return Entry{Name: name, Value: fmt.Sprint(v), SourceType: TypeString}
	}
	return Entry{Name: name, Value: leafValue(v), SourceType: st}
}

// leafValue degrades values that are not primitives or arrays to their string form.
func leafValue(v any) any {
	if _, ok := v.(*Bag); ok {
		return fmt.Sprint(v)
	}
	if _, ok := v.(map[string]any); ok {
		return fmt.Sprint(v)
	}
	return v
}

// Infer returns the source type name of a decoded value.
func Infer(v any) string {
	switch v.(type) {
	case nil:
		return TypeNull
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return TypeNumber
	case []any:
		return TypeArray
	default:
		return TypeObject
	}
}

// fromMap converts a plain map into a bag with sorted keys so output stays deterministic.
func fromMap(m map[string]any) *Bag {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	b := NewBag()
	for _, k := range keys {
		b.Add(k, m[k])
	}
	return b
}

// String renders an entry value for display.
func (e Entry) String() string {
	return fmt.Sprintf("%s=%v (%s)", e.Name, e.Value, e.SourceType)
}
