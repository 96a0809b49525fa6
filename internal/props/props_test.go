package props

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONPreservesOrder(t *testing.T) {
	bag, err := DecodeJSON([]byte(`{"zeta":1,"alpha":{"y":true,"b":null},"mid":"x"}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, bag.Keys())
	inner, ok := bag.ValueByKey("alpha").(*Bag)
	require.True(t, ok)
	assert.Equal(t, []string{"y", "b"}, inner.Keys())
}

func TestDecodeJSONNumbers(t *testing.T) {
	bag, err := DecodeJSON([]byte(`{"i":42,"f":2.5,"big":1e3,"neg":-7}`))
	require.NoError(t, err)

	assert.Equal(t, int64(42), bag.ValueByKey("i"))
	assert.Equal(t, 2.5, bag.ValueByKey("f"))
	assert.Equal(t, float64(1000), bag.ValueByKey("big"))
	assert.Equal(t, int64(-7), bag.ValueByKey("neg"))
}

func TestDecodeJSONErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"array root", `[1,2]`},
		{"scalar root", `"x"`},
		{"truncated", `{"a":`},
		{"trailing", `{"a":1} {"b":2}`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestNormalizeWrappedAndArray(t *testing.T) {
	bag, err := DecodeJSON([]byte(`{"a":{"b":{"value":5,"type":"number"}},"c":[1,2]}`))
	require.NoError(t, err)

	got := Normalize(bag)
	want := []Entry{
		{Name: "a.b", Value: int64(5), SourceType: "number"},
		{Name: "c", Value: []any{int64(1), int64(2)}, SourceType: "array"},
	}
	assert.Equal(t, want, got)
}

func TestNormalizeLeafTypes(t *testing.T) {
	bag, err := DecodeJSON([]byte(`{
		"Name": "Wall-01",
		"Height": 3.2,
		"LoadBearing": true,
		"Tag": null,
		"Pset_WallCommon": {
			"FireRating": {"value": "REI60"},
			"IsExternal": {"value": "true", "type": "IfcBoolean"},
			"Acoustic": {"value": 42, "type": 7}
		},
		"Empty": {}
	}`))
	require.NoError(t, err)

	got := Normalize(bag)
	want := []Entry{
		{Name: "Name", Value: "Wall-01", SourceType: "string"},
		{Name: "Height", Value: 3.2, SourceType: "number"},
		{Name: "LoadBearing", Value: true, SourceType: "boolean"},
		{Name: "Tag", Value: nil, SourceType: "null"},
		{Name: "Pset_WallCommon.FireRating", Value: "REI60", SourceType: "string"},
		{Name: "Pset_WallCommon.IsExternal", Value: "true", SourceType: "IfcBoolean"},
		{Name: "Pset_WallCommon.Acoustic", Value: int64(42), SourceType: "number"},
	}
	assert.Equal(t, want, got)
}

func TestNormalizeDeterministic(t *testing.T) {
	raw := []byte(`{"q":{"r":{"s":1,"t":[{"u":2}]}},"b":{"value":{"nested":true}},"a":"x"}`)

	first, err := DecodeJSON(raw)
	require.NoError(t, err)
	second, err := DecodeJSON(raw)
	require.NoError(t, err)

	assert.Equal(t, Normalize(first), Normalize(second))
	names := []string{}
	for _, e := range Normalize(first) {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"q.r.s", "q.r.t", "b", "a"}, names)
}

func TestNormalizeEveryLeafOnce(t *testing.T) {
	// Build a bag of depth 6 with two leaves per level.
	root := NewBag()
	cur := root
	var wantNames []string
	prefix := ""
	for depth := 0; depth < 6; depth++ {
		l1, l2 := "l1", "l2"
		cur.Add(l1, int64(depth))
		cur.Add(l2, "v")
		wantNames = append(wantNames, join(prefix, l1), join(prefix, l2))
		next := NewBag()
		cur.Add("n", next)
		prefix = join(prefix, "n")
		cur = next
	}

	var names []string
	for _, e := range Normalize(root) {
		names = append(names, e.Name)
	}
	assert.Equal(t, wantNames, names)
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func TestNormalizeDegradesUnknownValues(t *testing.T) {
	bag := NewBag()
	when := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	bag.Add("when", when)
	bag.Add("plain", map[string]any{"b": 1, "a": map[string]any{"value": 2}})

	got := Normalize(bag)
	require.Len(t, got, 3)
	assert.Equal(t, Entry{Name: "when", Value: when.String(), SourceType: "string"}, got[0])
	assert.Equal(t, Entry{Name: "plain.a", Value: 2, SourceType: "number"}, got[1])
	assert.Equal(t, Entry{Name: "plain.b", Value: 1, SourceType: "number"}, got[2])
}

func TestNormalizeNil(t *testing.T) {
	assert.Nil(t, Normalize(nil))
	assert.Empty(t, Normalize(NewBag()))
}

func TestInfer(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"s", TypeString},
		{int64(1), TypeNumber},
		{1.5, TypeNumber},
		{false, TypeBoolean},
		{nil, TypeNull},
		{[]any{1}, TypeArray},
		{NewBag(), TypeObject},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Infer(tt.in), "Infer(%#v)", tt.in)
	}
}
