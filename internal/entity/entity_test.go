package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDimensionsNormalizes(t *testing.T) {
	d := NewDimensions(map[Dimension][]string{
		DimensionActivity: {"tennis", "padel", "tennis", " "},
	})

	assert.Equal(t, []string{"padel", "tennis"}, d.Activities)
	assert.NotNil(t, d.Roles)
	assert.Empty(t, d.Roles)

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"canonical_activities":["padel","tennis"],"canonical_roles":[],"canonical_place_types":[],"canonical_access":[]}`, string(b))
}

func TestUnionDimensions(t *testing.T) {
	a := NewDimensions(map[Dimension][]string{DimensionActivity: {"x"}, DimensionAccess: {"public"}})
	b := NewDimensions(map[Dimension][]string{DimensionActivity: {"y", "x"}})

	u := Union(a, b)
	assert.Equal(t, []string{"x", "y"}, u.Activities)
	assert.Equal(t, []string{"public"}, u.Access)
	assert.True(t, u.Contains(DimensionActivity, "y"))
	assert.False(t, u.Contains(DimensionRole, "y"))
}

func TestParseDimension(t *testing.T) {
	d, err := ParseDimension("place_type")
	require.NoError(t, err)
	assert.Equal(t, DimensionPlaceType, d)

	_, err = ParseDimension("colour")
	assert.Error(t, err)
}

func TestSetAndGetPath(t *testing.T) {
	doc := map[string]any{}
	require.NoError(t, SetPath(doc, "padel_courts.total", int64(4)))

	v, ok := GetPath(doc, "padel_courts.total")
	require.True(t, ok)
	assert.Equal(t, int64(4), v)

	_, ok = GetPath(doc, "padel_courts.indoor")
	assert.False(t, ok)

	err := SetPath(doc, "padel_courts.total.indoor", 1)
	assert.Error(t, err, "cannot descend into a scalar")
}

func TestCloneValueIsDeep(t *testing.T) {
	block := ModuleBlock{"m": {"list": []any{"a"}, "obj": map[string]any{"k": 1}}}
	clone := block.Clone()

	clone["m"]["list"].([]any)[0] = "changed"
	clone["m"]["obj"].(map[string]any)["k"] = 2

	assert.Equal(t, "a", block["m"]["list"].([]any)[0])
	assert.Equal(t, 1, block["m"]["obj"].(map[string]any)["k"])
}

func TestExtractedValues(t *testing.T) {
	e := ExtractedEntity{
		Name:         "Club",
		Categories:   []string{"Padel", ""},
		Address:      Address{Street: "1 Road", City: "Leith"},
		Observations: map[string]string{"opening_hours": "9-5"},
	}

	assert.Equal(t, []string{"Club"}, e.Values(FieldName))
	assert.Equal(t, []string{"Padel"}, e.Values(FieldCategories))
	assert.Equal(t, []string{"1 Road, Leith"}, e.Values(FieldAddress))
	assert.Equal(t, []string{"9-5"}, e.Values("opening_hours"))
	assert.Nil(t, e.Values(FieldDescription))
	assert.Equal(t, "Leith", e.Locality())
}

func TestExtractedEntityOmitsRaw(t *testing.T) {
	e := ExtractedEntity{ID: "e1", Raw: json.RawMessage(`{"secret":true}`)}
	b, err := json.Marshal(e)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
}

func TestMergedHashIsStable(t *testing.T) {
	m := MergedEntity{
		Class:      ClassPlace,
		Name:       "Club",
		Dimensions: NewDimensions(nil),
		Modules:    ModuleBlock{"m": {"b": 1, "a": 2}},
	}
	h1, err := m.Hash()
	require.NoError(t, err)
	h2, err := m.Clone().Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
