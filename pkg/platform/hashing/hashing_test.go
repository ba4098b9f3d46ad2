package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONIsKeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": []string{"x"}}
	b := map[string]any{"a": []string{"x"}, "b": 1}

	ha, err := JSON(a)
	require.NoError(t, err)
	hb, err := JSON(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestJSONRejectsUnencodable(t *testing.T) {
	_, err := JSON(map[string]any{"f": func() {}})
	assert.Error(t, err)
}

func TestStringsSeparatesParts(t *testing.T) {
	assert.NotEqual(t, Strings("ab", "c"), Strings("a", "bc"))
	assert.Equal(t, Strings("a", "b"), Strings("a", "b"))
}
