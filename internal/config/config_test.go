package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndGetters(t *testing.T) {
	bag, err := Parse(strings.NewReader(`{
		"debug": true,
		"max_iterations": 12,
		"name": "release",
		"stores": ["main", "feature"]
	}`))
	require.NoError(t, err)

	assert.True(t, bag.GetBool("debug", false))
	assert.Equal(t, 12, bag.GetInt("max_iterations", 0))
	assert.Equal(t, "release", bag.GetString("name", ""))
	assert.Equal(t, []string{"main", "feature"}, bag.GetStringList("stores"))
}

func TestDefaultsOnMissingOrWrongType(t *testing.T) {
	bag, err := Parse(strings.NewReader(`{"n": "not a number"}`))
	require.NoError(t, err)

	assert.Equal(t, 3, bag.GetInt("n", 3))
	assert.Equal(t, 5, bag.GetInt("missing", 5))
	assert.False(t, bag.GetBool("missing", false))
	assert.Nil(t, bag.GetStringList("missing"))
}

func TestSubBag(t *testing.T) {
	bag, err := Parse(strings.NewReader(`{"PassA": {"enabled": false}}`))
	require.NoError(t, err)

	assert.False(t, bag.Sub("PassA").GetBool("enabled", true))
	assert.True(t, bag.Sub("PassB").GetBool("enabled", true))
}

func TestNilBagIsSafe(t *testing.T) {
	var bag *Bag
	assert.Equal(t, "x", bag.GetString("k", "x"))
	assert.True(t, bag.Sub("k").GetBool("b", true))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse(strings.NewReader("not json"))
	assert.Error(t, err)
}
