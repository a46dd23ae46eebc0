package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder_Codec(t *testing.T) {
	t.Parallel()

	data, err := EncodeOrder(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	data, err = EncodeOrder([]string{"b", "a"})
	require.NoError(t, err)
	got, err := DecodeOrder(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, got)

	for _, bad := range []string{`{"a": 1}`, `[1, 2]`, `"a"`, `[`} {
		_, err := DecodeOrder([]byte(bad))
		var se *SchemaError
		assert.ErrorAs(t, err, &se, bad)
	}
}

func TestHealOrder(t *testing.T) {
	t.Parallel()

	present := func(names ...string) map[string]bool {
		m := map[string]bool{}
		for _, n := range names {
			m[n] = true
		}
		return m
	}

	tests := []struct {
		name        string
		listed      []string
		present     map[string]bool
		want        []string
		wantChanged bool
	}{
		{"already consistent", []string{"b", "a"}, present("a", "b"), []string{"b", "a"}, false},
		{"empty", nil, present(), []string{}, false},
		{"stale entry dropped", []string{"gone", "a"}, present("a"), []string{"a"}, true},
		{"duplicate dropped", []string{"a", "a"}, present("a"), []string{"a"}, true},
		{"missing appended sorted", []string{"c"}, present("c", "b", "a"), []string{"c", "a", "b"}, true},
		{"no order file", nil, present("y", "x"), []string{"x", "y"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := healOrder(tt.listed, tt.present)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}
