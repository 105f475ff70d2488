package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONMapRoundTrip(t *testing.T) {
	m := JSONMap{"tier": "pro", "seats": float64(5)}

	v, err := m.Value()
	require.NoError(t, err)

	var out JSONMap
	require.NoError(t, out.Scan(v))
	assert.Equal(t, m, out)
}

func TestJSONMapNil(t *testing.T) {
	var m JSONMap
	v, err := m.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	out := JSONMap{"stale": true}
	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)
}

func TestJSONMapScanString(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan(`{"k":"v"}`))
	assert.Equal(t, "v", m["k"])
}

func TestJSONMapScanUnsupported(t *testing.T) {
	var m JSONMap
	assert.Error(t, m.Scan(42))
}
