package maputils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrVal(t *testing.T) {
	m := map[string]any{"url": "http://localhost", "port": int64(80)}

	val, err := StrVal(m, "url")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost", val)

	val, err = StrVal(m, "missing")
	require.NoError(t, err)
	assert.Empty(t, val)

	_, err = StrVal(m, "port")
	assert.Error(t, err)
}

func TestDurationVal(t *testing.T) {
	m := map[string]any{"delay": "1m30s", "invalid": "soon", "negative": "-1s"}

	d, err := DurationVal(m, "delay", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = DurationVal(m, "missing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	_, err = DurationVal(m, "invalid", time.Second)
	assert.Error(t, err)

	_, err = DurationVal(m, "negative", time.Second)
	assert.Error(t, err)
}

func TestMapValAndToStrMap(t *testing.T) {
	m := map[string]any{
		"headers": map[string]any{"Content-Type": "application/json"},
		"invalid": map[string]any{"X-Count": int64(1)},
	}

	headers, err := MapVal(m, "headers")
	require.NoError(t, err)

	strMap, err := ToStrMap(headers)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Content-Type": "application/json"}, strMap)

	empty, err := MapVal(m, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)

	invalid, err := MapVal(m, "invalid")
	require.NoError(t, err)
	_, err = ToStrMap(invalid)
	assert.Error(t, err)
}
