package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type formatOptions struct {
	PatchCompression string            `json:"patch_compression" yaml:"patch_compression"`
	PKKeyWidth       int               `json:"pk_key_width" yaml:"pk_key_width"`
	Columns          map[string]string `json:"columns" yaml:"columns"`
}

func TestByName(t *testing.T) {
	in := formatOptions{
		PatchCompression: "zstd",
		PKKeyWidth:       128,
		Columns:          map[string]string{"attr_1": "fixed"},
	}

	for _, name := range []string{"json", "go-json", "yaml"} {
		t.Run(name, func(t *testing.T) {
			c, ok := ByName(name)
			require.True(t, ok)
			assert.Equal(t, name, c.Name())

			data, err := c.Marshal(in)
			require.NoError(t, err)

			var out formatOptions
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}

	_, ok := ByName("msgpack")
	assert.False(t, ok)
}

func TestJSONCodecsAgree(t *testing.T) {
	v := formatOptions{PatchCompression: "lz4", PKKeyWidth: 64}

	a, err := JSON{}.Marshal(v)
	require.NoError(t, err)
	b, err := GoJSON{}.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))

	var out formatOptions
	require.NoError(t, GoJSON{}.Unmarshal(a, &out))
	assert.Equal(t, v, out)
}

func TestYAMLIsReadable(t *testing.T) {
	data, err := YAML{}.Marshal(formatOptions{PatchCompression: "none", PKKeyWidth: 64})
	require.NoError(t, err)
	assert.Contains(t, string(data), "patch_compression: none")
	assert.Contains(t, string(data), "pk_key_width: 64")
}

func TestDefault(t *testing.T) {
	assert.Equal(t, "go-json", Default.Name())
}
