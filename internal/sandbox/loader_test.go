package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeName(t *testing.T) {
	tests := []struct {
		src      string
		expected string
	}{
		{"https://unpkg.com/react@18/umd/react.development.js", "react"},
		{"https://unpkg.com/react-dom@18/umd/react-dom.development.js", "react-dom"},
		{"https://cdn.jsdelivr.net/npm/react@18.2.0/umd/react.production.min.js", "react"},
		{"/static/react-dom.min.js", "react-dom"},
		{"https://example.com/lodash.js", ""},
		{"::not a url", ""},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.expected, runtimeName(tt.src))
		})
	}
}

func TestEmbeddedLoader(t *testing.T) {
	loader := NewEmbeddedLoader()
	ctx := context.Background()

	source, err := loader.Load(ctx, "https://unpkg.com/react@18/umd/react.development.js")
	require.NoError(t, err)
	assert.Contains(t, source, "global.React")

	source, err = loader.Load(ctx, "https://unpkg.com/react-dom@18/umd/react-dom.development.js")
	require.NoError(t, err)
	assert.Contains(t, source, "global.ReactDOM")

	_, err = loader.Load(ctx, "https://example.com/other.js")
	assert.Error(t, err)

	loader.Register("https://example.com/other.js", "var other = 1;")
	source, err = loader.Load(ctx, "https://example.com/other.js")
	require.NoError(t, err)
	assert.Equal(t, "var other = 1;", source)
}

func TestEmbeddedLoaderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEmbeddedLoader().Load(ctx, "https://unpkg.com/react@18/umd/react.development.js")
	assert.ErrorIs(t, err, context.Canceled)
}
