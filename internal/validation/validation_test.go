package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		expectErr bool
	}{
		{"relative file", "components/App.jsx", false},
		{"absolute file", "/tmp/App.jsx", false},
		{"dot segments inside tree", "a/../App.jsx", false},
		{"empty", "", true},
		{"parent traversal", "../secret.jsx", true},
		{"bare parent", "..", true},
		{"shell metacharacter", "App.jsx;rm", true},
		{"command substitution", "$(whoami).jsx", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSourceFile(t *testing.T) {
	assert.NoError(t, ValidateSourceFile("App.JSX", ComponentExtensions))
	assert.NoError(t, ValidateSourceFile("styles.css", StyleExtensions))
	assert.Error(t, ValidateSourceFile("styles.css", ComponentExtensions))
	assert.Error(t, ValidateSourceFile("Makefile", ComponentExtensions))
	assert.Error(t, ValidateSourceFile("../App.jsx", ComponentExtensions))
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"localhost:8080", "https://editor.example.com"}

	tests := []struct {
		name      string
		origin    string
		expectErr bool
	}{
		{"host match", "http://localhost:8080", false},
		{"full origin match", "https://editor.example.com", false},
		{"missing", "", true},
		{"other port", "http://localhost:9999", true},
		{"other scheme", "file://localhost:8080", true},
		{"unlisted host", "https://evil.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrigin(tt.origin, allowed)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOriginPolicy(t *testing.T) {
	policy := NewOriginPolicy("0.0.0.0", 8080, []string{"localhost:3000"})

	assert.True(t, policy.IsAllowedOrigin("http://0.0.0.0:8080"))
	assert.True(t, policy.IsAllowedOrigin("http://localhost:8080"))
	assert.True(t, policy.IsAllowedOrigin("http://127.0.0.1:8080"))
	assert.True(t, policy.IsAllowedOrigin("http://localhost:3000"))
	assert.False(t, policy.IsAllowedOrigin("http://localhost:4000"))
	assert.False(t, policy.IsAllowedOrigin(""))
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		expectErr bool
	}{
		{"http", "http://localhost:8080", false},
		{"https with path and query", "https://example.com/sessions/abc?x=1", false},
		{"javascript scheme", "javascript:alert(1)", true},
		{"file scheme", "file:///etc/passwd", true},
		{"no host", "http://", true},
		{"command injection", "http://localhost:8080/;rm -rf", true},
		{"quote", "http://localhost:8080/'", true},
		{"newline", "http://localhost:8080/\nx", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
