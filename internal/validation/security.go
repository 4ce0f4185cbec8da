// Package validation checks the untrusted strings previewkit handles outside
// the sandbox: source file paths given on the command line, websocket and
// CORS origins, and URLs passed to the system browser.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Source file extensions accepted by the CLI.
var (
	ComponentExtensions = []string{".jsx", ".js", ".tsx"}
	StyleExtensions     = []string{".css"}
)

// ValidatePath rejects empty paths, traversal outside the working tree and
// shell metacharacters.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %s", path)
	}

	for _, char := range []string{";", "&", "|", "$", "`", "<", ">"} {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

// ValidateSourceFile validates path and requires one of the given
// extensions.
func ValidateSourceFile(path string, allowedExtensions []string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return fmt.Errorf("file must have an extension: %s", path)
	}
	for _, allowed := range allowedExtensions {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}
	return fmt.Errorf("file extension '%s' is not allowed (want one of %s)", ext, strings.Join(allowedExtensions, ", "))
}

// ValidateOrigin checks an Origin header against allowedOrigins. An entry
// matches either the full origin or its host:port.
func ValidateOrigin(origin string, allowedOrigins []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme '%s': only http and https are allowed", originURL.Scheme)
	}

	for _, allowed := range allowedOrigins {
		if origin == allowed || originURL.Host == allowed {
			return nil
		}
	}
	return fmt.Errorf("origin '%s' is not in allowed origins list", origin)
}

// OriginPolicy allows the server's own address, its loopback aliases and a
// configured list.
type OriginPolicy struct {
	allowed []string
}

// NewOriginPolicy builds the policy for a server listening on host:port.
func NewOriginPolicy(host string, port int, extra []string) *OriginPolicy {
	allowed := []string{
		fmt.Sprintf("%s:%d", host, port),
		fmt.Sprintf("localhost:%d", port),
		fmt.Sprintf("127.0.0.1:%d", port),
	}
	allowed = append(allowed, extra...)
	return &OriginPolicy{allowed: allowed}
}

// IsAllowedOrigin reports whether origin may talk to the server.
func (p *OriginPolicy) IsAllowedOrigin(origin string) bool {
	return ValidateOrigin(origin, p.allowed) == nil
}
