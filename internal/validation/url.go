package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL validates the preview URL handed to the system browser by
// `serve --open`. Only plain http(s) URLs with a host pass.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}

	if i := strings.IndexAny(rawURL, ";&|`$()<>\"'\\ \n\r"); i >= 0 {
		return fmt.Errorf("URL contains dangerous character: %q", rawURL[i])
	}

	return nil
}
