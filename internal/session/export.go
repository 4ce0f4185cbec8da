package session

import (
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/conneroisu/previewkit/internal/preview"
)

// Export file names inside the archive.
const (
	ComponentFile = "component.jsx"
	StylesFile    = "styles.css"
)

// Export writes the current SourceUnit as a zip archive holding
// component.jsx and styles.css.
func (s *Session) Export(w io.Writer) error {
	s.mu.RLock()
	unit := s.unit
	modified := s.updatedAt
	s.mu.RUnlock()

	return WriteArchive(w, unit, modified)
}

// WriteArchive writes unit as a zip archive with the given modification
// time on both entries.
func WriteArchive(w io.Writer, unit preview.SourceUnit, modified time.Time) error {
	zw := zip.NewWriter(w)
	files := []struct {
		name    string
		content string
	}{
		{ComponentFile, unit.JSX},
		{StylesFile, unit.CSS},
	}
	for _, file := range files {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     file.name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("creating %s: %w", file.name, err)
		}
		if _, err := io.WriteString(f, file.content); err != nil {
			return fmt.Errorf("writing %s: %w", file.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	return nil
}
