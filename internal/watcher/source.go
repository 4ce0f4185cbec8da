package watcher

import (
	"fmt"
	"os"

	perrors "github.com/conneroisu/previewkit/internal/errors"
	"github.com/conneroisu/previewkit/internal/preview"
	"github.com/conneroisu/previewkit/internal/validation"
)

// SourceFiles names the files a SourceUnit is read from. Styles is
// optional.
type SourceFiles struct {
	Component string
	Styles    string
}

// SourceFilesFromArgs maps `<file.jsx> [file.css]` arguments.
func SourceFilesFromArgs(args []string) (SourceFiles, error) {
	if len(args) == 0 || len(args) > 2 {
		return SourceFiles{}, fmt.Errorf("expected a component file and an optional stylesheet, got %d arguments", len(args))
	}
	files := SourceFiles{Component: args[0]}
	if len(args) == 2 {
		files.Styles = args[1]
	}
	return files, files.Validate()
}

// Validate checks both paths and their extensions.
func (f SourceFiles) Validate() error {
	if err := validation.ValidateSourceFile(f.Component, validation.ComponentExtensions); err != nil {
		return fmt.Errorf("component file: %w", err)
	}
	if f.Styles != "" {
		if err := validation.ValidateSourceFile(f.Styles, validation.StyleExtensions); err != nil {
			return fmt.Errorf("stylesheet: %w", err)
		}
	}
	return nil
}

// Paths returns the files to watch.
func (f SourceFiles) Paths() []string {
	if f.Styles == "" {
		return []string{f.Component}
	}
	return []string{f.Component, f.Styles}
}

// Load reads the files into a SourceUnit.
func (f SourceFiles) Load() (preview.SourceUnit, error) {
	jsx, err := os.ReadFile(f.Component)
	if err != nil {
		return preview.SourceUnit{}, perrors.NewIOError(perrors.ErrCodeFileNotFound, "reading component "+f.Component, err)
	}
	unit := preview.SourceUnit{JSX: string(jsx)}

	if f.Styles != "" {
		css, err := os.ReadFile(f.Styles)
		if err != nil {
			return preview.SourceUnit{}, perrors.NewIOError(perrors.ErrCodeFileNotFound, "reading stylesheet "+f.Styles, err)
		}
		unit.CSS = string(css)
	}
	return unit, nil
}
