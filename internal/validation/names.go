// Package validation checks names that arrive from remote metadata or user
// input before they are joined into filesystem paths.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidName is returned for names that are not a single path element.
	ErrInvalidName = errors.New("invalid name")
	// ErrEscapesDirectory is returned for paths that resolve outside their base.
	ErrEscapesDirectory = errors.New("path escapes base directory")
)

// ValidateName checks that name is exactly one path element: not empty, not
// "." or "..", and free of separators and NUL bytes. Names such as
// "data..v2.csv" or ".hidden" are allowed.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: contains a null byte", ErrInvalidName)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

// ValidatePathInDirectory checks that path, resolved against baseDir when
// relative, stays within baseDir.
//
//	ValidatePathInDirectory("../../etc/passwd", "/srv/vault") // ErrEscapesDirectory
//	ValidatePathInDirectory("bucket/object", "/srv/vault")    // nil
func ValidatePathInDirectory(path, baseDir string) error {
	if path == "" || baseDir == "" {
		return fmt.Errorf("%w: empty path or base", ErrInvalidName)
	}

	base, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	resolved := filepath.Clean(path)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s (base: %s)", ErrEscapesDirectory, path, baseDir)
	}
	return nil
}
