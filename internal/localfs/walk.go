package localfs

import (
	"io/fs"
	"path/filepath"
	"time"
)

// FileEntry is one file or directory found by Walk.
type FileEntry struct {
	Path    string
	Name    string
	Size    int64 // 0 for directories
	IsDir   bool
	ModTime time.Time
	Mode    fs.FileMode
}

// WalkOptions configures Walk.
type WalkOptions struct {
	// IncludeHidden includes hidden files and directories.
	IncludeHidden bool

	// SkipHiddenDirs skips descending into hidden directories. Only
	// meaningful when IncludeHidden is false.
	SkipHiddenDirs bool
}

// WalkFunc is called for every entry. Return filepath.SkipDir to skip a
// directory, or any other error to stop walking.
type WalkFunc func(entry FileEntry) error

// Walk traverses root depth-first, directories before their contents.
// Entries that cannot be read or stat'ed are skipped. The root itself is
// never filtered as hidden.
func Walk(root string, opts WalkOptions, fn WalkFunc) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		name := d.Name()
		if path != root && !opts.IncludeHidden && IsHiddenName(name) {
			if d.IsDir() && opts.SkipHiddenDirs {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		entry := FileEntry{
			Path:    path,
			Name:    name,
			IsDir:   d.IsDir(),
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		}
		if !entry.IsDir {
			entry.Size = info.Size()
		}
		return fn(entry)
	})
}

// WalkFiles is Walk restricted to non-directories.
func WalkFiles(root string, opts WalkOptions, fn WalkFunc) error {
	return Walk(root, opts, func(entry FileEntry) error {
		if entry.IsDir {
			return nil
		}
		return fn(entry)
	})
}
