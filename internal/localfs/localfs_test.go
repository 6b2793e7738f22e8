package localfs

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestIsHidden(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{".hidden", true},
		{".gitignore", true},
		{"visible.txt", false},
		{"/path/to/.hidden", true},
		{"/path/to/visible.txt", false},
		{"../.hidden", true},
		{"..", false},
		{".", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsHidden(tt.path); got != tt.expected {
				t.Errorf("IsHidden(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}

// makeTree creates a small tree and returns its root.
func makeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range []string{"a.txt", ".hidden", "sub/b.txt", "sub/.c", ".dir/d.txt"} {
		path := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(f), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func collect(t *testing.T, root string, opts WalkOptions) []string {
	t.Helper()
	var got []string
	err := WalkFiles(root, opts, func(e FileEntry) error {
		rel, err := filepath.Rel(root, e.Path)
		if err != nil {
			return err
		}
		got = append(got, filepath.ToSlash(rel))
		if e.Size != int64(len(filepath.ToSlash(rel))) {
			t.Errorf("%s: size %d", rel, e.Size)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(got)
	return got
}

func TestWalkFiles(t *testing.T) {
	root := makeTree(t)
	tests := []struct {
		name string
		opts WalkOptions
		want []string
	}{
		{"skip hidden", WalkOptions{SkipHiddenDirs: true}, []string{"a.txt", "sub/b.txt"}},
		{"hidden dirs entered", WalkOptions{}, []string{".dir/d.txt", "a.txt", "sub/b.txt"}},
		{"include hidden", WalkOptions{IncludeHidden: true}, []string{".dir/d.txt", ".hidden", "a.txt", "sub/.c", "sub/b.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(t, root, tt.opts)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestWalkHiddenRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".vault")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "x"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := collect(t, root, WalkOptions{SkipHiddenDirs: true}); len(got) != 1 {
		t.Errorf("walk of a hidden root = %v, want [x]", got)
	}
}

func TestWalkStops(t *testing.T) {
	root := makeTree(t)
	stop := errors.New("stop")
	calls := 0
	err := WalkFiles(root, WalkOptions{IncludeHidden: true}, func(FileEntry) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("Walk = %v after %d calls, want stop after 1", err, calls)
	}
}
