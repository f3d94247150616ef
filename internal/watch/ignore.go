package watch

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// IgnoreFileName holds extra gitignore-style patterns in the watched root.
const IgnoreFileName = ".tnsignore"

// IgnoreFilter matches paths against gitignore-style patterns.
type IgnoreFilter struct {
	root     string
	patterns []gitignore.Pattern
}

// NewIgnoreFilter loads the default patterns plus .gitignore and
// .tnsignore from root when present.
func NewIgnoreFilter(root string) (*IgnoreFilter, error) {
	f := &IgnoreFilter{root: root}

	// Partial downloads and editor droppings
	defaultPatterns := []string{
		".git",
		".DS_Store",
		"*.tmp",
		"*.part",
		"*.crdownload",
		"*~",
	}

	for _, p := range defaultPatterns {
		f.patterns = append(f.patterns, gitignore.ParsePattern(p, nil))
	}

	for _, name := range []string{".gitignore", IgnoreFileName} {
		if err := f.load(filepath.Join(root, name)); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func (f *IgnoreFilter) load(path string) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f.patterns = append(f.patterns, gitignore.ParsePattern(line, nil))
	}
	return scanner.Err()
}

// ShouldIgnore reports whether path, inside root, matches an exclude
// pattern. Later patterns win, so a "!" line can re-include a path.
func (f *IgnoreFilter) ShouldIgnore(path string) bool {
	relPath, err := filepath.Rel(f.root, path)
	if err != nil || relPath == "." || strings.HasPrefix(relPath, "..") {
		return false
	}

	info, statErr := os.Stat(path)
	isDir := statErr == nil && info.IsDir()

	pathParts := strings.Split(relPath, string(filepath.Separator))
	ignored := false
	for _, pattern := range f.patterns {
		switch pattern.Match(pathParts, isDir) {
		case gitignore.Exclude:
			ignored = true
		case gitignore.Include:
			ignored = false
		}
	}
	return ignored
}
