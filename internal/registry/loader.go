package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"analyzerd/internal/common/fsutil"
	"analyzerd/internal/manager"
)

// ModelFile is a model found in the models directory, named <kind>.<ext>.
type ModelFile struct {
	Kind      manager.Kind
	Path      string
	SizeBytes int64
}

// Scanner discovers per-kind model files by extension. Earlier extensions win
// when a kind has more than one file.
type Scanner struct {
	exts []string
}

// NewScanner returns a Scanner for the given extensions (".yaml", ".gguf", ...).
func NewScanner(exts ...string) *Scanner {
	norm := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		norm = append(norm, e)
	}
	return &Scanner{exts: norm}
}

func (s *Scanner) rank(ext string) int {
	for i, e := range s.exts {
		if e == ext {
			return i
		}
	}
	return -1
}

// Scan lists model files in dir. Files whose stem is not a kind name are ignored.
func (s *Scanner) Scan(dir string) ([]ModelFile, error) {
	abs, err := fsutil.AbsDir(dir)
	if err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	best := map[manager.Kind]int{}
	found := map[manager.Kind]ModelFile{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		r := s.rank(ext)
		if r < 0 {
			continue
		}
		kind, err := manager.ParseKind(strings.TrimSuffix(name, filepath.Ext(name)))
		if err != nil {
			continue
		}
		if prev, ok := best[kind]; ok && prev <= r {
			continue
		}
		p := filepath.Join(abs, name)
		size, err := fsutil.FileSize(p)
		if err != nil {
			continue
		}
		best[kind] = r
		found[kind] = ModelFile{Kind: kind, Path: p, SizeBytes: size}
	}
	out := make([]ModelFile, 0, len(found))
	for _, mf := range found {
		out = append(out, mf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

// LoadDir scans dir for model files with the given extensions, keyed by kind.
func LoadDir(dir string, exts ...string) (map[manager.Kind]ModelFile, error) {
	files, err := NewScanner(exts...).Scan(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[manager.Kind]ModelFile, len(files))
	for _, f := range files {
		out[f.Kind] = f
	}
	return out, nil
}
