package runner

import (
	"strings"
	"sync"
)

// selection is the set of folder paths chosen for export. Selecting a
// folder selects its whole subtree. Paths are slash separated below the
// store root and compared case-insensitively; an empty selection selects
// everything.
type selection struct {
	paths []string
	raw   []string

	mu   sync.Mutex
	seen map[int]bool
}

func newSelection(folders []string) *selection {
	s := &selection{seen: make(map[int]bool)}
	for _, f := range folders {
		f = strings.Trim(f, "/")
		if f == "" {
			continue
		}
		s.raw = append(s.raw, f)
		s.paths = append(s.paths, strings.ToLower(f))
	}
	return s
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// selected reports whether messages of the folder at path are exported.
func (s *selection) selected(path string) bool {
	if len(s.paths) == 0 {
		return true
	}
	if path == "" {
		return false
	}
	path = strings.ToLower(path)
	for i, p := range s.paths {
		if path == p || strings.HasPrefix(path, p+"/") {
			s.mark(i)
			return true
		}
	}
	return false
}

// needed reports whether a mailbox must exist for the folder at path: it is
// selected itself or is an ancestor of a selected folder.
func (s *selection) needed(path string) bool {
	if s.selected(path) {
		return true
	}
	path = strings.ToLower(path)
	for _, p := range s.paths {
		if path == "" || strings.HasPrefix(p, path+"/") {
			return true
		}
	}
	return false
}

func (s *selection) mark(i int) {
	s.mu.Lock()
	s.seen[i] = true
	s.mu.Unlock()
}

// unmatched returns the selected paths no folder matched so far.
func (s *selection) unmatched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for i, p := range s.raw {
		if !s.seen[i] {
			out = append(out, p)
		}
	}
	return out
}
