// Package sandbox confines every agent-authored path and validator
// filesystem read/exec to sandbox_root/<project_id> (spec.md §5
// "Sandboxing", §4.6 post-hoc file-path validation, invariant P8).
package sandbox

import (
	"path/filepath"
	"strings"
)

// Root is a sandbox root for a single project. All Resolve calls are
// relative to it; nothing outside it is ever touched.
type Root struct {
	abs string
}

// New returns a Root rooted at root/projectID. If projectID is empty
// (cross-project goal checks, spec.md §4.3) the root itself is used.
func New(root, projectID string) (Root, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Root{}, err
	}
	if projectID != "" {
		abs = filepath.Join(abs, projectID)
	}
	return Root{abs: abs}, nil
}

// Path returns the absolute sandbox root directory.
func (r Root) Path() string { return r.abs }

// Rejects reports whether p is disqualified before ever touching disk:
// absolute, "~"-prefixed, or containing a ".." traversal segment
// (spec.md §4.6, §4.8 step 3, invariant P8).
func Rejects(p string) bool {
	if p == "" {
		return true
	}
	if filepath.IsAbs(p) {
		return true
	}
	if strings.HasPrefix(p, "~") {
		return true
	}
	cleaned := filepath.ToSlash(filepath.Clean(p))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return true
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// Resolve validates p and, if acceptable, returns the absolute path
// under the sandbox root. The second return is false when p must be
// rejected without any filesystem access.
func (r Root) Resolve(p string) (string, bool) {
	if Rejects(p) {
		return "", false
	}
	full := filepath.Join(r.abs, p)
	// Defense in depth: filepath.Join can still normalize a traversal
	// that cleans back inside abs for degenerate inputs like
	// "a/../../b" already caught above, but re-verify the prefix.
	rel, err := filepath.Rel(r.abs, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return full, true
}
