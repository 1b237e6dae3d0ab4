package validator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/mod/semver"
)

// Safety caps (spec.md §4.8 step 6, §6 configuration table).
const (
	DefaultMaxFilesScanned = 2000
	DefaultMaxTotalBytes   = 10 * 1024 * 1024
	DefaultMaxFileBytes    = 512 * 1024
)

// safeContentExtensions are the extensions content-scan checks
// (grep_found/grep_not_found, keyword fallback) are permitted to read
// (spec.md §4.8 step 6 "only safe extensions for content scans").
var safeContentExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rb": true, ".java": true, ".rs": true, ".c": true,
	".h": true, ".cpp": true, ".hpp": true, ".json": true, ".yaml": true,
	".yml": true, ".md": true, ".txt": true, ".toml": true, ".cfg": true,
}

// Caps bundles the configurable safety limits.
type Caps struct {
	MaxFiles     int
	MaxTotalByte int
	MaxFileByte  int
}

// DefaultCaps returns the spec.md §6 defaults.
func DefaultCaps() Caps {
	return Caps{MaxFiles: DefaultMaxFilesScanned, MaxTotalByte: DefaultMaxTotalBytes, MaxFileByte: DefaultMaxFileBytes}
}

// CheckType is the closed set of rule-based check kinds (spec.md §4.8
// step 6).
type CheckType string

const (
	CheckFileExists      CheckType = "file_exists"
	CheckFileNotExists   CheckType = "file_not_exists"
	CheckDirectoryExists CheckType = "directory_exists"
	CheckJSONContains    CheckType = "json_contains"
	CheckJSONNotContains CheckType = "json_not_contains"
	CheckFileCount       CheckType = "file_count"
	CheckGrepFound       CheckType = "grep_found"
	CheckGrepNotFound    CheckType = "grep_not_found"
)

// Check is one rule-based assertion (spec.md §4.8 step 6).
type Check struct {
	Type CheckType

	Path       string // file_exists, file_not_exists, json_contains/not_contains, grep_*
	Directory  string // directory_exists
	Glob       string // file_count
	Min, Max   int    // file_count bounds (0 = unset)
	KeyPath    string // json_contains/not_contains, dot-separated
	Value      any    // json_contains expected value, nil = presence-only
	Semver     bool   // json_contains: treat Value as a minimum semver version (actual >= Value)
	Regex      string // grep_found/grep_not_found
}

// RuleSet is the criterion -> checks registry (spec.md §4.8 step 6
// "driven by a registry of criterion -> check lists").
type RuleSet map[string][]Check

// catastrophicBacktrackingHints are crude markers of patterns prone to
// catastrophic backtracking (nested quantifiers); caught before
// compiling so a hostile criterion-authored regex cannot hang the
// validator (spec.md §4.8 step 6).
var catastrophicBacktrackingHints = regexp.MustCompile(`(\([^)]*[+*]\)[+*])|(\([^)]*\+\)\+)`)

// CompileRegex validates and compiles a grep pattern, rejecting
// patterns that look catastrophically backtracking (spec.md §4.8
// step 6 "safety caps are exceeded").
func CompileRegex(pattern string) (*regexp.Regexp, bool) {
	if catastrophicBacktrackingHints.MatchString(pattern) {
		return nil, false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false
	}
	return re, true
}

// scanBudget tracks the running totals against Caps across a single
// validation pass (spec.md §4.8 step 6). Criteria are matched
// concurrently (one goroutine per acceptance criterion, bounded by
// errgroup.SetLimit), so the budget is mutex-guarded.
type scanBudget struct {
	mu         sync.Mutex
	caps       Caps
	filesRead  int
	bytesRead  int
}

func (b *scanBudget) allow(size int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.filesRead+1 > b.caps.MaxFiles {
		return false
	}
	if size > b.caps.MaxFileByte {
		return false
	}
	if b.bytesRead+size > b.caps.MaxTotalByte {
		return false
	}
	b.filesRead++
	b.bytesRead += size
	return true
}

func isSafeExtension(path string) bool {
	return safeContentExtensions[strings.ToLower(filepath.Ext(path))]
}

// Eval runs one Check rooted at root, subject to the scan budget.
// Returns (passed, ok) where ok is false if the check could not be
// evaluated safely (catastrophic regex, cap exceeded, unsafe extension)
// -- treated as a failure by the caller.
func Eval(root string, c Check, budget *scanBudget) (passed bool, ok bool) {
	switch c.Type {
	case CheckFileExists:
		return fileExists(root, c.Path), true
	case CheckFileNotExists:
		return !fileExists(root, c.Path), true
	case CheckDirectoryExists:
		info, err := os.Stat(filepath.Join(root, c.Directory))
		return err == nil && info.IsDir(), true
	case CheckFileCount:
		matches, _ := filepath.Glob(filepath.Join(root, c.Glob))
		n := len(matches)
		if c.Min > 0 && n < c.Min {
			return false, true
		}
		if c.Max > 0 && n > c.Max {
			return false, true
		}
		return true, true
	case CheckJSONContains, CheckJSONNotContains:
		present, val := jsonLookup(root, c.Path, c.KeyPath, budget)
		if !present {
			return c.Type == CheckJSONNotContains, true
		}
		matched := jsonValueMatches(val, c.Value, c.Semver)
		if c.Type == CheckJSONNotContains {
			return !matched, true
		}
		return matched, true
	case CheckGrepFound, CheckGrepNotFound:
		if !isSafeExtension(c.Path) {
			return false, false
		}
		re, okRe := CompileRegex(c.Regex)
		if !okRe {
			return false, false
		}
		content, okRead := readWithinBudget(root, c.Path, budget)
		if !okRead {
			return false, false
		}
		found := re.MatchString(content)
		if c.Type == CheckGrepNotFound {
			return !found, true
		}
		return found, true
	}
	return false, false
}

func fileExists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, rel))
	return err == nil
}

func readWithinBudget(root, rel string, budget *scanBudget) (string, bool) {
	full := filepath.Join(root, rel)
	info, err := os.Stat(full)
	if err != nil {
		return "", false
	}
	if budget != nil && !budget.allow(int(info.Size())) {
		return "", false
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func jsonLookup(root, rel, keyPath string, budget *scanBudget) (present bool, value any) {
	content, ok := readWithinBudget(root, rel, budget)
	if !ok {
		return false, nil
	}
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return false, nil
	}
	cur := doc
	for _, key := range strings.Split(keyPath, ".") {
		if key == "" {
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return false, nil
		}
		cur, ok = m[key]
		if !ok {
			return false, nil
		}
	}
	return true, cur
}

func jsonValueMatches(actual, expected any, isSemver bool) bool {
	if expected == nil {
		return true // presence-only check
	}
	if isSemver {
		actualStr, aok := actual.(string)
		expectedStr, eok := expected.(string)
		if !aok || !eok {
			return false
		}
		return semver.IsValid(normalizeSemver(actualStr)) &&
			semver.Compare(normalizeSemver(actualStr), normalizeSemver(expectedStr)) >= 0
	}
	return actual == expected
}

func normalizeSemver(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
