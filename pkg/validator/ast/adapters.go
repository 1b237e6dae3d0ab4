package ast

import (
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// regexAdapter is a lightweight structural-match adapter: real AST
// parsing per target language is out of scope for a control plane that
// never sees the target project's own toolchain pre-installed, so
// structural checks use anchored regexes against file contents. This
// mirrors spec.md §4.8 step 6's own grep_found check type, just scoped
// to language-shaped patterns rather than raw criterion keywords.
type regexAdapter struct {
	exts               []string
	functionPattern     func(name string) *regexp.Regexp
	classPattern        func(name string) *regexp.Regexp
	interfacePattern    func(name string) *regexp.Regexp
	exportPattern       func(name string) *regexp.Regexp
	importPattern       func(module string) *regexp.Regexp
	decoratorPattern    func(target string) *regexp.Regexp
}

func (a *regexAdapter) Initialize(root string) error { return nil }

func (a *regexAdapter) Supports(path string) bool { return Ext(path, a.exts...) }

func (a *regexAdapter) read(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (a *regexAdapter) HasFunction(path, name string) bool {
	content, ok := a.read(path)
	return ok && a.functionPattern != nil && a.functionPattern(name).MatchString(content)
}

func (a *regexAdapter) HasClass(path, name string, methods []string) bool {
	content, ok := a.read(path)
	if !ok || a.classPattern == nil || !a.classPattern(name).MatchString(content) {
		return false
	}
	for _, m := range methods {
		if a.functionPattern != nil && !a.functionPattern(m).MatchString(content) {
			return false
		}
	}
	return true
}

func (a *regexAdapter) HasInterface(path, name string, members []string) bool {
	content, ok := a.read(path)
	if !ok || a.interfacePattern == nil {
		return false
	}
	return a.interfacePattern(name).MatchString(content)
}

func (a *regexAdapter) HasExport(path, name string) bool {
	content, ok := a.read(path)
	return ok && a.exportPattern != nil && a.exportPattern(name).MatchString(content)
}

func (a *regexAdapter) HasImport(path, fromModule string) bool {
	content, ok := a.read(path)
	return ok && a.importPattern != nil && a.importPattern(fromModule).MatchString(content)
}

func (a *regexAdapter) HasDecorator(path, target string) bool {
	content, ok := a.read(path)
	return ok && a.decoratorPattern != nil && a.decoratorPattern(target).MatchString(content)
}

func quoteIdent(name string) string {
	return regexp.QuoteMeta(name)
}

// NewGoAdapter recognizes Go function/type/export shape: an exported
// Go identifier IS its export, so HasExport checks capitalization.
func NewGoAdapter() Adapter {
	return &regexAdapter{
		exts: []string{".go"},
		functionPattern: func(name string) *regexp.Regexp {
			return regexp.MustCompile(`func\s+(\([^)]*\)\s+)?` + quoteIdent(name) + `\s*\(`)
		},
		classPattern: func(name string) *regexp.Regexp {
			return regexp.MustCompile(`type\s+` + quoteIdent(name) + `\s+struct\b`)
		},
		interfacePattern: func(name string) *regexp.Regexp {
			return regexp.MustCompile(`type\s+` + quoteIdent(name) + `\s+interface\b`)
		},
		exportPattern: func(name string) *regexp.Regexp {
			if r, _ := utf8.DecodeRuneInString(name); !unicode.IsUpper(r) {
				return regexp.MustCompile(`[^\s\S]`) // unexported: never matches
			}
			return regexp.MustCompile(`\b(func|type|var|const)\s+` + quoteIdent(name) + `\b`)
		},
		importPattern: func(module string) *regexp.Regexp {
			return regexp.MustCompile(`"` + regexp.QuoteMeta(module) + `"`)
		},
	}
}

// NewTSAdapter recognizes TypeScript/JavaScript export/function/class
// shapes (spec.md §4.9).
func NewTSAdapter() Adapter {
	return &regexAdapter{
		exts: []string{".ts", ".tsx", ".js", ".jsx"},
		functionPattern: func(name string) *regexp.Regexp {
			id := quoteIdent(name)
			return regexp.MustCompile(`(function\s+` + id + `\s*\(|const\s+` + id + `\s*=\s*(\([^)]*\)|[a-zA-Z_]\w*)\s*=>|` + id + `\s*\([^)]*\)\s*\{)`)
		},
		classPattern: func(name string) *regexp.Regexp {
			return regexp.MustCompile(`class\s+` + quoteIdent(name) + `\b`)
		},
		interfacePattern: func(name string) *regexp.Regexp {
			return regexp.MustCompile(`interface\s+` + quoteIdent(name) + `\b`)
		},
		exportPattern: func(name string) *regexp.Regexp {
			id := quoteIdent(name)
			return regexp.MustCompile(`export\s+(default\s+)?(async\s+)?(function|class|const|let|var|interface)?\s*` + id + `\b`)
		},
		importPattern: func(module string) *regexp.Regexp {
			return regexp.MustCompile(`from\s+['"]` + regexp.QuoteMeta(module) + `['"]`)
		},
		decoratorPattern: func(target string) *regexp.Regexp {
			return regexp.MustCompile(`@` + quoteIdent(target) + `\b`)
		},
	}
}

// NewPythonAdapter recognizes Python def/class/decorator/import shapes.
func NewPythonAdapter() Adapter {
	return &regexAdapter{
		exts: []string{".py"},
		functionPattern: func(name string) *regexp.Regexp {
			return regexp.MustCompile(`def\s+` + quoteIdent(name) + `\s*\(`)
		},
		classPattern: func(name string) *regexp.Regexp {
			return regexp.MustCompile(`class\s+` + quoteIdent(name) + `\b`)
		},
		exportPattern: func(name string) *regexp.Regexp {
			// Python has no export keyword; top-level def/class/assignment
			// not prefixed with "_" is the closest analogue.
			if strings.HasPrefix(name, "_") {
				return regexp.MustCompile(`[^\s\S]`) // private: never matches
			}
			id := quoteIdent(name)
			return regexp.MustCompile(`(?m)^((def|class)\s+` + id + `\b|` + id + `\s*=[^=])`)
		},
		importPattern: func(module string) *regexp.Regexp {
			return regexp.MustCompile(`(import\s+` + regexp.QuoteMeta(module) + `\b|from\s+` + regexp.QuoteMeta(module) + `\s+import)`)
		},
		decoratorPattern: func(target string) *regexp.Regexp {
			return regexp.MustCompile(`@` + quoteIdent(target) + `\b`)
		},
	}
}

// DefaultRegistry returns a Registry with the Go/TS/Python adapters
// pre-registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewGoAdapter())
	r.Register(NewTSAdapter())
	r.Register(NewPythonAdapter())
	return r
}
