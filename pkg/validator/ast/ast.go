// Package ast implements the AST Validator (spec.md §4.9): an
// abstraction over per-language adapters providing structural checks
// (function/class/export/import/decorator) via a language-registered
// adapter, selected by file extension.
package ast

import (
	"path/filepath"
	"sync"
)

// Adapter is the uniform interface every language adapter implements
// (spec.md §4.9).
type Adapter interface {
	// Initialize primes the adapter for files under root.
	Initialize(root string) error
	// Supports reports whether this adapter handles path's extension.
	Supports(path string) bool

	HasFunction(path, name string) bool
	HasClass(path, name string, methods []string) bool
	HasInterface(path, name string, members []string) bool
	HasExport(path, name string) bool
	HasImport(path, fromModule string) bool
	HasDecorator(path, target string) bool
}

// Registry selects an Adapter by file extension. Unsupported files
// return false from every check and defer to rule-based checks
// (spec.md §4.9 "Unsupported files return false and defer").
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, a)
}

// For returns the first registered adapter that supports path, or nil.
func (r *Registry) For(path string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.adapters {
		if a.Supports(path) {
			return a
		}
	}
	return nil
}

// nullAdapter never supports anything; used as a safe zero value so
// callers can always invoke methods without a nil check.
type nullAdapter struct{}

func (nullAdapter) Initialize(string) error                          { return nil }
func (nullAdapter) Supports(string) bool                             { return false }
func (nullAdapter) HasFunction(string, string) bool                  { return false }
func (nullAdapter) HasClass(string, string, []string) bool           { return false }
func (nullAdapter) HasInterface(string, string, []string) bool       { return false }
func (nullAdapter) HasExport(string, string) bool                    { return false }
func (nullAdapter) HasImport(string, string) bool                    { return false }
func (nullAdapter) HasDecorator(string, string) bool                 { return false }

// Null is the zero-value Adapter.
var Null Adapter = nullAdapter{}

// Ext is a small helper adapters use to match their supported suffixes.
func Ext(path string, suffixes ...string) bool {
	e := filepath.Ext(path)
	for _, s := range suffixes {
		if e == s {
			return true
		}
	}
	return false
}
