package validator

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
)

// astHintPattern flags acceptance criteria worth routing through the
// AST Validator (spec.md §4.8 step 6 "AST match ... inferred from
// criterion text (regex hints: function|method|class|export|@decorator)").
var astHintPattern = regexp.MustCompile(`(?i)\b(function|method|class|export|@\w+|decorator)\b`)

// extractIdentifierHint pulls the most plausible identifier out of a
// criterion sentence for AST lookups, e.g. "function authMiddleware
// exported" -> "authMiddleware".
func extractIdentifierHint(criterion string) string {
	re := regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)
	words := re.FindAllString(criterion, -1)
	stop := map[string]bool{
		"function": true, "method": true, "class": true, "export": true,
		"exported": true, "decorator": true, "the": true, "a": true, "an": true,
		"is": true, "are": true, "with": true,
	}
	for _, w := range words {
		if !stop[strings.ToLower(w)] {
			return w
		}
	}
	return ""
}

// curatedKeywordMappings maps common criterion phrases to expected
// content tokens when no exact phrase is present (spec.md §4.8 step 6
// "curated criterion->keyword mappings -> MEDIUM").
var curatedKeywordMappings = map[string][]string{
	"pagination": {"hasMore", "page", "limit", "offset", "cursor"},
	"authentication": {"auth", "token", "session", "login"},
	"error handling": {"error", "catch", "recover", "err"},
	"logging": {"log", "logger", "slog"},
	"validation": {"valid", "validate", "schema"},
}

// keywordMatch implements spec.md §4.8 step 6's keyword fallback:
// exact phrase -> HIGH, curated mapping hit -> MEDIUM, all long-word
// tokens present -> LOW.
func keywordMatch(criterion, root string, candidateFiles []string, budget *scanBudget) Confidence {
	var combined strings.Builder
	for _, f := range candidateFiles {
		if !isSafeExtension(f) {
			continue
		}
		content, ok := readWithinBudget(root, f, budget)
		if !ok {
			continue
		}
		combined.WriteString(content)
		combined.WriteByte('\n')
	}
	haystack := combined.String()
	if haystack == "" {
		return ConfidenceNone
	}

	lowerHay := strings.ToLower(haystack)
	lowerCrit := strings.ToLower(strings.TrimSpace(criterion))

	if lowerCrit != "" && strings.Contains(lowerHay, lowerCrit) {
		return ConfidenceHigh
	}

	for phrase, tokens := range curatedKeywordMappings {
		if strings.Contains(lowerCrit, phrase) {
			for _, tok := range tokens {
				if strings.Contains(lowerHay, strings.ToLower(tok)) {
					return ConfidenceMedium
				}
			}
		}
	}

	words := strings.Fields(lowerCrit)
	allPresent := len(words) > 0
	for _, w := range words {
		if len(w) < 4 {
			continue // only "long-word tokens" count (spec.md §4.8 step 6)
		}
		if !strings.Contains(lowerHay, w) {
			allPresent = false
			break
		}
	}
	if allPresent {
		return ConfidenceLow
	}
	return ConfidenceNone
}

// documentationFallback scans docs/, design/, specs/, and root
// .md/.txt files for design-style criteria (spec.md §4.8 step 6
// "Documentation fallback").
func documentationFallback(criterion, root string, budget *scanBudget) bool {
	candidates := []string{"docs", "design", "specs"}
	lowerCrit := strings.ToLower(criterion)

	for _, dir := range candidates {
		matches, _ := filepath.Glob(filepath.Join(root, dir, "*"))
		for _, m := range matches {
			rel, err := filepath.Rel(root, m)
			if err != nil || !isSafeExtension(rel) {
				continue
			}
			content, ok := readWithinBudget(root, rel, budget)
			if ok && strings.Contains(strings.ToLower(content), lowerCrit) {
				return true
			}
		}
	}
	rootMDs, _ := filepath.Glob(filepath.Join(root, "*.md"))
	rootTxts, _ := filepath.Glob(filepath.Join(root, "*.txt"))
	for _, m := range append(rootMDs, rootTxts...) {
		rel, err := filepath.Rel(root, m)
		if err != nil {
			continue
		}
		content, ok := readWithinBudget(root, rel, budget)
		if ok && strings.Contains(strings.ToLower(content), lowerCrit) {
			return true
		}
	}
	return false
}

// expectedSchema is the minimal shape of an expected_json_schema: its
// properties, each with just a type -- enough to enforce "exact top-level key set and
// primitive types" (spec.md §4.8 step 2) without a full JSON Schema
// implementation -- no validator library in the dependency set speaks
// arbitrary JSON Schema (invopop/jsonschema only *generates* schemas),
// so this is a deliberate, narrowly-scoped stdlib check rather than an
// adopted library; see DESIGN.md.
type expectedSchema struct {
	Properties map[string]struct {
		Type string `json:"type"`
	} `json:"properties"`
}

// enforceSchema checks that jsonBlock's top-level keys and primitive
// types exactly match task.ExpectedJSONSchema (spec.md §4.8 step 2).
func enforceSchema(schemaRaw []byte, jsonBlock string) bool {
	var schema expectedSchema
	if err := json.Unmarshal(schemaRaw, &schema); err != nil {
		return false
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonBlock), &doc); err != nil {
		return false
	}
	if len(doc) != len(schema.Properties) {
		return false
	}
	for key, prop := range schema.Properties {
		raw, ok := doc[key]
		if !ok {
			return false
		}
		if !jsonValueHasType(raw, prop.Type) {
			return false
		}
	}
	return true
}

func jsonValueHasType(raw json.RawMessage, typ string) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number", "integer":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "":
		return true // untyped property, presence is enough
	default:
		return false
	}
}
