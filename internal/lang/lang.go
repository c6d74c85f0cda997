// Package lang provides tree-sitter parsing and syntax validation for the
// languages the migration engine rewrites.
package lang

import (
	"strings"
)

// Language represents a supported programming language.
type Language string

const (
	LangPython     Language = "python"
	LangGo         Language = "go"
	LangJavaScript Language = "javascript"
)

// LanguageFromExtension maps a file extension to a supported language.
func LanguageFromExtension(ext string) (Language, bool) {
	switch strings.ToLower(ext) {
	case ".py":
		return LangPython, true
	case ".go":
		return LangGo, true
	case ".js", ".mjs", ".cjs":
		return LangJavaScript, true
	default:
		return "", false
	}
}

// LanguageForLibrary maps a migratable library to the language its
// consumers are written in. Transformer selection depends on it.
func LanguageForLibrary(library string) (Language, bool) {
	switch strings.ToLower(library) {
	case "pydantic", "sqlalchemy", "requests":
		return LangPython, true
	default:
		return "", false
	}
}
