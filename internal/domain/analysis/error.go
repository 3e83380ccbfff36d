// Package analysis defines the normalized error model produced from raw
// server diagnostics: CodeError values, their classification policy, and
// aggregate error lists with invariant-maintained counts.
package analysis

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
)

// Severity of a normalized error.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityHint    Severity = "hint"
)

// Category of a normalized error, derived once at construction.
type Category string

const (
	CategorySyntax        Category = "syntax"
	CategoryType          Category = "type"
	CategoryLogic         Category = "logic"
	CategoryPerformance   Category = "performance"
	CategorySecurity      Category = "security"
	CategoryStyle         Category = "style"
	CategoryCompatibility Category = "compatibility"
	CategoryDependency    Category = "dependency"
	CategoryUnknown       Category = "unknown"
)

// Location points into a source file with 1-based line/column. EndLine and
// EndColumn are zero when the server reported no end position.
type Location struct {
	FilePath  string `json:"file_path"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndLine   int    `json:"end_line,omitempty"`
	EndColumn int    `json:"end_column,omitempty"`
}

// FileName returns the base name of the location's file path.
func (l Location) FileName() string {
	return filepath.Base(l.FilePath)
}

// RangeText renders the location as "line:col" or "line:col-line:col".
func (l Location) RangeText() string {
	if l.EndLine == 0 {
		return fmt.Sprintf("%d:%d", l.Line, l.Column)
	}
	return fmt.Sprintf("%d:%d-%d:%d", l.Line, l.Column, l.EndLine, l.EndColumn)
}

// CodeError is the normalized, enriched representation of one diagnostic.
// Values are immutable after construction.
type CodeError struct {
	ID          string         `json:"id"`
	Message     string         `json:"message"`
	Severity    Severity       `json:"severity"`
	Category    Category       `json:"category"`
	Location    Location       `json:"location"`
	Code        string         `json:"code,omitempty"`
	Source      string         `json:"source,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	RelatedIDs  []string       `json:"related_ids,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// FromDiagnostic converts a raw diagnostic for the given file into a
// CodeError. Wire positions are 0-based and become 1-based here; severity is
// mapped from the numeric protocol code; the category is derived once and
// never recomputed.
func FromDiagnostic(filePath string, seq int, d lsp.Diagnostic) CodeError {
	loc := Location{
		FilePath: filePath,
		Line:     d.Range.Start.Line + 1,
		Column:   d.Range.Start.Character + 1,
	}
	if d.Range.End != d.Range.Start {
		loc.EndLine = d.Range.End.Line + 1
		loc.EndColumn = d.Range.End.Character + 1
	}

	err := CodeError{
		ID:        fmt.Sprintf("%s:%d:%d:%d", filePath, loc.Line, loc.Column, seq),
		Message:   d.Message,
		Severity:  mapSeverity(d.Severity),
		Category:  Classify(d.Source, d.Code, d.Message),
		Location:  loc,
		Code:      d.Code,
		Source:    d.Source,
		CreatedAt: time.Now().UTC(),
	}
	if len(d.Data) > 0 {
		err.Context = d.Data
	}
	return err
}

func mapSeverity(code int) Severity {
	switch code {
	case lsp.SeverityError:
		return SeverityError
	case lsp.SeverityWarning:
		return SeverityWarning
	case lsp.SeverityInfo:
		return SeverityInfo
	case lsp.SeverityHint:
		return SeverityHint
	default:
		return SeverityError
	}
}

// categoryKeywords is the classification policy: categories are checked in
// this exact order and the first keyword hit wins. Ambiguous diagnostics
// therefore classify by earliest category, and changing the order changes
// observable behavior.
var categoryKeywords = []struct {
	category Category
	words    []string
}{
	{CategorySyntax, []string{"syntax", "parse", "unexpected token", "indent", "unterminated"}},
	{CategoryType, []string{"type", "annotation", "attribute", "argument", "signature", "incompatible"}},
	{CategorySecurity, []string{"security", "injection", "unsafe", "vulnerab", "credential", "secret"}},
	{CategoryPerformance, []string{"performance", "slow", "inefficien", "complexity", "memory"}},
	{CategoryStyle, []string{"style", "convention", "format", "naming", "lint", "whitespace"}},
	{CategoryDependency, []string{"import", "module", "dependency", "package", "unresolved reference"}},
	{CategoryCompatibility, []string{"deprecat", "compatib", "version", "unsupported"}},
}

// Classify derives the category from the diagnostic's source, code, and
// message text. The keyword priority order is fixed; anything unmatched is
// a logic finding.
func Classify(source, code, message string) Category {
	text := strings.ToLower(source + " " + code + " " + message)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(text, w) {
				return ck.category
			}
		}
	}
	return CategoryLogic
}
