package analysis

import (
	"testing"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
)

func TestFromDiagnosticConvertsPositions(t *testing.T) {
	d := lsp.Diagnostic{
		Range: lsp.Range{
			Start: lsp.Position{Line: 5, Character: 2},
			End:   lsp.Position{Line: 5, Character: 14},
		},
		Severity: lsp.SeverityError,
		Message:  "undefined name 'foo'",
		Source:   "pyflakes",
	}

	e := FromDiagnostic("/work/app.py", 0, d)

	if e.Location.Line != 6 || e.Location.Column != 3 {
		t.Fatalf("expected 1-based (6,3), got (%d,%d)", e.Location.Line, e.Location.Column)
	}
	if e.Location.EndLine != 6 || e.Location.EndColumn != 15 {
		t.Fatalf("expected end (6,15), got (%d,%d)", e.Location.EndLine, e.Location.EndColumn)
	}
	if e.Severity != SeverityError {
		t.Fatalf("expected severity error, got %s", e.Severity)
	}
	if e.ID != "/work/app.py:6:3:0" {
		t.Fatalf("unexpected id %q", e.ID)
	}
}

func TestFromDiagnosticPointRange(t *testing.T) {
	d := lsp.Diagnostic{
		Range:    lsp.Range{Start: lsp.Position{Line: 0, Character: 0}, End: lsp.Position{Line: 0, Character: 0}},
		Severity: lsp.SeverityWarning,
		Message:  "unused variable",
	}

	e := FromDiagnostic("/work/app.py", 3, d)
	if e.Location.EndLine != 0 || e.Location.EndColumn != 0 {
		t.Fatalf("point range must leave end position empty, got (%d,%d)", e.Location.EndLine, e.Location.EndColumn)
	}
	if e.Location.RangeText() != "1:1" {
		t.Fatalf("expected range text 1:1, got %q", e.Location.RangeText())
	}
}

func TestFromDiagnosticUnknownSeverityDefaultsToError(t *testing.T) {
	d := lsp.Diagnostic{Severity: 0, Message: "something"}
	if e := FromDiagnostic("/work/a.py", 0, d); e.Severity != SeverityError {
		t.Fatalf("expected default severity error, got %s", e.Severity)
	}
}

func TestClassifyKeywordPriority(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		code    string
		message string
		want    Category
	}{
		{"syntax from message", "", "", "unexpected token at end of file", CategorySyntax},
		{"type from code", "mypy", "arg-type", "value has wrong shape", CategoryType},
		{"security", "bandit", "", "possible SQL injection", CategorySecurity},
		{"performance", "", "", "inefficient loop detected", CategoryPerformance},
		{"style", "ruff", "E501", "line formatting violates convention", CategoryStyle},
		{"dependency", "", "", "unresolved reference to requests", CategoryDependency},
		{"compatibility", "", "", "call is deprecated since 3.12", CategoryCompatibility},
		{"fallback logic", "", "", "branch can never execute", CategoryLogic},
		{"syntax beats type", "", "", "syntax error: bad type annotation", CategorySyntax},
		{"type beats style", "", "", "incompatible format string argument", CategoryType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.source, tt.code, tt.message); got != tt.want {
				t.Fatalf("Classify(%q,%q,%q) = %s, want %s", tt.source, tt.code, tt.message, got, tt.want)
			}
		})
	}
}

func TestLocationFileName(t *testing.T) {
	l := Location{FilePath: "/work/sub/app.py", Line: 3, Column: 1, EndLine: 4, EndColumn: 2}
	if l.FileName() != "app.py" {
		t.Fatalf("expected app.py, got %q", l.FileName())
	}
	if l.RangeText() != "3:1-4:2" {
		t.Fatalf("unexpected range text %q", l.RangeText())
	}
}
