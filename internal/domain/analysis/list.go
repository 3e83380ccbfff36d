package analysis

import (
	"sort"
	"time"
)

// ComprehensiveErrorList owns a sequence of CodeError plus derived counts
// and the set of distinct files touched. The derived fields are recomputed
// on every mutation so they can never drift from the sequence.
type ComprehensiveErrorList struct {
	Errors        []CodeError   `json:"errors"`
	TotalCount    int           `json:"total_count"`
	CriticalCount int           `json:"critical_count"`
	WarningCount  int           `json:"warning_count"`
	InfoCount     int           `json:"info_count"`
	Files         []string      `json:"files"`
	RetrievedAt   time.Time     `json:"retrieved_at"`
	Duration      time.Duration `json:"duration"`
}

// NewErrorList builds a list from the given errors and computes the
// derived fields.
func NewErrorList(errs []CodeError) *ComprehensiveErrorList {
	l := &ComprehensiveErrorList{RetrievedAt: time.Now().UTC()}
	l.SetErrors(errs)
	return l
}

// SetErrors replaces the sequence and recomputes all derived fields.
func (l *ComprehensiveErrorList) SetErrors(errs []CodeError) {
	l.Errors = errs
	l.recount()
}

// Add appends errors and recomputes the derived fields.
func (l *ComprehensiveErrorList) Add(errs ...CodeError) {
	l.Errors = append(l.Errors, errs...)
	l.recount()
}

// ForFile returns the subset of errors located in the given file.
func (l *ComprehensiveErrorList) ForFile(path string) []CodeError {
	var out []CodeError
	for _, e := range l.Errors {
		if e.Location.FilePath == path {
			out = append(out, e)
		}
	}
	return out
}

// BySeverity returns the subset of errors with the given severity.
func (l *ComprehensiveErrorList) BySeverity(s Severity) []CodeError {
	var out []CodeError
	for _, e := range l.Errors {
		if e.Severity == s {
			out = append(out, e)
		}
	}
	return out
}

// recount rebuilds counts and the distinct-file set from the sequence.
func (l *ComprehensiveErrorList) recount() {
	l.TotalCount = len(l.Errors)
	l.CriticalCount = 0
	l.WarningCount = 0
	l.InfoCount = 0

	seen := make(map[string]struct{}, len(l.Errors))
	for _, e := range l.Errors {
		switch e.Severity {
		case SeverityError:
			l.CriticalCount++
		case SeverityWarning:
			l.WarningCount++
		default:
			l.InfoCount++
		}
		seen[e.Location.FilePath] = struct{}{}
	}

	l.Files = l.Files[:0]
	for f := range seen {
		l.Files = append(l.Files, f)
	}
	sort.Strings(l.Files)
}
