package errors

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Severity represents the severity of a diagnostic.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Diagnostic is a single message reported by the script evaluator.
type Diagnostic struct {
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// String formats the diagnostic the way compilers usually print them.
func (d Diagnostic) String() string {
	location := d.File
	if location != "" && d.Line > 0 {
		location += fmt.Sprintf(":%d", d.Line)
		if d.Column > 0 {
			location += fmt.Sprintf(":%d", d.Column)
		}
	}

	if location == "" {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}

	return fmt.Sprintf("%s: %s: %s", location, d.Severity, d.Message)
}

type diagnosticPattern struct {
	regex       *regexp.Regexp
	parseFields func(matches []string) Diagnostic
}

var diagnosticPatterns = []diagnosticPattern{
	{
		// report.kts:3:5: error: unresolved reference: foo
		regex: regexp.MustCompile(`^(.+?):(\d+):(\d+): (error|warning|info|e|w|i): (.+)$`),
		parseFields: func(m []string) Diagnostic {
			line, _ := strconv.Atoi(m[2])
			column, _ := strconv.Atoi(m[3])
			return Diagnostic{File: m[1], Line: line, Column: column, Severity: parseSeverity(m[4]), Message: m[5]}
		},
	},
	{
		// report.kts:3: warning: deprecated
		regex: regexp.MustCompile(`^(.+?):(\d+): (error|warning|info|e|w|i): (.+)$`),
		parseFields: func(m []string) Diagnostic {
			line, _ := strconv.Atoi(m[2])
			return Diagnostic{File: m[1], Line: line, Severity: parseSeverity(m[3]), Message: m[4]}
		},
	},
	{
		// error: script does not compile
		regex: regexp.MustCompile(`^(error|warning|info): (.+)$`),
		parseFields: func(m []string) Diagnostic {
			return Diagnostic{Severity: parseSeverity(m[1]), Message: m[2]}
		},
	},
}

func parseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "error", "e":
		return SeverityError
	case "warning", "w":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// ParseDiagnostics parses evaluator output into structured diagnostics.
// Lines that match no known pattern but mention an error or exception are
// kept as unlocated errors; everything else is dropped.
func ParseDiagnostics(output string) []Diagnostic {
	var diags []Diagnostic

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if d, ok := parseLine(line); ok {
			diags = append(diags, d)
			continue
		}

		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "exception") {
			diags = append(diags, Diagnostic{Severity: SeverityError, Message: line})
		}
	}

	return diags
}

func parseLine(line string) (Diagnostic, bool) {
	for _, pattern := range diagnosticPatterns {
		if m := pattern.regex.FindStringSubmatch(line); m != nil {
			return pattern.parseFields(m), true
		}
	}
	return Diagnostic{}, false
}

// FilterSeverity keeps diagnostics at or above min.
func FilterSeverity(diags []Diagnostic, min Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity >= min {
			out = append(out, d)
		}
	}
	return out
}
