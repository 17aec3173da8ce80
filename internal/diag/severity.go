package diag

import (
	"strings"

	"github.com/checksift/sift/internal/model"
)

// NormalizeSeverity converts various tool severity spellings to the
// consistent all-caps short forms INFO, WARN, and ERROR.
func NormalizeSeverity(severity string) string {
	normalized := strings.ToUpper(strings.TrimSpace(severity))

	switch normalized {
	case "INFO", "INFORMATION", "NOTE", "NOTICE", "HINT", "STYLE", "CONVENTION", "REFACTOR":
		return "INFO"
	case "WARN", "WARNING", "MINOR", "WRN":
		return "WARN"
	case "ERROR", "ERR", "FATAL", "CRITICAL", "MAJOR", "FAILURE":
		return "ERROR"
	default:
		if len(normalized) >= 4 {
			switch normalized[:4] {
			case "INFO", "NOTE":
				return "INFO"
			case "WARN":
				return "WARN"
			case "ERRO", "FATA", "CRIT":
				return "ERROR"
			}
		}
		// A linter emitted it for a reason.
		return "WARN"
	}
}

// SeverityFromRule derives a severity from a rule-code prefix, covering the
// flake8/pycodestyle/pyflakes and pylint code families:
//
//	E, F       errors (pycodestyle errors, pyflakes failures)
//	W          warnings
//	C, R, N, D conventions, refactors, naming, docstrings
func SeverityFromRule(rule string) string {
	if rule == "" {
		return "WARN"
	}
	switch rule[0] {
	case 'E', 'F':
		return "ERROR"
	case 'W':
		return "WARN"
	case 'C', 'R', 'N', 'D', 'I':
		return "INFO"
	default:
		return "WARN"
	}
}

// SevNum maps a normalized severity to its numeric value.
func SevNum(severity string) int {
	switch severity {
	case "INFO":
		return model.SevNumInfo
	case "WARN":
		return model.SevNumWarn
	case "ERROR":
		return model.SevNumError
	default:
		return model.SevNumWarn
	}
}
