package diag

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/checksift/sift/internal/model"
)

// ruleCodePattern matches flake8-style output: "path:line:col: CODE message".
// The colon after the column is optional because pycodestyle omits it in
// some report formats.
var ruleCodePattern = regexp.MustCompile(`^(.+?):(\d+):(\d+):?\s+([A-Z]{1,3}\d{1,4})\s+(.+)$`)

// severityWordPattern matches gcc/clang-style output:
// "path:line:col: severity: message" (column optional).
var severityWordPattern = regexp.MustCompile(`^(.+?):(\d+)(?::(\d+))?:\s*(error|warning|note|info|fatal error)\s*:\s*(.+)$`)

// ParseLine parses one diagnostic line into a Finding. It recognizes
// flake8-style rule-code lines, gcc-style severity lines, and single-line
// JSON diagnostic objects. Returns nil when the line matches none of these.
func ParseLine(line string) *model.Finding {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "{") {
		if f := ParseJSONDiagnostic(trimmed); f != nil {
			return f
		}
	}

	if m := ruleCodePattern.FindStringSubmatch(trimmed); m != nil {
		lineNo, _ := strconv.Atoi(m[2])
		colNo, _ := strconv.Atoi(m[3])
		severity := SeverityFromRule(m[4])
		return &model.Finding{
			Timestamp: time.Now(),
			Rule:      m[4],
			Severity:  severity,
			SevNum:    SevNum(severity),
			File:      m[1],
			Line:      lineNo,
			Col:       colNo,
			Message:   m[5],
			RawLine:   line,
		}
	}

	if m := severityWordPattern.FindStringSubmatch(trimmed); m != nil {
		lineNo, _ := strconv.Atoi(m[2])
		colNo := 0
		if m[3] != "" {
			colNo, _ = strconv.Atoi(m[3])
		}
		severity := NormalizeSeverity(m[4])
		return &model.Finding{
			Timestamp: time.Now(),
			Severity:  severity,
			SevNum:    SevNum(severity),
			File:      m[1],
			Line:      lineNo,
			Col:       colNo,
			Message:   m[5],
			RawLine:   line,
		}
	}

	return nil
}

// ParseJSONDiagnostic parses a JSON object into a Finding. It accepts the
// loose shapes emitted by common linters' JSON reporters: file/path/filename,
// line/row, col/column, severity/level/type, rule/code/check, message/msg/text.
// Unrecognized scalar fields are preserved as attributes.
func ParseJSONDiagnostic(line string) *model.Finding {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil
	}

	message := firstString(raw, "message", "msg", "text", "description")
	if message == "" {
		return nil
	}

	severity := NormalizeSeverity(firstString(raw, "severity", "level", "type"))
	rule := firstString(raw, "rule", "code", "check_id", "rule_id")
	if s := firstString(raw, "severity", "level", "type"); s == "" && rule != "" {
		severity = SeverityFromRule(rule)
	}

	f := &model.Finding{
		Timestamp: time.Now(),
		Rule:      rule,
		Severity:  severity,
		SevNum:    SevNum(severity),
		File:      firstString(raw, "file", "path", "filename", "file_path"),
		Line:      firstInt(raw, "line", "row", "line_number"),
		Col:       firstInt(raw, "col", "column", "column_number"),
		Message:   message,
		RawLine:   line,
	}

	if ts := firstString(raw, "timestamp", "time"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			f.Timestamp = parsed
		}
	}
	if p := firstString(raw, "project", "app"); p != "" {
		f.Project = p
	}
	if c := firstString(raw, "tool", "linter", "check"); c != "" {
		f.Check = c
	}

	f.Attributes = collectAttributes(raw)
	return f
}

// Fallback wraps an unparseable line as an INFO finding with no position.
func Fallback(line string) *model.Finding {
	return &model.Finding{
		Timestamp: time.Now(),
		Severity:  "INFO",
		SevNum:    SevNum("INFO"),
		Message:   strings.TrimSpace(line),
		RawLine:   line,
	}
}

// knownKeys are consumed into Finding fields and excluded from attributes.
var knownKeys = map[string]bool{
	"message": true, "msg": true, "text": true, "description": true,
	"severity": true, "level": true, "type": true,
	"rule": true, "code": true, "check_id": true, "rule_id": true,
	"file": true, "path": true, "filename": true, "file_path": true,
	"line": true, "row": true, "line_number": true,
	"col": true, "column": true, "column_number": true,
	"timestamp": true, "time": true,
	"project": true, "app": true,
	"tool": true, "linter": true, "check": true,
}

func collectAttributes(raw map[string]interface{}) map[string]string {
	var attrs map[string]string
	for k, v := range raw {
		if knownKeys[k] {
			continue
		}
		var val string
		switch t := v.(type) {
		case string:
			val = t
		case float64:
			val = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			val = strconv.FormatBool(t)
		default:
			continue
		}
		if attrs == nil {
			attrs = make(map[string]string)
		}
		attrs[k] = val
	}
	return attrs
}

func firstString(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstInt(raw map[string]interface{}, keys ...string) int {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}
