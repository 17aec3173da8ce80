// Package patterns clusters finding messages into templates by masking
// variable tokens. Messages that differ only in numbers, paths, or quoted
// values collapse into a single template with a count.
package patterns

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Pattern is one message template with its occurrence stats.
type Pattern struct {
	Template   string
	Count      int
	Percentage float64
}

var (
	quotedPattern = regexp.MustCompile(`'[^']*'|"[^"]*"` + "|`[^`]*`")
	numberPattern = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	hexPattern    = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b|\b[0-9a-f]{8,}\b`)
	pathPattern   = regexp.MustCompile(`(\.{0,2}/)?([\w.-]+/)+[\w.-]+`)
)

// Miner accumulates masked message templates. Safe for concurrent use.
type Miner struct {
	mu       sync.Mutex
	clusters map[string]int
	total    int
}

// NewMiner creates an empty pattern miner.
func NewMiner() *Miner {
	return &Miner{clusters: make(map[string]int)}
}

// AddMessage masks the variable parts of a message and records its template.
// Blank messages are skipped.
func (m *Miner) AddMessage(message string) {
	template := Mask(message)
	if template == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusters[template]++
	m.total++
}

// TopPatterns returns up to limit templates sorted by count descending.
// Ties break alphabetically so the ordering is stable.
func (m *Miner) TopPatterns(limit int) []Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || m.total == 0 {
		return nil
	}

	patterns := make([]Pattern, 0, len(m.clusters))
	for template, count := range m.clusters {
		patterns = append(patterns, Pattern{
			Template:   template,
			Count:      count,
			Percentage: float64(count) * 100.0 / float64(m.total),
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Template < patterns[j].Template
	})

	if len(patterns) > limit {
		patterns = patterns[:limit]
	}
	return patterns
}

// Stats returns the number of distinct templates and total messages seen.
func (m *Miner) Stats() (patternCount, totalMessages int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clusters), m.total
}

// Reset clears all accumulated templates.
func (m *Miner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusters = make(map[string]int)
	m.total = 0
}

// Mask replaces the variable parts of a message with placeholders:
// quoted values become <val>, file paths become <path>, hex ids become
// <id>, and numbers become <n>. The result is whitespace-normalized.
func Mask(message string) string {
	masked := strings.TrimSpace(message)
	if masked == "" {
		return ""
	}

	masked = quotedPattern.ReplaceAllString(masked, "<val>")
	masked = pathPattern.ReplaceAllString(masked, "<path>")
	masked = hexPattern.ReplaceAllString(masked, "<id>")
	masked = numberPattern.ReplaceAllString(masked, "<n>")

	return strings.Join(strings.Fields(masked), " ")
}
