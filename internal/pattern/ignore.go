package pattern

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// IgnoreRuleSet holds the rules of an ignore file. Negated rules (!pattern)
// take precedence over positive ones regardless of their order in the file.
type IgnoreRuleSet struct {
	positive []*Glob
	negative []*Glob
}

// ParseIgnoreRules builds a rule set from ignore-file content.
func ParseIgnoreRules(content string) *IgnoreRuleSet {
	rules := &IgnoreRuleSet{}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		negated := false
		switch {
		case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
			line = line[1:]
		case strings.HasPrefix(line, "!"):
			negated = true
			line = line[1:]
		}

		g, err := CompileGlob(line)
		if err != nil {
			slog.Warn("ignore rule skipped", "rule", line, "error", err)
			continue
		}

		if negated {
			rules.negative = append(rules.negative, g)
		} else {
			rules.positive = append(rules.positive, g)
		}
	}

	return rules
}

// LoadIgnoreFile reads and parses an ignore file. A missing file yields nil rules and no error.
func LoadIgnoreFile(path string) (*IgnoreRuleSet, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read ignore file: %w", err)
	}

	rules := ParseIgnoreRules(string(data))
	slog.Debug("ignore rules loaded", "path", path, "positive", len(rules.positive), "negative", len(rules.negative))
	return rules, nil
}

// IsIgnored reports whether rel is ignored by the rule set.
func (r *IgnoreRuleSet) IsIgnored(rel string) bool {
	decided, keep := r.Decide(rel)
	return decided && !keep
}

// Decide reports whether any rule matches rel and, if one does, whether rel is kept.
// A matching negated rule keeps rel, otherwise a matching positive rule drops it.
func (r *IgnoreRuleSet) Decide(rel string) (decided, keep bool) {
	if r == nil {
		return false, false
	}

	for _, g := range r.negative {
		if g.MatchTree(rel) {
			return true, true
		}
	}
	for _, g := range r.positive {
		if g.MatchTree(rel) {
			return true, false
		}
	}
	return false, false
}

func (r *IgnoreRuleSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.positive) + len(r.negative)
}
