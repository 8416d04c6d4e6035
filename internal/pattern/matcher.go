// Package pattern decides whether a saved file should trigger a sync.
package pattern

import (
	"log/slog"

	"github.com/openmined/savesync/internal/settings"
)

// ShouldTrigger evaluates, in order: ignore rules, exclude patterns, include patterns.
// The first stage with a matching rule decides. rel is the slash-separated path
// relative to the workspace root. rules may be nil.
func ShouldTrigger(rel string, cfg settings.TriggerConfig, rules *IgnoreRuleSet) bool {
	if decided, keep := rules.Decide(rel); decided {
		return keep
	}

	for _, p := range cfg.ExcludePatterns {
		if matchPattern(p, rel, true) {
			return false
		}
	}

	for _, p := range cfg.Patterns {
		if IsUniversal(p) {
			return true
		}
	}

	for _, p := range cfg.Patterns {
		if matchPattern(p, rel, false) {
			return true
		}
	}
	return false
}

func matchPattern(p, rel string, tree bool) bool {
	g, err := CompileGlob(p)
	if err != nil {
		slog.Warn("trigger pattern skipped", "pattern", p, "error", err)
		return false
	}
	if tree {
		return g.MatchTree(rel)
	}
	return g.Match(rel)
}
