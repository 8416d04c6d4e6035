package pattern

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

const globCacheSize = 1024

var globCache, _ = lru.New[string, *Glob](globCacheSize)

// Glob is a compiled path pattern.
//
//	foo.py     basename match anywhere in the tree
//	build/     the directory build (anywhere) and everything below it
//	/dist      anchored to the workspace root
//	src/*.go   patterns containing a slash are relative to the root
type Glob struct {
	raw     string
	expr    string
	dirOnly bool
}

// CompileGlob parses a pattern. Results are cached, so callers may compile on every match.
func CompileGlob(pattern string) (*Glob, error) {
	if g, ok := globCache.Get(pattern); ok {
		return g, nil
	}

	expr := pattern
	dirOnly := strings.HasSuffix(expr, "/")
	expr = strings.TrimRight(expr, "/")

	anchored := strings.HasPrefix(expr, "/")
	expr = strings.TrimLeft(expr, "/")

	if expr == "" {
		return nil, fmt.Errorf("empty pattern %q", pattern)
	}
	if !anchored && !strings.Contains(expr, "/") {
		expr = "**/" + expr
	}
	if !doublestar.ValidatePattern(expr) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}

	g := &Glob{raw: pattern, expr: expr, dirOnly: dirOnly}
	globCache.Add(pattern, g)
	return g, nil
}

func (g *Glob) String() string {
	return g.raw
}

// Match reports whether the slash-separated relative path matches the pattern.
// A directory pattern matches anything inside a matching directory.
func (g *Glob) Match(rel string) bool {
	rel = clean(rel)
	if g.dirOnly {
		return g.matchParents(rel)
	}
	return g.matchExpr(rel)
}

// MatchTree is like Match but also matches when any parent directory matches,
// which is how ignore and exclude rules treat directories.
func (g *Glob) MatchTree(rel string) bool {
	rel = clean(rel)
	if !g.dirOnly && g.matchExpr(rel) {
		return true
	}
	return g.matchParents(rel)
}

func (g *Glob) matchParents(rel string) bool {
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if g.matchExpr(dir) {
			return true
		}
	}
	return false
}

func (g *Glob) matchExpr(rel string) bool {
	ok, err := doublestar.Match(g.expr, rel)
	return err == nil && ok
}

func clean(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	return rel
}

// IsUniversal reports whether the pattern matches every path.
func IsUniversal(pattern string) bool {
	return pattern == "*" || pattern == "**" || pattern == "**/*"
}
