// Package safety implements the path and content filters that keep
// sensitive material out of the index: a gitignore-style path
// filter, and a content scanner that rejects files matching known-secret
// patterns. Rejections are counted as skipped files, never hard failures.
package safety

import (
	"bufio"
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPathPatterns are excluded regardless of project-level configuration:
// dotfiles, env files, and the generated/vendored directories every Rust
// project accumulates. Callers append project-specific patterns on top.
var DefaultPathPatterns = []string{
	".git/**",
	".*", // dotfiles and dotdirs at any depth component
	"**/.*",
	"*.env",
	".env*",
	"**/target/**", // cargo build output
	"**/node_modules/**",
	"vendor/**",
	"*.lock",
}

// DefaultSecretPatterns are regexes over raw file content. They are
// deliberately conservative (prefix/header matches) to keep the false
// positive rate low; the full list is injected configuration, these are
// just the defaults.
var DefaultSecretPatterns = []string{
	`AKIA[0-9A-Z]{16}`, // AWS access key id
	`-----BEGIN (RSA|EC|OPENSSH|DSA|PGP) PRIVATE KEY-----`,
	`sk-[a-zA-Z0-9]{20,}`,          // OpenAI-style secret key
	`ghp_[a-zA-Z0-9]{36}`,          // GitHub personal access token
	`xox[baprs]-[0-9a-zA-Z-]{10,}`, // Slack token
}

// matcherCacheSize bounds the memory a long-running process spends
// caching compiled path matchers.
const matcherCacheSize = 1000

// PathFilter decides whether a relative path should be indexed at all.
type PathFilter struct {
	patterns []*globPattern
	cache    *lru.Cache[string, bool]
	mu       sync.RWMutex
}

// NewPathFilter compiles patterns (gitignore-style globs) into a filter.
// Invalid patterns are skipped rather than failing filter construction,
// since a malformed project-supplied pattern shouldn't block indexing.
func NewPathFilter(patterns []string) *PathFilter {
	pf := &PathFilter{}
	for _, p := range patterns {
		if gp := compileGlob(p); gp != nil {
			pf.patterns = append(pf.patterns, gp)
		}
	}
	cache, err := lru.New[string, bool](matcherCacheSize)
	if err == nil {
		pf.cache = cache
	}
	return pf
}

// Reject reports whether relPath should be excluded from indexing.
func (pf *PathFilter) Reject(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	if pf.cache != nil {
		pf.mu.RLock()
		if v, ok := pf.cache.Get(relPath); ok {
			pf.mu.RUnlock()
			return v
		}
		pf.mu.RUnlock()
	}

	rejected := false
	for _, gp := range pf.patterns {
		if gp.match(relPath) {
			rejected = true
			break
		}
	}

	if pf.cache != nil {
		pf.mu.Lock()
		pf.cache.Add(relPath, rejected)
		pf.mu.Unlock()
	}
	return rejected
}

// globPattern is a compiled gitignore-flavored pattern: '**' matches any
// number of path segments, '*' matches within one segment, a leading '/'
// (or containing '/') anchors to the root instead of matching at any depth.
type globPattern struct {
	re       *regexp.Regexp
	anchored bool
}

func compileGlob(pattern string) *globPattern {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return nil
	}
	anchored := strings.Contains(strings.TrimPrefix(pattern, "/"), "/")
	trimmed := strings.TrimPrefix(pattern, "/")
	trimmed = strings.TrimSuffix(trimmed, "/")

	var b strings.Builder
	b.WriteString("^")
	runes := []rune(trimmed)
	for i := 0; i < len(runes); i++ {
		switch {
		case i+1 < len(runes) && runes[i] == '*' && runes[i+1] == '*':
			b.WriteString(".*")
			i++
		case runes[i] == '*':
			b.WriteString("[^/]*")
		case runes[i] == '?':
			b.WriteString("[^/]")
		case runes[i] == '.':
			b.WriteString(`\.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	b.WriteString("(/.*)?$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil
	}
	return &globPattern{re: re, anchored: anchored}
}

func (gp *globPattern) match(relPath string) bool {
	if gp.anchored {
		return gp.re.MatchString(relPath)
	}
	segments := strings.Split(relPath, "/")
	for i := range segments {
		suffix := strings.Join(segments[i:], "/")
		if gp.re.MatchString(suffix) {
			return true
		}
	}
	return false
}

// SecretScanner rejects file content matching any configured secret regex.
type SecretScanner struct {
	patterns []*regexp.Regexp
}

// NewSecretScanner compiles patterns; invalid ones are dropped silently
// (same reasoning as NewPathFilter: a bad injected pattern must not stop
// indexing altogether).
func NewSecretScanner(patterns []string) *SecretScanner {
	s := &SecretScanner{}
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			s.patterns = append(s.patterns, re)
		}
	}
	return s
}

// Scan reports whether content matches a known secret pattern, and which
// pattern matched first (for logging).
func (s *SecretScanner) Scan(content []byte) (hit bool, pattern string) {
	// Secrets are typically single-line; scanning line by line keeps the
	// match position meaningful and avoids catastrophic regex blowup on
	// huge multi-megabyte generated files.
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		for _, re := range s.patterns {
			if re.Match(line) {
				return true, re.String()
			}
		}
	}
	return false, ""
}

// Filters bundles the path and content filters the indexing pipeline
// consults for every candidate file.
type Filters struct {
	Path   *PathFilter
	Secret *SecretScanner
}

// New builds the default filter set, optionally extended with project
// path-exclude patterns.
func New(extraPathPatterns []string) *Filters {
	all := make([]string, 0, len(DefaultPathPatterns)+len(extraPathPatterns))
	all = append(all, DefaultPathPatterns...)
	all = append(all, extraPathPatterns...)
	return &Filters{
		Path:   NewPathFilter(all),
		Secret: NewSecretScanner(DefaultSecretPatterns),
	}
}
