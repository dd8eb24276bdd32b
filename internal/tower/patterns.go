package tower

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/asheshgoplani/agent-tower/internal/logging"
)

var patternLog = logging.ForComponent(logging.CompStatus)

// RawMatchers holds string-form classification patterns before compilation.
// Patterns prefixed with "re:" are compiled as regex; everything else is a
// case-insensitive substring match. The set is configuration data, not
// code, so new agent signatures don't require a rebuild.
type RawMatchers struct {
	Error      []string
	Permission []string
	Deploy     []string
}

// DefaultRawMatchers returns the built-in signatures for Claude-Code-style
// agent sessions.
func DefaultRawMatchers() *RawMatchers {
	return &RawMatchers{
		Error: []string{
			"FAILED",
			"Error:",
			"Traceback (most recent call last)",
			`re:error\[E\d+\]`, // Rust errors
			"npm ERR!",
			`re:exit code [1-9]`,
			"Command failed",
		},
		Permission: []string{
			"Do you want to",
			"Allow?",
			"Proceed?",
			"Continue?",
			"Are you sure",
			"[y/N]",
			"[Y/n]",
		},
		Deploy: []string{
			"Ready to deploy",
			"push to production",
			`re:(?i)deploy (to|now|this)\?`,
		},
	}
}

// kindMatcher is one compiled precedence rank: every pattern in it maps to
// the same EventKind and target state.
type kindMatcher struct {
	kind    EventKind
	state   State
	strs    []string // lowercased substrings
	regexps []*regexp.Regexp
}

// ResolvedMatchers is the compiled, precedence-ordered matcher list.
// Earlier ranks win: error beats permission beats deploy, so a failure
// mid-approval is reported as a failure.
type ResolvedMatchers struct {
	ranks []kindMatcher
}

// MatchResult describes the first rank that matched.
type MatchResult struct {
	Kind     EventKind
	State    State
	KeyLines []string
}

// CompileMatchers compiles raw patterns into a ResolvedMatchers. Invalid
// regex patterns are logged and skipped, never fatal.
func CompileMatchers(raw *RawMatchers) (*ResolvedMatchers, error) {
	if raw == nil {
		return nil, fmt.Errorf("nil RawMatchers")
	}

	compile := func(kind EventKind, state State, patterns []string) kindMatcher {
		m := kindMatcher{kind: kind, state: state}
		for _, p := range patterns {
			if strings.HasPrefix(p, "re:") {
				re, err := regexp.Compile("(?i)" + p[3:])
				if err != nil {
					patternLog.Warn("invalid_pattern_regex",
						slog.String("kind", string(kind)),
						slog.String("pattern", p),
						slog.String("error", err.Error()))
					continue
				}
				m.regexps = append(m.regexps, re)
			} else {
				m.strs = append(m.strs, strings.ToLower(p))
			}
		}
		return m
	}

	return &ResolvedMatchers{
		ranks: []kindMatcher{
			compile(EventError, StateFailed, raw.Error),
			compile(EventPermission, StateWaiting, raw.Permission),
			compile(EventDeploy, StateWaiting, raw.Deploy),
		},
	}, nil
}

// Match scans text line by line against each rank in precedence order and
// returns the first rank that matches, with up to maxKeyLines matching
// lines as context. Returns nil when nothing matches.
func (m *ResolvedMatchers) Match(text string) *MatchResult {
	lines := strings.Split(text, "\n")
	const maxKeyLines = 5

	for _, rank := range m.ranks {
		var keyLines []string
		for _, line := range lines {
			if rank.matchesLine(line) {
				if trimmed := strings.TrimSpace(line); trimmed != "" {
					keyLines = append(keyLines, trimmed)
				}
				if len(keyLines) >= maxKeyLines {
					break
				}
			}
		}
		if len(keyLines) > 0 {
			return &MatchResult{
				Kind:     rank.kind,
				State:    rank.state,
				KeyLines: keyLines,
			}
		}
	}
	return nil
}

func (km kindMatcher) matchesLine(line string) bool {
	lower := strings.ToLower(line)
	for _, s := range km.strs {
		if strings.Contains(lower, s) {
			return true
		}
	}
	for _, re := range km.regexps {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// MergeRawMatchers merges defaults with overrides and extras.
//   - If overrides has a field set (non-nil slice, even if empty), it
//     replaces the default.
//   - extras fields are appended to the result.
func MergeRawMatchers(defaults, overrides, extras *RawMatchers) *RawMatchers {
	result := &RawMatchers{}

	if defaults != nil {
		result.Error = copySlice(defaults.Error)
		result.Permission = copySlice(defaults.Permission)
		result.Deploy = copySlice(defaults.Deploy)
	}

	if overrides != nil {
		if overrides.Error != nil {
			result.Error = copySlice(overrides.Error)
		}
		if overrides.Permission != nil {
			result.Permission = copySlice(overrides.Permission)
		}
		if overrides.Deploy != nil {
			result.Deploy = copySlice(overrides.Deploy)
		}
	}

	if extras != nil {
		result.Error = append(result.Error, extras.Error...)
		result.Permission = append(result.Permission, extras.Permission...)
		result.Deploy = append(result.Deploy, extras.Deploy...)
	}

	return result
}

func copySlice(s []string) []string {
	if s == nil {
		return nil
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}
