// Package moderation classifies chat messages against ordered sets of
// link rules. A Matcher is built once from a RuleSet and is safe for
// concurrent use; it never mutates after construction.
package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRules is returned when a RuleSet cannot be compiled into a
// Matcher. Callers treat it as fatal at startup.
var ErrInvalidRules = errors.New("moderation: invalid rule set")

// Rule is one category of forbidden links. The category doubles as the
// human-readable reason shown to moderators and offenders.
type Rule struct {
	Category string   `yaml:"category"`
	Patterns []string `yaml:"patterns"`
}

// RuleSet is an ordered list of rules. Categories are evaluated in
// declaration order and the first category with a matching pattern wins.
type RuleSet []Rule

// Verdict is the outcome of inspecting a message.
type Verdict struct {
	HasLink  bool
	Matched  bool
	Category string
}

type compiledRule struct {
	category string
	patterns []*regexp.Regexp
}

// Matcher evaluates normalized message text against a compiled RuleSet.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles every pattern in rs. An empty rule set, a rule with
// no category or patterns, or an invalid expression is an error.
func NewMatcher(rs RuleSet) (*Matcher, error) {
	if len(rs) == 0 {
		return nil, fmt.Errorf("%w: no rules", ErrInvalidRules)
	}

	seen := make(map[string]bool, len(rs))
	m := &Matcher{rules: make([]compiledRule, 0, len(rs))}
	for i, r := range rs {
		category := strings.TrimSpace(r.Category)
		if category == "" {
			return nil, fmt.Errorf("%w: rule %d has no category", ErrInvalidRules, i)
		}
		if seen[category] {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrInvalidRules, category)
		}
		seen[category] = true
		if len(r.Patterns) == 0 {
			return nil, fmt.Errorf("%w: category %q has no patterns", ErrInvalidRules, category)
		}

		cr := compiledRule{category: category, patterns: make([]*regexp.Regexp, 0, len(r.Patterns))}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("%w: category %q pattern %q: %v", ErrInvalidRules, category, p, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		m.rules = append(m.rules, cr)
	}
	return m, nil
}

// Normalize case-folds text. Whitespace and punctuation are preserved so
// that prose such as "hola. estoy aquí" never collapses into a hostname.
func Normalize(text string) string {
	return strings.ToLower(text)
}

// Inspect normalizes text, evaluates the link predicate once and, only if
// a link is present, returns the first matching category.
func (m *Matcher) Inspect(text string) Verdict {
	norm := Normalize(text)
	if !ContainsLink(norm) {
		return Verdict{}
	}

	v := Verdict{HasLink: true}
	if category, ok := m.match(norm); ok {
		v.Matched = true
		v.Category = category
	}
	return v
}

// Classify returns the first category whose patterns match text, or false
// when the message has no link or no category matches.
func (m *Matcher) Classify(text string) (string, bool) {
	v := m.Inspect(text)
	return v.Category, v.Matched
}

// Categories lists the category names in evaluation order.
func (m *Matcher) Categories() []string {
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.category
	}
	return out
}

func (m *Matcher) match(norm string) (string, bool) {
	for _, r := range m.rules {
		for _, re := range r.patterns {
			if re.MatchString(norm) {
				return r.category, true
			}
		}
	}
	return "", false
}
