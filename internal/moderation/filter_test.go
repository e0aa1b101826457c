package moderation

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func testRuleSet() RuleSet {
	return RuleSet{
		{Category: "invite", Patterns: []string{`discord\.gg/\w+`, `discord\.com/invite/\w+`}},
		{Category: "profile", Patterns: []string{`instagram\.com/[\w._]+/?$`, `discord\.gg/special`}},
		{Category: "docs", Patterns: []string{`docs\.google\.com/document/d/`}},
	}
}

func TestNewMatcher_Invalid(t *testing.T) {
	tests := []struct {
		name string
		rs   RuleSet
	}{
		{"empty set", RuleSet{}},
		{"empty category", RuleSet{{Category: "  ", Patterns: []string{"a"}}}},
		{"no patterns", RuleSet{{Category: "x"}}},
		{"bad regex", RuleSet{{Category: "x", Patterns: []string{"("}}}},
		{"duplicate category", RuleSet{{Category: "x", Patterns: []string{"a"}}, {Category: "x", Patterns: []string{"b"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMatcher(tt.rs)
			if err == nil {
				t.Fatalf("NewMatcher() = %v, want error", m)
			}
			if !errors.Is(err, ErrInvalidRules) {
				t.Errorf("error %v does not wrap ErrInvalidRules", err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	m := mustMatcher(t, testRuleSet())

	tests := []struct {
		name     string
		input    string
		category string
		ok       bool
	}{
		{"invite with scheme", "check this out http://discord.gg/abc123", "invite", true},
		{"invite without scheme", "join discord.gg/abc123 now", "invite", true},
		{"invite upper case", "JOIN DISCORD.GG/ABC123", "invite", true},
		{"first category wins", "discord.gg/special", "invite", true},
		{"profile", "follow me https://instagram.com/someone", "profile", true},
		{"docs", "see https://docs.google.com/document/d/xyz/edit", "docs", true},
		{"allowed link", "read https://go.dev/doc", "", false},
		{"no link", "hola. estoy aquí", "", false},
		{"decimal", "pi is 3.14 and version v2.0", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, ok := m.Classify(tt.input)
			if ok != tt.ok {
				t.Fatalf("Classify(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if category != tt.category {
				t.Errorf("Classify(%q) = %q, want %q", tt.input, category, tt.category)
			}
		})
	}
}

func TestInspect_NoLinkSkipsPatterns(t *testing.T) {
	// The pattern would match the bare word, but without a link nothing is
	// evaluated.
	m := mustMatcher(t, RuleSet{{Category: "word", Patterns: []string{`spam`}}})

	v := m.Inspect("this is spam without any url")
	if v.HasLink || v.Matched {
		t.Fatalf("Inspect() = %+v, want zero verdict", v)
	}

	v = m.Inspect("spam at https://example.com")
	if !v.HasLink || !v.Matched || v.Category != "word" {
		t.Fatalf("Inspect() = %+v, want match on word", v)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	m := mustMatcher(t, testRuleSet())
	input := "http://discord.gg/abc123"

	first, _ := m.Classify(input)
	for i := 0; i < 10; i++ {
		if got, _ := m.Classify(input); got != first {
			t.Fatalf("call %d: Classify() = %q, want %q", i, got, first)
		}
	}
}

func TestClassify_Concurrent(t *testing.T) {
	m := mustMatcher(t, testRuleSet())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, ok := m.Classify("discord.gg/abc"); !ok || got != "invite" {
				t.Errorf("Classify() = %q, %v", got, ok)
			}
		}()
	}
	wg.Wait()
}

func TestNormalize_OnlyCaseFolds(t *testing.T) {
	in := "Hola. Estoy  AQUÍ"
	got := Normalize(in)
	if got != strings.ToLower(in) {
		t.Errorf("Normalize(%q) = %q", in, got)
	}
	if !strings.Contains(got, ". ") {
		t.Errorf("Normalize stripped whitespace: %q", got)
	}
}

func TestCategories_Order(t *testing.T) {
	m := mustMatcher(t, testRuleSet())
	got := m.Categories()
	want := []string{"invite", "profile", "docs"}
	if len(got) != len(want) {
		t.Fatalf("Categories() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Categories()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func mustMatcher(t *testing.T, rs RuleSet) *Matcher {
	t.Helper()
	m, err := NewMatcher(rs)
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}
	return m
}
