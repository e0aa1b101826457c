package moderation

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// Messages holds every user-facing string the pipeline emits. Templates may
// reference {user} and {reason}.
type Messages struct {
	DeleteReason      string `yaml:"delete_reason"`
	MuteReason        string `yaml:"mute_reason"`
	UniversalReason   string `yaml:"universal_reason"`
	NoticeTitle       string `yaml:"notice_title"`
	NoticeDescription string `yaml:"notice_description"`
}

// Render substitutes the placeholders of tmpl.
func (Messages) Render(tmpl, user, reason string) string {
	return strings.NewReplacer("{user}", user, "{reason}", reason).Replace(tmpl)
}

// RulesFile is the on-disk shape of a rules file.
type RulesFile struct {
	LinksDisabledReason string   `yaml:"links_disabled_reason"`
	Messages            Messages `yaml:"messages"`
	Gated               RuleSet  `yaml:"gated"`
	Universal           RuleSet  `yaml:"universal"`
}

// Rules is a compiled rules file. Universal is nil when the file declares
// no universal rules.
type Rules struct {
	Gated               *Matcher
	Universal           *Matcher
	LinksDisabledReason string
	Messages            Messages
}

// LoadRulesFile reads and compiles the rules file at path.
func LoadRulesFile(path string) (*Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("moderation: open rules: %w", err)
	}
	defer f.Close()
	return ParseRules(f)
}

// ParseRules decodes and compiles a rules file from r.
func ParseRules(r io.Reader) (*Rules, error) {
	var rf RulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return nil, fmt.Errorf("moderation: decode rules: %w", err)
	}
	return rf.Compile()
}

// Compile validates the file and builds its matchers.
func (rf RulesFile) Compile() (*Rules, error) {
	gated, err := NewMatcher(rf.Gated)
	if err != nil {
		return nil, fmt.Errorf("moderation: gated rules: %w", err)
	}

	rules := &Rules{
		Gated:               gated,
		LinksDisabledReason: rf.LinksDisabledReason,
		Messages:            rf.Messages,
	}
	if len(rf.Universal) > 0 {
		rules.Universal, err = NewMatcher(rf.Universal)
		if err != nil {
			return nil, fmt.Errorf("moderation: universal rules: %w", err)
		}
	}
	if rules.LinksDisabledReason == "" {
		return nil, fmt.Errorf("%w: links_disabled_reason is required", ErrInvalidRules)
	}
	if rules.Messages.DeleteReason == "" || rules.Messages.MuteReason == "" {
		return nil, fmt.Errorf("%w: delete_reason and mute_reason are required", ErrInvalidRules)
	}
	return rules, nil
}

// DefaultRules compiles the embedded rules file.
func DefaultRules() *Rules {
	rules, err := ParseRules(strings.NewReader(string(defaultRulesYAML)))
	if err != nil {
		panic(fmt.Sprintf("moderation: embedded rules: %v", err))
	}
	return rules
}
