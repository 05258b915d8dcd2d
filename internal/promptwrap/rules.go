package promptwrap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule frames prompts for every model id matching Match.
type Rule struct {
	Match  string `json:"match" yaml:"match"`
	Prefix string `json:"prefix" yaml:"prefix"`
	Suffix string `json:"suffix" yaml:"suffix"`
}

// Document is the rule store payload.
type Document struct {
	Rules []Rule `json:"rules" yaml:"rules"`
}

type compiledRule struct {
	re     *regexp.Regexp
	prefix string
	suffix string
}

// ParseRules decodes a JSON or YAML rule document and compiles the patterns.
// Rule order is preserved.
func ParseRules(raw []byte) ([]compiledRule, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty rule document")
	}

	var doc Document
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode rules: %w", err)
		}
	} else if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return compile(doc.Rules)
}

func compile(rules []Rule) ([]compiledRule, error) {
	if len(rules) == 0 {
		return nil, errors.New("rules must be non-empty")
	}
	out := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		pattern := strings.TrimSpace(rule.Match)
		if pattern == "" {
			return nil, fmt.Errorf("rules[%d].match is required", i)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("rules[%d].match: %w", i, err)
		}
		out = append(out, compiledRule{re: re, prefix: rule.Prefix, suffix: rule.Suffix})
	}
	return out, nil
}
