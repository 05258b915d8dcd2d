package inference

import (
	"fmt"
	"regexp"
	"strings"
)

type Shape string

const (
	ShapeChat       Shape = "chat"
	ShapeCompletion Shape = "completion"
)

func ParseShape(v string) (Shape, error) {
	switch Shape(strings.ToLower(strings.TrimSpace(v))) {
	case ShapeChat:
		return ShapeChat, nil
	case ShapeCompletion:
		return ShapeCompletion, nil
	default:
		return "", fmt.Errorf("unsupported request shape %q", v)
	}
}

type ShapeRule struct {
	Match string
	Shape Shape
}

type shapeRule struct {
	re    *regexp.Regexp
	shape Shape
}

// ShapeRouter picks the request shape for a model id: first matching rule,
// otherwise the default.
type ShapeRouter struct {
	def   Shape
	rules []shapeRule
}

func NewShapeRouter(def Shape, rules ...ShapeRule) (*ShapeRouter, error) {
	if _, err := ParseShape(string(def)); err != nil {
		return nil, err
	}
	out := make([]shapeRule, 0, len(rules))
	for i, rule := range rules {
		shape, err := ParseShape(string(rule.Shape))
		if err != nil {
			return nil, fmt.Errorf("shape rule %d: %w", i, err)
		}
		re, err := regexp.Compile(rule.Match)
		if err != nil {
			return nil, fmt.Errorf("shape rule %d: %w", i, err)
		}
		out = append(out, shapeRule{re: re, shape: shape})
	}
	return &ShapeRouter{def: def, rules: out}, nil
}

func (r *ShapeRouter) ShapeFor(modelID string) Shape {
	if r == nil {
		return ShapeChat
	}
	for _, rule := range r.rules {
		if rule.re.MatchString(modelID) {
			return rule.shape
		}
	}
	return r.def
}

// ParseShapeRules reads "pattern=shape" entries.
func ParseShapeRules(entries []string) ([]ShapeRule, error) {
	rules := make([]ShapeRule, 0, len(entries))
	for _, entry := range entries {
		idx := strings.LastIndex(entry, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("shape rule %q must be pattern=shape", entry)
		}
		shape, err := ParseShape(entry[idx+1:])
		if err != nil {
			return nil, err
		}
		rules = append(rules, ShapeRule{Match: strings.TrimSpace(entry[:idx]), Shape: shape})
	}
	return rules, nil
}
