// Package promptwrap applies model-family chat framing to raw prompts.
//
// A Wrapper loads its ordered rule list on first use and keeps it for the rest
// of its lifetime; there is no invalidation. Callers share one Wrapper per
// process. Concurrent first calls may each hit the rule store; the first
// successful load stored wins and later loads are discarded. Failed loads are
// not cached, so the next call tries again.
package promptwrap

import (
	"context"
	"errors"
	"sync"

	"github.com/animus-labs/modelgate/internal/domain"
)

// Loader fetches the raw rule document.
type Loader interface {
	Load(ctx context.Context) ([]byte, error)
}

type Wrapper struct {
	loader Loader

	mu    sync.RWMutex
	rules []compiledRule
}

func New(loader Loader) *Wrapper {
	return &Wrapper{loader: loader}
}

// NewStatic returns a Wrapper already populated with rules.
func NewStatic(rules []Rule) (*Wrapper, error) {
	compiled, err := compile(rules)
	if err != nil {
		return nil, &domain.ConfigurationError{Err: err}
	}
	return &Wrapper{rules: compiled}, nil
}

// Wrap returns prefix + text + suffix for the first rule matching modelID.
func (w *Wrapper) Wrap(ctx context.Context, modelID, text string) (string, error) {
	rules, err := w.load(ctx)
	if err != nil {
		return "", err
	}
	for _, rule := range rules {
		if rule.re.MatchString(modelID) {
			return rule.prefix + text + rule.suffix, nil
		}
	}
	return "", &domain.NoMatchError{ModelID: modelID}
}

// Loaded reports whether the rule cache is populated.
func (w *Wrapper) Loaded() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rules != nil
}

func (w *Wrapper) load(ctx context.Context) ([]compiledRule, error) {
	w.mu.RLock()
	rules := w.rules
	w.mu.RUnlock()
	if rules != nil {
		return rules, nil
	}

	if w.loader == nil {
		return nil, &domain.ConfigurationError{Err: errors.New("no rule loader configured")}
	}
	raw, err := w.loader.Load(ctx)
	if err != nil {
		return nil, &domain.ConfigurationError{Err: err}
	}
	parsed, err := ParseRules(raw)
	if err != nil {
		return nil, &domain.ConfigurationError{Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rules == nil {
		w.rules = parsed
	}
	return w.rules, nil
}
