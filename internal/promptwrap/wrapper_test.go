package promptwrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/animus-labs/modelgate/internal/domain"
)

type countingLoader struct {
	calls atomic.Int32
	raw   []byte
	err   error
}

func (l *countingLoader) Load(ctx context.Context) ([]byte, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.raw, nil
}

const anthropicRules = `{"rules":[
	{"match":"^anthropic\\.","prefix":"Human: ","suffix":"\n\nAssistant:"},
	{"match":"^amazon\\.nova","prefix":"","suffix":""}
]}`

func TestWrap_AnthropicFraming(t *testing.T) {
	w := New(&countingLoader{raw: []byte(anthropicRules)})

	got, err := w.Wrap(context.Background(), "anthropic.claude-x", "hi")
	if err != nil {
		t.Fatalf("Wrap() err=%v", err)
	}
	if want := "Human: hi\n\nAssistant:"; got != want {
		t.Fatalf("Wrap()=%q, want %q", got, want)
	}
}

func TestWrap_StaticRules(t *testing.T) {
	w, err := NewStatic([]Rule{{Match: `^anthropic\.`, Prefix: "Human: ", Suffix: "\n\nAssistant:"}})
	if err != nil {
		t.Fatalf("NewStatic() err=%v", err)
	}
	got, err := w.Wrap(context.Background(), "anthropic.claude-x", "hi")
	if err != nil || got != "Human: hi\n\nAssistant:" {
		t.Fatalf("Wrap()=%q err=%v", got, err)
	}
}

func TestWrap_FirstMatchWins(t *testing.T) {
	w, err := NewStatic([]Rule{
		{Match: `^meta\.llama3`, Prefix: "[L3]", Suffix: "[/L3]"},
		{Match: `^meta\.`, Prefix: "[META]", Suffix: "[/META]"},
	})
	if err != nil {
		t.Fatalf("NewStatic() err=%v", err)
	}
	got, _ := w.Wrap(context.Background(), "meta.llama3-70b", "q")
	if got != "[L3]q[/L3]" {
		t.Fatalf("Wrap()=%q, want first matching rule", got)
	}
}

func TestWrap_NoMatch(t *testing.T) {
	w := New(&countingLoader{raw: []byte(anthropicRules)})

	_, err := w.Wrap(context.Background(), "cohere.command-r", "hi")
	var noMatch *domain.NoMatchError
	if !errors.As(err, &noMatch) {
		t.Fatalf("Wrap() err=%v, want NoMatchError", err)
	}
	if noMatch.ModelID != "cohere.command-r" {
		t.Fatalf("NoMatchError.ModelID=%q", noMatch.ModelID)
	}
}

func TestWrap_LoadsOnce(t *testing.T) {
	loader := &countingLoader{raw: []byte(anthropicRules)}
	w := New(loader)
	if w.Loaded() {
		t.Fatalf("rules loaded before first use")
	}

	for i := 0; i < 5; i++ {
		if _, err := w.Wrap(context.Background(), "anthropic.claude-x", "hi"); err != nil {
			t.Fatalf("Wrap() err=%v", err)
		}
	}
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("loader calls=%d, want 1", got)
	}
	if !w.Loaded() {
		t.Fatalf("expected rules cached")
	}
}

func TestWrap_ConcurrentFirstAccess(t *testing.T) {
	loader := &countingLoader{raw: []byte(anthropicRules)}
	w := New(loader)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.Wrap(context.Background(), "anthropic.claude-x", "hi")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d err=%v", i, err)
		}
	}
	if calls := loader.calls.Load(); calls < 1 || calls > 16 {
		t.Fatalf("loader calls=%d out of range", calls)
	}
}

func TestWrap_ConfigurationErrors(t *testing.T) {
	cases := map[string]*countingLoader{
		"unreachable": {err: errors.New("connection refused")},
		"malformed":   {raw: []byte(`{"rules":`)},
		"empty":       {raw: []byte(`{"rules":[]}`)},
		"bad pattern": {raw: []byte(`{"rules":[{"match":"(","prefix":"","suffix":""}]}`)},
	}
	for name, loader := range cases {
		t.Run(name, func(t *testing.T) {
			w := New(loader)
			_, err := w.Wrap(context.Background(), "anthropic.claude-x", "hi")
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Wrap() err=%v, want ConfigurationError", err)
			}
			if w.Loaded() {
				t.Fatalf("failed load must not be cached")
			}
		})
	}
}

func TestWrap_RetriesAfterFailedLoad(t *testing.T) {
	loader := &countingLoader{err: errors.New("timeout")}
	w := New(loader)
	if _, err := w.Wrap(context.Background(), "anthropic.claude-x", "hi"); err == nil {
		t.Fatalf("expected first call to fail")
	}

	loader.err = nil
	loader.raw = []byte(anthropicRules)
	if _, err := w.Wrap(context.Background(), "anthropic.claude-x", "hi"); err != nil {
		t.Fatalf("Wrap() after recovery err=%v", err)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("loader calls=%d, want 2", got)
	}
}

func TestParseRules_YAML(t *testing.T) {
	doc := []byte("rules:\n  - match: '^mistral\\.'\n    prefix: \"<s>[INST] \"\n    suffix: \" [/INST]\"\n")
	rules, err := ParseRules(doc)
	if err != nil {
		t.Fatalf("ParseRules() err=%v", err)
	}
	if len(rules) != 1 || !rules[0].re.MatchString("mistral.large") {
		t.Fatalf("unexpected rules: %+v", rules)
	}
	if rules[0].prefix != "<s>[INST] " || rules[0].suffix != " [/INST]" {
		t.Fatalf("prefix=%q suffix=%q", rules[0].prefix, rules[0].suffix)
	}
}

func TestFileLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte(anthropicRules), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	w := New(FileLoader{Path: path})
	if _, err := w.Wrap(context.Background(), "amazon.nova-lite-v1:0", "hi"); err != nil {
		t.Fatalf("Wrap() err=%v", err)
	}
}
