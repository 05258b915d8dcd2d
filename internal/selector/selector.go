// Package selector mints the run identifier and picks the dataset references
// every evaluator branch receives.
package selector

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/modelgate/internal/domain"
)

// DefaultMaxKeys bounds the dataset listing.
const DefaultMaxKeys = 1000

// DatasetLister lists dataset object keys.
type DatasetLister interface {
	ListKeys(ctx context.Context, bucket, prefix string, maxKeys int) ([]string, error)
}

type Selector struct {
	lister  DatasetLister
	bucket  string
	prefix  string
	maxKeys int
	newID   func() string
}

type Option func(*Selector)

// WithPrefix restricts the listing to keys under prefix.
func WithPrefix(prefix string) Option {
	return func(s *Selector) { s.prefix = prefix }
}

func WithMaxKeys(n int) Option {
	return func(s *Selector) {
		if n > 0 {
			s.maxKeys = n
		}
	}
}

// WithIDGenerator replaces uuid.NewString for minted run ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Selector) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func New(lister DatasetLister, bucket string, opts ...Option) *Selector {
	s := &Selector{
		lister:  lister,
		bucket:  bucket,
		maxKeys: DefaultMaxKeys,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select propagates the trigger's run id when present, otherwise mints one,
// and lists the dataset keys verbatim. A listing failure is a
// DatasetUnavailableError; no partial dataset is ever returned.
func (s *Selector) Select(ctx context.Context, trigger domain.Trigger) (domain.Selection, error) {
	runID := strings.TrimSpace(trigger.RunID)
	if runID == "" {
		runID = s.newID()
	}
	if s.lister == nil {
		return domain.Selection{}, &domain.DatasetUnavailableError{Err: errors.New("no dataset lister configured")}
	}

	keys, err := s.lister.ListKeys(ctx, s.bucket, s.prefix, s.maxKeys)
	if err != nil {
		return domain.Selection{}, &domain.DatasetUnavailableError{Err: err}
	}
	if len(keys) > s.maxKeys {
		keys = keys[:s.maxKeys]
	}
	if keys == nil {
		keys = []string{}
	}
	return domain.Selection{RunID: runID, DatasetKeys: keys}, nil
}
