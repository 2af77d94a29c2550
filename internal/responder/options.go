package responder

import (
	"github.com/hyperjump/kotoba/internal/hnsw"
	"go.uber.org/zap"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Without it the store logs nothing.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithChooser sets the function that picks which of n stored responses to
// return; it must return a value in [0, n). The default is uniform.
func WithChooser(choose func(n int) int) Option {
	return func(s *Store) { s.choose = choose }
}

// WithIndexOptions sets the HNSW construction parameters.
func WithIndexOptions(o hnsw.Options) Option {
	return func(s *Store) { s.indexOpts = o }
}

// WithEFSearch sets the candidate list size used by Respond.
func WithEFSearch(ef int) Option {
	return func(s *Store) { s.efSearch = ef }
}
