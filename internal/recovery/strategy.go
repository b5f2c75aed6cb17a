package recovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/vietddude/deadletter/internal/core/domain"
)

// ErrDuplicateStrategy is returned when two strategies share a name.
var ErrDuplicateStrategy = errors.New("duplicate strategy name")

// Strategy is a named, conditionally applicable recovery procedure.
//
// Recover returns true when the failed operation was completed. A false result,
// with or without an error, is a logical failure that consumes one retry.
// Errors wrapped with Fault mark infrastructure faults instead: the attempt is
// not counted and the job is handed back to the worker pool.
type Strategy interface {
	Name() string
	Description() string

	// Priority orders selection, lower runs first
	Priority() int

	// RetryDelay is the minimum wait before the next attempt after a failure
	RetryDelay() time.Duration

	// MaxRetries is an advisory budget shown to operators
	MaxRetries() int

	Matches(m *domain.Message) bool
	Recover(ctx context.Context, m *domain.Message) (bool, error)
}

type faultError struct {
	err error
}

func (f *faultError) Error() string { return "infrastructure fault: " + f.err.Error() }
func (f *faultError) Unwrap() error { return f.err }

// Fault marks err as an infrastructure fault rather than a recovery failure.
func Fault(err error) error {
	if err == nil {
		return nil
	}
	return &faultError{err: err}
}

// IsFault reports whether err, or anything it wraps, was marked with Fault.
func IsFault(err error) bool {
	var f *faultError
	return errors.As(err, &f)
}

// Registry is the ordered, read-only set of strategies.
type Registry struct {
	strategies []Strategy
}

// NewRegistry orders strategies by priority. Equal priorities keep the given
// order, and Select returns the first match.
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	seen := make(map[string]struct{}, len(strategies))
	for _, s := range strategies {
		if _, ok := seen[s.Name()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStrategy, s.Name())
		}
		seen[s.Name()] = struct{}{}
	}

	ordered := slices.Clone(strategies)
	slices.SortStableFunc(ordered, func(a, b Strategy) int {
		return a.Priority() - b.Priority()
	})
	return &Registry{strategies: ordered}, nil
}

// Select returns the first strategy that applies to m.
func (r *Registry) Select(m *domain.Message) (Strategy, bool) {
	for _, s := range r.strategies {
		if s.Matches(m) {
			return s, true
		}
	}
	return nil, false
}

// Lookup finds a strategy by name.
func (r *Registry) Lookup(name string) (Strategy, bool) {
	for _, s := range r.strategies {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// List returns the strategies in selection order.
func (r *Registry) List() []Strategy {
	return slices.Clone(r.strategies)
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	return len(r.strategies)
}
