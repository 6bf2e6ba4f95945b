// Package generator expands a job into the finite task sequences of each
// role. Generators are not restartable: replaying a sequence means building
// a new generator from the same job and seed.
package generator

import (
	"iter"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
)

type Generator[T any] interface {
	// Next returns the next task, or false once the sequence is exhausted.
	// Every call after exhaustion keeps returning false.
	Next() (T, bool)
	State() State
}

type Phase int

const (
	PhaseActive Phase = iota
	PhaseExhausted
)

func (p Phase) String() string {
	if p == PhaseExhausted {
		return "exhausted"
	}
	return "active"
}

// State is Active(Index) while Index < total, then Exhausted. Single-task
// generators run with total = 1, so Active(0) is their pending state.
type State struct {
	Phase Phase
	Index int
}

// advance reports whether s emits a task and returns the state that follows.
func advance(s State, total int) (State, bool) {
	if s.Phase == PhaseExhausted || s.Index >= total {
		return State{Phase: PhaseExhausted, Index: s.Index}, false
	}
	return State{Phase: PhaseActive, Index: s.Index + 1}, true
}

// Collect drains g into a slice.
func Collect[T any](g Generator[T]) []T {
	var tasks []T
	for task := range All(g) {
		tasks = append(tasks, task)
	}
	return tasks
}

func All[T any](g Generator[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			task, ok := g.Next()
			if !ok || !yield(task) {
				return
			}
		}
	}
}

type options struct {
	resolver core.Resolver
}

type Option func(*options)

// WithResolver replaces core.DefaultResolver.
func WithResolver(r core.Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

func buildOptions(opts []Option) options {
	o := options{resolver: core.DefaultResolver}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// predictParameters converts each declared value verbatim, with no sampling.
func predictParameters(resolver core.Resolver, specs []core.PredictParameterSpec) (map[string]any, error) {
	params := make(map[string]any, len(specs))
	for _, p := range specs {
		v, err := resolver.Convert(p.Value, p.Type)
		if err != nil {
			return nil, core.WithName(err, p.Name)
		}
		params[p.Name] = v
	}
	return params, nil
}
