package generator

import (
	"errors"
	"math/rand/v2"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
)

// pcgStream is the fixed PCG increment; the job seed alone picks the stream.
const pcgStream = 0x9e3779b97f4a7c15

var errEmptyCandidates = errors.New("no candidate values")

type candidates struct {
	name   string
	values []any
}

// LearnerTaskGenerator emits LearnersNumber tasks, each drawing one value per
// learn parameter from a single seeded stream. Two generators built from the
// same job and seed yield identical sequences.
type LearnerTaskGenerator struct {
	dataset    Dataset
	sampleRate float64
	duration   int
	total      int

	params []candidates
	rng    *rand.Rand
	state  State
}

// NewLearnerTaskGenerator resolves every candidate set up front, so a
// malformed parameter fails here rather than halfway through the sequence.
func NewLearnerTaskGenerator(spec *core.JobSpec, seed int64, opts ...Option) (*LearnerTaskGenerator, error) {
	o := buildOptions(opts)

	params := make([]candidates, 0, len(spec.LearnParameters))
	for _, p := range spec.LearnParameters {
		values, err := resolveCandidates(o.resolver, p)
		if err != nil {
			return nil, core.WithName(err, p.Name)
		}
		if len(values) == 0 {
			return nil, &core.ParameterError{Name: p.Name, Type: p.Type, Err: errEmptyCandidates}
		}
		params = append(params, candidates{name: p.Name, values: values})
	}

	return &LearnerTaskGenerator{
		dataset:    datasetOf(spec),
		sampleRate: spec.SampleRate,
		duration:   spec.Duration,
		total:      spec.LearnersNumber,
		params:     params,
		rng:        rand.New(rand.NewPCG(uint64(seed), pcgStream)),
	}, nil
}

func resolveCandidates(resolver core.Resolver, p core.LearnParameterSpec) ([]any, error) {
	if p.Range != nil {
		return resolver.ExpandRange(p.Range.Start, p.Range.Stop, p.Range.Step, p.Type)
	}
	values := make([]any, 0, len(p.Values))
	for _, raw := range p.Values {
		v, err := resolver.Convert(raw, p.Type)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (g *LearnerTaskGenerator) Next() (LearnerTask, bool) {
	next, ok := advance(g.state, g.total)
	if !ok {
		g.state = next
		return LearnerTask{}, false
	}

	task := LearnerTask{
		TaskNumber:      g.state.Index,
		SampleRate:      g.sampleRate,
		Duration:        g.duration,
		Dataset:         g.dataset.clone(),
		LearnParameters: g.draw(),
	}
	g.state = next
	return task, true
}

// draw consumes exactly one value from the stream per parameter, in
// declaration order.
func (g *LearnerTaskGenerator) draw() map[string]any {
	params := make(map[string]any, len(g.params))
	for _, p := range g.params {
		params[p.name] = p.values[g.rng.IntN(len(p.values))]
	}
	return params
}

func (g *LearnerTaskGenerator) State() State {
	return g.state
}

func (g *LearnerTaskGenerator) Len() int {
	return g.total
}
