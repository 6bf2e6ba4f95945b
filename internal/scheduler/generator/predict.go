package generator

import (
	"maps"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
)

// FilterTaskGenerator emits the single filter task of a job.
type FilterTaskGenerator struct {
	task  FilterTask
	state State
}

func NewFilterTaskGenerator(spec *core.JobSpec, opts ...Option) (*FilterTaskGenerator, error) {
	o := buildOptions(opts)
	params, err := predictParameters(o.resolver, spec.PredictParameters)
	if err != nil {
		return nil, err
	}
	return &FilterTaskGenerator{
		task: FilterTask{
			LearnerOutputsNumber: spec.LearnersNumber,
			Threshold:            spec.Threshold,
			Dataset:              datasetOf(spec),
			PredictParameters:    params,
		},
	}, nil
}

func (g *FilterTaskGenerator) Next() (FilterTask, bool) {
	var ok bool
	if g.state, ok = advance(g.state, 1); !ok {
		return FilterTask{}, false
	}
	task := g.task
	task.Dataset = task.Dataset.clone()
	task.PredictParameters = maps.Clone(task.PredictParameters)
	return task, true
}

func (g *FilterTaskGenerator) State() State {
	return g.state
}

// FuserTaskGenerator emits the single fuser task of a job.
type FuserTaskGenerator struct {
	task  FuserTask
	state State
}

func NewFuserTaskGenerator(spec *core.JobSpec, opts ...Option) (*FuserTaskGenerator, error) {
	o := buildOptions(opts)
	params, err := predictParameters(o.resolver, spec.PredictParameters)
	if err != nil {
		return nil, err
	}
	return &FuserTaskGenerator{
		task: FuserTask{
			Dataset:           datasetOf(spec),
			PredictParameters: params,
		},
	}, nil
}

func (g *FuserTaskGenerator) Next() (FuserTask, bool) {
	var ok bool
	if g.state, ok = advance(g.state, 1); !ok {
		return FuserTask{}, false
	}
	task := g.task
	task.Dataset = task.Dataset.clone()
	task.PredictParameters = maps.Clone(task.PredictParameters)
	return task, true
}

func (g *FuserTaskGenerator) State() State {
	return g.state
}
