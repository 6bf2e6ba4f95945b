package generator

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
)

func testSpec() *core.JobSpec {
	return &core.JobSpec{
		Name:               "gpfunction",
		DatasetName:        "higgs",
		TrainingRate:       0.5,
		FusionRate:         0.3,
		SampleRate:         0.1,
		ClassAttribute:     "label",
		ClassAttributeType: core.ValueTypeInteger,
		TrueClassValue:     1,
		AttributesRate:     0.5,
		RandomSeed:         0,
		Duration:           60,
		Threshold:          0.5,
		LearnersNumber:     10,
		LearnParameters: []core.LearnParameterSpec{
			{Name: "xover_op", Type: core.ValueTypeText, Values: []any{"SPUCrossover", "KozaCrossover"}},
			{Name: "cpp", Type: core.ValueTypeInteger, Values: []any{1, "2", 4.0}},
			{Name: "pop_size", Type: core.ValueTypeInteger, Range: &core.RangeSpec{Start: 1000, Stop: 2000, Step: 100}},
			{Name: "mutation_rate", Type: core.ValueTypeReal, Range: &core.RangeSpec{Start: 0.1, Stop: 1.0, Step: 0.001}},
		},
		PredictParameters: []core.PredictParameterSpec{
			{Name: "xover_op", Type: core.ValueTypeText, Value: "SPUCrossover"},
			{Name: "test_1", Type: core.ValueTypeReal, Value: "0.1"},
		},
	}
}

func encode(t *testing.T, tasks any) string {
	t.Helper()
	b, err := json.Marshal(tasks)
	require.NoError(t, err)
	return string(b)
}

func TestLearnerTaskGenerator_EmitsTasksInOrder(t *testing.T) {
	g, err := NewLearnerTaskGenerator(testSpec(), 0)
	require.NoError(t, err)
	require.Equal(t, 10, g.Len())

	tasks := Collect[LearnerTask](g)
	require.Len(t, tasks, 10)
	for i, task := range tasks {
		require.Equal(t, i, task.TaskNumber)
		require.Equal(t, "gpfunction", task.JobName)
		require.Equal(t, 60, task.Duration)
		require.Equal(t, 0.1, task.SampleRate)
		require.Len(t, task.LearnParameters, 4)
	}

	require.Equal(t, State{Phase: PhaseExhausted, Index: 10}, g.State())
	_, ok := g.Next()
	require.False(t, ok)
	_, ok = g.Next()
	require.False(t, ok)
}

func TestLearnerTaskGenerator_DrawsFromCandidates(t *testing.T) {
	g, err := NewLearnerTaskGenerator(testSpec(), 7)
	require.NoError(t, err)

	popSizes, err := core.ExpandRange(1000, 2000, 100, core.ValueTypeInteger)
	require.NoError(t, err)

	for task := range All[LearnerTask](g) {
		require.Contains(t, []any{"SPUCrossover", "KozaCrossover"}, task.LearnParameters["xover_op"])
		require.Contains(t, []any{int64(1), int64(2), int64(4)}, task.LearnParameters["cpp"])
		require.Contains(t, popSizes, task.LearnParameters["pop_size"])

		rate := task.LearnParameters["mutation_rate"].(float64)
		require.GreaterOrEqual(t, rate, 0.1)
		require.Less(t, rate, 1.0)
	}
}

func TestLearnerTaskGenerator_Deterministic(t *testing.T) {
	first, err := NewLearnerTaskGenerator(testSpec(), 42)
	require.NoError(t, err)
	second, err := NewLearnerTaskGenerator(testSpec(), 42)
	require.NoError(t, err)

	require.Equal(t, encode(t, Collect[LearnerTask](first)), encode(t, Collect[LearnerTask](second)))
}

func TestLearnerTaskGenerator_SeedChangesSequence(t *testing.T) {
	spec := testSpec()
	spec.LearnersNumber = 50

	a, err := NewLearnerTaskGenerator(spec, 1)
	require.NoError(t, err)
	b, err := NewLearnerTaskGenerator(spec, 2)
	require.NoError(t, err)

	require.NotEqual(t, encode(t, Collect[LearnerTask](a)), encode(t, Collect[LearnerTask](b)))
}

func TestLearnerTaskGenerator_ZeroTasks(t *testing.T) {
	spec := testSpec()
	spec.LearnersNumber = 0

	g, err := NewLearnerTaskGenerator(spec, 0)
	require.NoError(t, err)
	require.Empty(t, Collect[LearnerTask](g))
	require.Equal(t, PhaseExhausted, g.State().Phase)
}

func TestLearnerTaskGenerator_NoParameters(t *testing.T) {
	spec := testSpec()
	spec.LearnParameters = nil
	spec.LearnersNumber = 2

	g, err := NewLearnerTaskGenerator(spec, 0)
	require.NoError(t, err)
	tasks := Collect[LearnerTask](g)
	require.Len(t, tasks, 2)
	require.NotNil(t, tasks[0].LearnParameters)
	require.Contains(t, encode(t, tasks[0]), `"learn_parameters":{}`)
}

func TestLearnerTaskGenerator_ParameterErrors(t *testing.T) {
	tests := []struct {
		name  string
		param core.LearnParameterSpec
	}{
		{
			name:  "malformed value",
			param: core.LearnParameterSpec{Name: "cpp", Type: core.ValueTypeInteger, Values: []any{"one"}},
		},
		{
			name:  "text range",
			param: core.LearnParameterSpec{Name: "op", Type: core.ValueTypeText, Range: &core.RangeSpec{Start: "a", Stop: "b"}},
		},
		{
			name:  "empty range",
			param: core.LearnParameterSpec{Name: "pop_size", Type: core.ValueTypeInteger, Range: &core.RangeSpec{Start: 10, Stop: 10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testSpec()
			spec.LearnParameters = []core.LearnParameterSpec{tt.param}

			_, err := NewLearnerTaskGenerator(spec, 0)
			var pe *core.ParameterError
			require.True(t, errors.As(err, &pe))
			require.Equal(t, tt.param.Name, pe.Name)
		})
	}
}

func TestLearnerTaskGenerator_TasksDoNotAlias(t *testing.T) {
	spec := testSpec()
	spec.IncludeAttributes = []string{"a", "b"}

	g, err := NewLearnerTaskGenerator(spec, 0)
	require.NoError(t, err)
	tasks := Collect[LearnerTask](g)

	tasks[0].IncludeAttributes[0] = "changed"
	require.Equal(t, "a", tasks[1].IncludeAttributes[0])
	require.Equal(t, "a", spec.IncludeAttributes[0])
}

type countingResolver struct {
	core.Resolver
	converts int
	ranges   int
}

func (r *countingResolver) Convert(value any, valueType core.ValueType) (any, error) {
	r.converts++
	return r.Resolver.Convert(value, valueType)
}

func (r *countingResolver) ExpandRange(start, stop, step any, valueType core.ValueType) ([]any, error) {
	r.ranges++
	return r.Resolver.ExpandRange(start, stop, step, valueType)
}

func TestLearnerTaskGenerator_WithResolver(t *testing.T) {
	r := &countingResolver{Resolver: core.DefaultResolver}
	_, err := NewLearnerTaskGenerator(testSpec(), 0, WithResolver(r))
	require.NoError(t, err)
	require.Equal(t, 5, r.converts)
	require.Equal(t, 2, r.ranges)
}

func TestFilterTaskGenerator(t *testing.T) {
	g, err := NewFilterTaskGenerator(testSpec())
	require.NoError(t, err)
	require.Equal(t, State{Phase: PhaseActive, Index: 0}, g.State())

	task, ok := g.Next()
	require.True(t, ok)
	require.Equal(t, 10, task.LearnerOutputsNumber)
	require.Equal(t, 0.5, task.Threshold)
	require.Equal(t, "gpfunction", task.JobName)
	require.Equal(t, map[string]any{"xover_op": "SPUCrossover", "test_1": 0.1}, task.PredictParameters)

	_, ok = g.Next()
	require.False(t, ok)
	_, ok = g.Next()
	require.False(t, ok)
	require.Equal(t, PhaseExhausted, g.State().Phase)
}

func TestFuserTaskGenerator(t *testing.T) {
	g, err := NewFuserTaskGenerator(testSpec())
	require.NoError(t, err)

	tasks := Collect[FuserTask](g)
	require.Len(t, tasks, 1)
	require.Equal(t, map[string]any{"xover_op": "SPUCrossover", "test_1": 0.1}, tasks[0].PredictParameters)

	_, ok := g.Next()
	require.False(t, ok)
}

func TestPredictGenerators_IdenticalInputIdenticalTask(t *testing.T) {
	f1, err := NewFilterTaskGenerator(testSpec())
	require.NoError(t, err)
	f2, err := NewFilterTaskGenerator(testSpec())
	require.NoError(t, err)
	require.Equal(t, encode(t, Collect[FilterTask](f1)), encode(t, Collect[FilterTask](f2)))

	u1, err := NewFuserTaskGenerator(testSpec())
	require.NoError(t, err)
	u2, err := NewFuserTaskGenerator(testSpec())
	require.NoError(t, err)
	require.Equal(t, encode(t, Collect[FuserTask](u1)), encode(t, Collect[FuserTask](u2)))
}

func TestPredictGenerators_ParameterError(t *testing.T) {
	spec := testSpec()
	spec.PredictParameters = []core.PredictParameterSpec{{Name: "depth", Type: core.ValueTypeInteger, Value: "deep"}}

	_, err := NewFilterTaskGenerator(spec)
	var pe *core.ParameterError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "depth", pe.Name)

	_, err = NewFuserTaskGenerator(spec)
	require.ErrorAs(t, err, &pe)
}

func fieldNames(t *testing.T, task any) []string {
	t.Helper()
	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(encode(t, task)), &fields))
	return slices.Sorted(maps.Keys(fields))
}

func TestTaskWireFields(t *testing.T) {
	spec := testSpec()

	lg, err := NewLearnerTaskGenerator(spec, 0)
	require.NoError(t, err)
	learner, _ := lg.Next()
	require.Equal(t, []string{
		"attributes_rate", "class_attribute", "class_attribute_type", "dataset_name", "duration",
		"exclude_attributes", "fusion_rate", "include_attributes", "include_header", "job_name",
		"learn_parameters", "random_seed", "sample_rate", "task_number", "training_rate", "true_class_value",
	}, fieldNames(t, learner))

	fg, err := NewFilterTaskGenerator(spec)
	require.NoError(t, err)
	filter, _ := fg.Next()
	require.Equal(t, []string{
		"attributes_rate", "class_attribute", "class_attribute_type", "dataset_name",
		"exclude_attributes", "fusion_rate", "include_attributes", "include_header", "job_name",
		"learner_outputs_number", "predict_parameters", "random_seed", "threshold", "training_rate", "true_class_value",
	}, fieldNames(t, filter))

	ug, err := NewFuserTaskGenerator(spec)
	require.NoError(t, err)
	fuser, _ := ug.Next()
	require.Equal(t, []string{
		"attributes_rate", "class_attribute", "class_attribute_type", "dataset_name",
		"exclude_attributes", "fusion_rate", "include_attributes", "include_header", "job_name",
		"predict_parameters", "random_seed", "training_rate", "true_class_value",
	}, fieldNames(t, fuser))

	// nil attribute lists still go out as arrays
	require.Contains(t, encode(t, fuser), `"include_attributes":[]`)
	require.Contains(t, encode(t, fuser), `"exclude_attributes":[]`)
}

func TestAdvance(t *testing.T) {
	s := State{}
	s, ok := advance(s, 2)
	require.True(t, ok)
	require.Equal(t, State{Phase: PhaseActive, Index: 1}, s)

	s, ok = advance(s, 2)
	require.True(t, ok)
	require.Equal(t, State{Phase: PhaseActive, Index: 2}, s)

	s, ok = advance(s, 2)
	require.False(t, ok)
	require.Equal(t, State{Phase: PhaseExhausted, Index: 2}, s)

	s, ok = advance(s, 5)
	require.False(t, ok)
	require.Equal(t, PhaseExhausted, s.Phase)
}
