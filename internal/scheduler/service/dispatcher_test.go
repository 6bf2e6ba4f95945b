package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/scheduler/internal/scheduler/broker/brokertest"
	"github.com/nemanja-m/scheduler/internal/scheduler/core"
)

// mockLogger is a no-op logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any) {}
func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Warn(msg string, args ...any)  {}
func (m *mockLogger) Error(msg string, args ...any) {}
func (m *mockLogger) Fatal(msg string, args ...any) {}

var (
	learnerFields = []string{
		"job_name", "task_number", "dataset_name", "training_rate", "fusion_rate", "sample_rate",
		"class_attribute", "class_attribute_type", "true_class_value", "include_attributes",
		"exclude_attributes", "attributes_rate", "random_seed", "include_header", "duration",
		"learn_parameters",
	}
	filterFields = []string{
		"job_name", "learner_outputs_number", "dataset_name", "training_rate", "fusion_rate",
		"class_attribute", "class_attribute_type", "true_class_value", "include_attributes",
		"exclude_attributes", "attributes_rate", "random_seed", "include_header", "threshold",
		"predict_parameters",
	}
	fuserFields = []string{
		"job_name", "dataset_name", "training_rate", "fusion_rate", "class_attribute",
		"class_attribute_type", "true_class_value", "include_attributes", "exclude_attributes",
		"attributes_rate", "random_seed", "include_header", "predict_parameters",
	}
)

func gpfunctionSpec() *core.JobSpec {
	return &core.JobSpec{
		Name:               "gpfunction",
		DatasetName:        "higgs",
		TrainingRate:       0.5,
		FusionRate:         0.3,
		SampleRate:         0.1,
		ClassAttribute:     "label",
		ClassAttributeType: core.ValueTypeInteger,
		TrueClassValue:     1,
		AttributesRate:     1,
		RandomSeed:         0,
		IncludeHeader:      true,
		Duration:           60,
		Threshold:          0.5,
		LearnersNumber:     10,
		LearnParameters: []core.LearnParameterSpec{
			{Name: "xover_op", Type: core.ValueTypeText, Values: []any{"SPUCrossover", "KozaCrossover"}},
			{Name: "pop_size", Type: core.ValueTypeInteger, Range: &core.RangeSpec{Start: 1000, Stop: 2000, Step: 100}},
		},
		PredictParameters: []core.PredictParameterSpec{
			{Name: "xover_op", Type: core.ValueTypeText, Value: "SPUCrossover"},
		},
	}
}

func newDispatcher(t *testing.T) (*Dispatcher, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewDispatcher(&mockLogger{}, WithMetrics(metrics)), metrics
}

func decodeAll(t *testing.T, msgs []amqp.Publishing) []map[string]any {
	t.Helper()
	out := make([]map[string]any, 0, len(msgs))
	for _, msg := range msgs {
		var m map[string]any
		require.NoError(t, json.Unmarshal(msg.Body, &m))
		out = append(out, m)
	}
	return out
}

func TestDispatcher_Dispatch(t *testing.T) {
	b := brokertest.NewBroker()
	client := b.Client()
	defer client.Close()
	d, metrics := newDispatcher(t)

	result, err := d.Dispatch(context.Background(), client, gpfunctionSpec())
	require.NoError(t, err)

	require.Equal(t, "gpfunction", result.JobName)
	require.Equal(t, map[core.Role]string{
		core.RoleLearner: "gpfunction@learner.tasks",
		core.RoleFilter:  "gpfunction@filter.tasks",
		core.RoleFuser:   "gpfunction@fuser.tasks",
	}, result.Queues)
	require.Equal(t, map[core.Role]int{
		core.RoleLearner: 10,
		core.RoleFilter:  1,
		core.RoleFuser:   1,
	}, result.Published)
	require.Equal(t, []string{
		"gpfunction@filter.tasks",
		"gpfunction@fuser.tasks",
		"gpfunction@learner.tasks",
	}, b.Queues())

	learners := decodeAll(t, b.Ready("gpfunction@learner.tasks"))
	require.Len(t, learners, 10)
	for i, task := range learners {
		require.ElementsMatch(t, learnerFields, slices.Collect(maps.Keys(task)))
		require.Equal(t, float64(i), task["task_number"])
		params := task["learn_parameters"].(map[string]any)
		require.Contains(t, []any{"SPUCrossover", "KozaCrossover"}, params["xover_op"])
		pop := params["pop_size"].(float64)
		require.True(t, pop >= 1000 && pop < 2000 && int(pop)%100 == 0, "pop_size %v", pop)
	}

	filters := decodeAll(t, b.Ready("gpfunction@filter.tasks"))
	require.Len(t, filters, 1)
	require.ElementsMatch(t, filterFields, slices.Collect(maps.Keys(filters[0])))
	require.Equal(t, float64(10), filters[0]["learner_outputs_number"])
	require.Equal(t, map[string]any{"xover_op": "SPUCrossover"}, filters[0]["predict_parameters"])

	fusers := decodeAll(t, b.Ready("gpfunction@fuser.tasks"))
	require.Len(t, fusers, 1)
	require.ElementsMatch(t, fuserFields, slices.Collect(maps.Keys(fusers[0])))

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.jobs.WithLabelValues(resultSuccess)))
	require.Equal(t, float64(10), testutil.ToFloat64(metrics.tasks.WithLabelValues("learner")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.tasks.WithLabelValues("fuser")))
}

func TestDispatcher_Deterministic(t *testing.T) {
	bodies := func() [][]byte {
		b := brokertest.NewBroker()
		client := b.Client()
		defer client.Close()
		d, _ := newDispatcher(t)
		_, err := d.Dispatch(context.Background(), client, gpfunctionSpec())
		require.NoError(t, err)

		var out [][]byte
		for _, msg := range b.Ready("gpfunction@learner.tasks") {
			out = append(out, msg.Body)
		}
		return out
	}
	require.Equal(t, bodies(), bodies())
}

func TestDispatcher_InvalidJob(t *testing.T) {
	b := brokertest.NewBroker()
	client := b.Client()
	defer client.Close()
	d, metrics := newDispatcher(t)

	spec := gpfunctionSpec()
	spec.Name = "bad@name"
	_, err := d.Dispatch(context.Background(), client, spec)
	require.ErrorIs(t, err, core.ErrInvalidJob)
	require.Empty(t, b.Queues())
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.jobs.WithLabelValues(resultInvalid)))
}

func TestDispatcher_ParameterError(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(spec *core.JobSpec)
		wantName string
		wantRole core.Role
	}{
		{
			name: "learn parameter",
			mutate: func(spec *core.JobSpec) {
				spec.LearnParameters = append(spec.LearnParameters, core.LearnParameterSpec{
					Name: "cpp", Type: core.ValueTypeInteger, Values: []any{"many"},
				})
			},
			wantName: "cpp",
			wantRole: core.RoleLearner,
		},
		{
			name: "predict parameter",
			mutate: func(spec *core.JobSpec) {
				spec.PredictParameters = append(spec.PredictParameters, core.PredictParameterSpec{
					Name: "k", Type: core.ValueTypeInteger, Value: "abc",
				})
			},
			wantName: "k",
			wantRole: core.RoleFilter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := brokertest.NewBroker()
			client := b.Client()
			defer client.Close()
			d, metrics := newDispatcher(t)

			spec := gpfunctionSpec()
			tt.mutate(spec)
			result, err := d.Dispatch(context.Background(), client, spec)

			var perr *core.ParameterError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, tt.wantName, perr.Name)
			require.ErrorContains(t, err, string(tt.wantRole))

			// rejected before any queue was declared
			require.Empty(t, b.Queues())
			require.Empty(t, result.Published)
			require.Equal(t, float64(1), testutil.ToFloat64(metrics.jobs.WithLabelValues(resultInvalid)))
		})
	}
}

func TestDispatcher_PartialFailure(t *testing.T) {
	b := brokertest.NewBroker()
	client := b.Client()
	defer client.Close()
	d, metrics := newDispatcher(t)

	b.FailPublish("gpfunction@filter.tasks", 0, amqp.ErrClosed)

	result, err := d.Dispatch(context.Background(), client, gpfunctionSpec())
	require.ErrorIs(t, err, core.ErrBrokerConnection)
	require.ErrorContains(t, err, "filter")

	// learner tasks stay queued, the fuser queue exists but got nothing
	require.Len(t, b.Ready("gpfunction@learner.tasks"), 10)
	require.Empty(t, b.Ready("gpfunction@filter.tasks"))
	require.Empty(t, b.Ready("gpfunction@fuser.tasks"))
	require.Len(t, b.Queues(), 3)
	require.Equal(t, 10, result.Published[core.RoleLearner])
	require.Zero(t, result.Published[core.RoleFilter])
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.jobs.WithLabelValues(resultBrokerError)))
}

func TestDispatcher_ResubmissionAppends(t *testing.T) {
	b := brokertest.NewBroker()
	client := b.Client()
	defer client.Close()
	d, _ := newDispatcher(t)

	for range 2 {
		_, err := d.Dispatch(context.Background(), client, gpfunctionSpec())
		require.NoError(t, err)
	}
	require.Len(t, b.Ready("gpfunction@learner.tasks"), 20)
	require.Len(t, b.Ready("gpfunction@filter.tasks"), 2)
	require.Len(t, b.Ready("gpfunction@fuser.tasks"), 2)
}

func TestDispatcher_ZeroLearners(t *testing.T) {
	b := brokertest.NewBroker()
	client := b.Client()
	defer client.Close()
	d, _ := newDispatcher(t)

	spec := gpfunctionSpec()
	spec.LearnersNumber = 0
	result, err := d.Dispatch(context.Background(), client, spec)
	require.NoError(t, err)
	require.Zero(t, result.Published[core.RoleLearner])
	require.Empty(t, b.Ready("gpfunction@learner.tasks"))
	require.Len(t, b.Ready("gpfunction@filter.tasks"), 1)
}

// recordingClient logs every call and fails the named operation.
type recordingClient struct {
	calls  []string
	failOn string
	closed int
}

func (c *recordingClient) CreateQueue(name string) error {
	op := "create " + name
	c.calls = append(c.calls, op)
	if op == c.failOn {
		return fmt.Errorf("declare queue %q: %w", name, core.ErrBrokerConnection)
	}
	return nil
}

func (c *recordingClient) Publish(_ context.Context, name string, messages []any) error {
	op := "publish " + name
	c.calls = append(c.calls, fmt.Sprintf("%s %d", op, len(messages)))
	if op == c.failOn {
		return fmt.Errorf("publish to %q: %w", name, core.ErrBrokerConnection)
	}
	return nil
}

func (c *recordingClient) Close() error {
	c.closed++
	return nil
}

func TestDispatcher_CallOrder(t *testing.T) {
	tests := []struct {
		name   string
		failOn string
		want   []string
	}{
		{
			name: "success",
			want: []string{
				"create gpfunction@learner.tasks",
				"create gpfunction@filter.tasks",
				"create gpfunction@fuser.tasks",
				"publish gpfunction@learner.tasks 10",
				"publish gpfunction@filter.tasks 1",
				"publish gpfunction@fuser.tasks 1",
			},
		},
		{
			name:   "filter queue declare fails",
			failOn: "create gpfunction@filter.tasks",
			want: []string{
				"create gpfunction@learner.tasks",
				"create gpfunction@filter.tasks",
			},
		},
		{
			name:   "learner publish fails",
			failOn: "publish gpfunction@learner.tasks",
			want: []string{
				"create gpfunction@learner.tasks",
				"create gpfunction@filter.tasks",
				"create gpfunction@fuser.tasks",
				"publish gpfunction@learner.tasks 10",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &recordingClient{failOn: tt.failOn}
			d := NewDispatcher(&mockLogger{})

			_, err := d.Dispatch(context.Background(), client, gpfunctionSpec())
			if tt.failOn == "" {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, core.ErrBrokerConnection)
			}
			require.Equal(t, tt.want, client.calls)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: fmt.Errorf("x: %w", core.ErrInvalidJob), want: resultInvalid},
		{err: &core.ParameterError{Name: "p", Err: errors.New("bad")}, want: resultInvalid},
		{err: fmt.Errorf("x: %w", core.ErrBrokerConnection), want: resultBrokerError},
		{err: fmt.Errorf("x: %w", core.ErrQueueNotFound), want: resultBrokerError},
		{err: context.Canceled, want: resultFailed},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			require.Equal(t, tt.want, classify(tt.err))
		})
	}
}
