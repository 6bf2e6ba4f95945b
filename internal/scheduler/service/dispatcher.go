// Package service turns a validated job into queued work: it creates the
// role queues and publishes every generated task to them.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
	"github.com/nemanja-m/scheduler/internal/scheduler/generator"
	"github.com/nemanja-m/scheduler/internal/shared/logging"
)

// BrokerClient is the part of broker.Client the dispatcher needs.
type BrokerClient interface {
	CreateQueue(name string) error
	Publish(ctx context.Context, name string, messages []any) error
}

type DispatchResult struct {
	JobName   string
	Queues    map[core.Role]string
	Published map[core.Role]int
}

func newDispatchResult(jobName string) DispatchResult {
	r := DispatchResult{
		JobName:   jobName,
		Queues:    make(map[core.Role]string, len(core.Roles())),
		Published: make(map[core.Role]int, len(core.Roles())),
	}
	for _, role := range core.Roles() {
		r.Queues[role] = core.QueueName(jobName, role)
	}
	return r
}

// Dispatcher expands jobs into tasks and publishes them. It holds no
// per-job state and is safe for concurrent use.
type Dispatcher struct {
	logger     logging.Logger
	metrics    *Metrics
	generators []generator.Option
}

type DispatcherOption func(*Dispatcher)

func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithGeneratorOptions forwards options to every task generator.
func WithGeneratorOptions(opts ...generator.Option) DispatcherOption {
	return func(d *Dispatcher) { d.generators = append(d.generators, opts...) }
}

func NewDispatcher(logger logging.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates spec, creates the learner, filter and fuser queues and
// publishes each role's tasks in that order. The first failure stops
// dispatch; queues and messages created before it are left in place.
func (d *Dispatcher) Dispatch(ctx context.Context, client BrokerClient, spec *core.JobSpec) (DispatchResult, error) {
	if err := core.ValidateJobSpec(spec); err != nil {
		d.metrics.observeJob(resultInvalid, 0)
		return DispatchResult{}, err
	}
	return d.dispatch(ctx, client, spec)
}

func (d *Dispatcher) dispatch(ctx context.Context, client BrokerClient, spec *core.JobSpec) (result DispatchResult, err error) {
	start := time.Now()
	result = newDispatchResult(spec.Name)

	d.logger.Info("Dispatching job",
		"job_name", spec.Name,
		"dataset_name", spec.DatasetName,
		"learners_number", spec.LearnersNumber,
	)
	defer func() {
		if err != nil {
			d.metrics.observeJob(classify(err), time.Since(start))
			d.logger.Error("Failed to dispatch job", "job_name", spec.Name, "error", err)
			return
		}
		d.metrics.observeJob(resultSuccess, time.Since(start))
	}()

	// generators resolve every parameter up front, so a bad parameter
	// rejects the job before the broker is touched
	learners, err := generator.NewLearnerTaskGenerator(spec, spec.RandomSeed, d.generators...)
	if err != nil {
		return result, fmt.Errorf("%s tasks: %w", core.RoleLearner, err)
	}
	filters, err := generator.NewFilterTaskGenerator(spec, d.generators...)
	if err != nil {
		return result, fmt.Errorf("%s tasks: %w", core.RoleFilter, err)
	}
	fusers, err := generator.NewFuserTaskGenerator(spec, d.generators...)
	if err != nil {
		return result, fmt.Errorf("%s tasks: %w", core.RoleFuser, err)
	}

	for _, role := range core.Roles() {
		if err := client.CreateQueue(result.Queues[role]); err != nil {
			return result, fmt.Errorf("create %s queue %q: %w", role, result.Queues[role], err)
		}
	}

	if err := d.publish(ctx, client, &result, core.RoleLearner, drain[generator.LearnerTask](learners)); err != nil {
		return result, err
	}
	if err := d.publish(ctx, client, &result, core.RoleFilter, drain[generator.FilterTask](filters)); err != nil {
		return result, err
	}
	if err := d.publish(ctx, client, &result, core.RoleFuser, drain[generator.FuserTask](fusers)); err != nil {
		return result, err
	}

	d.logger.Info("Job dispatched",
		"job_name", spec.Name,
		"learner_tasks", result.Published[core.RoleLearner],
		"filter_tasks", result.Published[core.RoleFilter],
		"fuser_tasks", result.Published[core.RoleFuser],
		"duration", time.Since(start),
	)
	return result, nil
}

func (d *Dispatcher) publish(ctx context.Context, client BrokerClient, result *DispatchResult, role core.Role, messages []any) error {
	queue := result.Queues[role]
	if err := client.Publish(ctx, queue, messages); err != nil {
		return fmt.Errorf("publish %s tasks to %q: %w", role, queue, err)
	}
	result.Published[role] = len(messages)
	d.metrics.observeTasks(role, len(messages))
	d.logger.Debug("Tasks published", "queue", queue, "count", len(messages))
	return nil
}

// drain collects every task of g as a publishable message.
func drain[T any](g generator.Generator[T]) []any {
	messages := make([]any, 0)
	for task := range generator.All(g) {
		messages = append(messages, task)
	}
	return messages
}
