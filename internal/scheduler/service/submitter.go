package service

import (
	"context"
	"fmt"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
	"github.com/nemanja-m/scheduler/internal/shared/logging"
)

// Session is a broker client owned by a single submission.
type Session interface {
	BrokerClient
	Close() error
}

// Dialer opens a new broker session.
type Dialer func(ctx context.Context) (Session, error)

// JobSubmitter accepts a job and returns once all of its tasks are queued.
type JobSubmitter interface {
	Submit(ctx context.Context, spec *core.JobSpec) (DispatchResult, error)
}

// Submitter runs each submission on its own broker session, which is closed
// before Submit returns.
type Submitter struct {
	dial       Dialer
	dispatcher *Dispatcher
	logger     logging.Logger
}

func NewSubmitter(dial Dialer, dispatcher *Dispatcher, logger logging.Logger) *Submitter {
	return &Submitter{
		dial:       dial,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Submit validates spec before dialing, so a rejected job never opens a
// broker connection.
func (s *Submitter) Submit(ctx context.Context, spec *core.JobSpec) (DispatchResult, error) {
	if err := core.ValidateJobSpec(spec); err != nil {
		s.dispatcher.metrics.observeJob(resultInvalid, 0)
		return DispatchResult{}, err
	}

	session, err := s.dial(ctx)
	if err != nil {
		s.dispatcher.metrics.observeJob(resultBrokerError, 0)
		return DispatchResult{}, fmt.Errorf("open broker session: %w", err)
	}
	defer func() {
		// a close error does not change the dispatch outcome
		if err := session.Close(); err != nil {
			s.logger.Warn("Failed to close broker session", "job_name", spec.Name, "error", err)
		}
	}()

	return s.dispatcher.dispatch(ctx, session, spec)
}
