package rgb9e5ktx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrValidation marks batch input errors detected before any job is created.
	ErrValidation = errors.New("invalid batch")
	// ErrNoSources is returned when no source paths are given.
	ErrNoSources = fmt.Errorf("%w: no source files", ErrValidation)
	// ErrNoDestinations is returned when no destination paths are given.
	ErrNoDestinations = fmt.Errorf("%w: no destination files", ErrValidation)
	// ErrLengthMismatch is returned when sources and destinations differ in count.
	ErrLengthMismatch = fmt.Errorf("%w: source and destination counts differ", ErrValidation)
	// ErrBatchFailed is reported by BatchResult.Err when at least one job failed.
	ErrBatchFailed = errors.New("batch failed")
)

// Pair is one source path with its destination path.
type Pair struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
}

// Pairs zips sources with destinations by position.
func Pairs(sources, destinations []string) ([]Pair, error) {
	if err := validatePairs(len(sources), len(destinations)); err != nil {
		return nil, err
	}

	pairs := make([]Pair, len(sources))
	for i := range sources {
		pairs[i] = Pair{Source: sources[i], Destination: destinations[i]}
	}
	return pairs, nil
}

func validatePairs(sources, destinations int) error {
	switch {
	case sources == 0:
		return ErrNoSources
	case destinations == 0:
		return ErrNoDestinations
	case sources != destinations:
		return fmt.Errorf("%w (%d sources, %d destinations)", ErrLengthMismatch, sources, destinations)
	}
	return nil
}

// RunOptions configures Run.
type RunOptions struct {
	// TickInterval is the pause between scheduler ticks, defaults to 10ms.
	TickInterval time.Duration
	// Scheduler options are passed to the underlying scheduler.
	Scheduler []func(o *SchedulerOptions)
}

// JobReport is the outcome of one job.
type JobReport struct {
	ID          uuid.UUID
	Source      string
	Destination string
	State       JobState
	Stage       FailureStage
	Err         error
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Jobs      []JobReport
	Converted int
	Failed    int
}

// OK reports whether every job was converted.
func (r *BatchResult) OK() bool {
	return r.Failed == 0 && r.Converted == len(r.Jobs)
}

// Err joins the errors of failed jobs under ErrBatchFailed, nil if none failed.
func (r *BatchResult) Err() error {
	if r.Failed == 0 {
		return nil
	}

	errs := []error{fmt.Errorf("%w: %d of %d jobs", ErrBatchFailed, r.Failed, len(r.Jobs))}
	for _, j := range r.Jobs {
		if j.State == JobFailed {
			errs = append(errs, fmt.Errorf("%s -> %s (%s): %w", j.Source, j.Destination, j.Stage, j.Err))
		}
	}
	return errors.Join(errs...)
}

// Run converts every pair, ticking a scheduler until all jobs are terminal.
//
// The first tick happens immediately. Invalid input returns an ErrValidation error
// without submitting anything. Cancelling ctx stops ticking and returns ctx.Err()
// along with the jobs' states at that point; decodes already submitted are not cancelled.
func Run(ctx context.Context, src ImageSource, pairs []Pair, opts ...func(o *RunOptions)) (*BatchResult, error) {
	opt := RunOptions{
		TickInterval: defaultTickInterval,
	}
	for _, applyOpt := range opts {
		applyOpt(&opt)
	}
	if opt.TickInterval <= 0 {
		opt.TickInterval = defaultTickInterval
	}

	if len(pairs) == 0 {
		return nil, ErrNoSources
	}
	for i, p := range pairs {
		if p.Source == "" {
			return nil, fmt.Errorf("%w: job %d has no source", ErrValidation, i)
		}
		if p.Destination == "" {
			return nil, fmt.Errorf("%w: job %d has no destination", ErrValidation, i)
		}
	}

	s := NewScheduler(src, opt.Scheduler...)
	for _, p := range pairs {
		s.Enqueue(p.Source, p.Destination)
	}

	start := time.Now()
	ticker := time.NewTicker(opt.TickInterval)
	defer ticker.Stop()

	for !s.Tick() {
		select {
		case <-ctx.Done():
			res := report(s)
			Logger().Warn("batch interrupted", "pending", s.Pending(), "converted", res.Converted, "failed", res.Failed)
			return res, ctx.Err()
		case <-ticker.C:
		}
	}

	res := report(s)
	Logger().Info("batch finished",
		"jobs", len(res.Jobs),
		"converted", res.Converted,
		"failed", res.Failed,
		"elapsed", time.Since(start).String(),
	)

	return res, nil
}

func report(s *Scheduler) *BatchResult {
	jobs := s.Jobs()
	res := &BatchResult{Jobs: make([]JobReport, 0, len(jobs))}
	for _, j := range jobs {
		res.Jobs = append(res.Jobs, JobReport{
			ID:          j.ID,
			Source:      j.Source,
			Destination: j.Destination,
			State:       j.State,
			Stage:       j.Stage,
			Err:         j.Err,
		})
		switch j.State {
		case JobConverted:
			res.Converted++
		case JobFailed:
			res.Failed++
		}
	}
	return res
}
