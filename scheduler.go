package rgb9e5ktx

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a conversion job.
type JobState int

const (
	// JobPending waits for its source image.
	JobPending JobState = iota
	// JobConverted has its container written.
	JobConverted
	// JobFailed stopped at decode or write, see Job.Stage.
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobConverted:
		return "converted"
	case JobFailed:
		return "failed"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

// FailureStage tells which step of a failed job went wrong.
type FailureStage int

const (
	// StageNone is set while the job has not failed.
	StageNone FailureStage = iota
	// StageDecode means the image source could not provide the image.
	StageDecode
	// StageWrite means the container could not be written.
	StageWrite
)

func (s FailureStage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageDecode:
		return "decode"
	case StageWrite:
		return "write"
	default:
		return fmt.Sprintf("FailureStage(%d)", int(s))
	}
}

// Job is one source to destination conversion.
type Job struct {
	ID          uuid.UUID
	Source      string
	Destination string
	State       JobState
	// Stage and Err are set once the job has failed.
	Stage FailureStage
	Err   error

	handle Handle
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// Write stores a packed texture, defaults to WriteKTX2File.
	Write func(tex *PackedTexture, path string) error
}

// Scheduler owns conversion jobs and advances them one tick at a time.
// It is not safe for concurrent use.
type Scheduler struct {
	src   ImageSource
	write func(tex *PackedTexture, path string) error

	jobs    map[uuid.UUID]*Job
	order   []uuid.UUID
	pending []uuid.UUID
}

// NewScheduler creates a scheduler that resolves images through src.
func NewScheduler(src ImageSource, opts ...func(o *SchedulerOptions)) *Scheduler {
	opt := SchedulerOptions{
		Write: WriteKTX2File,
	}
	for _, applyOpt := range opts {
		applyOpt(&opt)
	}

	return &Scheduler{
		src:   src,
		write: opt.Write,
		jobs:  make(map[uuid.UUID]*Job),
	}
}

// Enqueue creates a pending job and submits its source to the image source.
func (s *Scheduler) Enqueue(source, destination string) *Job {
	j := &Job{
		ID:          uuid.New(),
		Source:      source,
		Destination: destination,
		State:       JobPending,
	}
	j.handle = s.src.Submit(source)

	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	s.pending = append(s.pending, j.ID)

	return j
}

// Tick polls every pending job in submission order. A job whose image is ready
// is encoded and written in the same tick. Terminal jobs hand their handle back to
// sources that implement Release. Tick reports whether no pending jobs remain.
func (s *Scheduler) Tick() bool {
	still := s.pending[:0]
	for _, id := range s.pending {
		j := s.jobs[id]
		if !s.advance(j) {
			still = append(still, id)
			continue
		}
		if r, ok := s.src.(releaser); ok {
			r.Release(j.handle)
		}
	}
	s.pending = still

	Logger().Debug("scheduler tick", "pending", len(s.pending), "total", len(s.order))

	return len(s.pending) == 0
}

// advance polls j once and reports whether it reached a terminal state.
func (s *Scheduler) advance(j *Job) bool {
	st := s.src.Poll(j.handle)

	switch st.State {
	case ImageReady:
		img := st.Image
		if img == nil {
			s.fail(j, StageDecode, errors.New("image source reported ready without an image"))
			return true
		}
		Logger().Info("converting",
			"source", j.Source,
			"destination", j.Destination,
			"width", img.Width,
			"height", img.Height,
			"mip_level_count", img.MipCount(),
			"format", img.Format.String(),
		)
		if err := s.write(Encode(img), j.Destination); err != nil {
			s.fail(j, StageWrite, err)
			return true
		}
		j.State = JobConverted
		return true
	case ImageFailed:
		err := st.Err
		if err == nil {
			err = errors.New("image source reported failure")
		}
		s.fail(j, StageDecode, err)
		return true
	default:
		return false
	}
}

func (s *Scheduler) fail(j *Job, stage FailureStage, err error) {
	j.State = JobFailed
	j.Stage = stage
	j.Err = err
	Logger().Warn("conversion failed",
		"source", j.Source,
		"destination", j.Destination,
		"stage", stage.String(),
		"error", err,
	)
}

// Pending returns the number of jobs that have not reached a terminal state.
func (s *Scheduler) Pending() int {
	return len(s.pending)
}

// Job returns the job with the given id.
func (s *Scheduler) Job(id uuid.UUID) (*Job, bool) {
	j, ok := s.jobs[id]
	return j, ok
}

// Jobs returns all jobs in submission order.
func (s *Scheduler) Jobs() []*Job {
	out := make([]*Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id])
	}
	return out
}
