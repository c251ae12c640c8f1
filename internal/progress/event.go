package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageStepDone     Stage = "STEP_DONE"
	StageResearchDone Stage = "RESEARCH_DONE"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageLeaseExpired Stage = "LEASE_EXPIRED"
)

// Event captures one milestone of a support job.
type Event struct {
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Step names the pipeline stage for STEP_DONE events (route, structure...).
	Step     string
	Category string
	// Site and Bytes describe a researched page for RESEARCH_DONE events.
	Site    string
	Bytes   int64
	Attempt int
	Dur     time.Duration
	// Note carries low-volume context such as a sanitized error.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError, StageLeaseExpired:
	case StageStepDone:
		if e.Step == "" {
			return errors.New("step done requires step")
		}
	case StageResearchDone:
		if e.Site == "" {
			return errors.New("research done requires site")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
