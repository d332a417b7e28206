package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/url-ingest/internal/ingest"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart  Stage = "JOB_START"
	StageJobDone   Stage = "JOB_DONE"
	StageJobError  Stage = "JOB_ERROR"
	StageSinkError Stage = "SINK_ERROR"
)

// Event captures a single job milestone.
type Event struct {
	JobID ingest.JobID
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	URL   string
	// Source is set for jobs dispatched by a polling loop or source import.
	Source     ingest.SourceType
	StatusCode int
	// Bytes is the markdown size for terminal events.
	Bytes      int64
	Dur        time.Duration
	ArchiveURI string
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID <= 0 {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageSinkError:
		if e.Source == "" {
			return errors.New("sink error requires source")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes a job's lifecycle.
func (e Event) Terminal() bool {
	return e.Stage == StageJobDone || e.Stage == StageJobError
}
