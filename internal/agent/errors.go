package agent

import (
	"fmt"

	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

// Stage names one step of the pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageRoute      Stage = "route"
	StageStructure  Stage = "structure"
	StageSpecialize Stage = "specialize"
	StageAnswer     Stage = "answer"
)

// StageError reports which stage failed. It matches support.ErrPipeline as
// well as the underlying cause.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

// Unwrap exposes both the pipeline sentinel and the cause.
func (e *StageError) Unwrap() []error {
	return []error{support.ErrPipeline, e.Err}
}

// StageName returns the failed stage.
func (e *StageError) StageName() string {
	return string(e.Stage)
}
