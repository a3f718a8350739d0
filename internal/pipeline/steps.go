package pipeline

import "fmt"

// Step names one stage of a pipeline run.
type Step string

// Pipeline steps in execution order.
const (
	StepLoadWorkflow   Step = "load-workflow"
	StepInjectPrompt   Step = "inject-prompt"
	StepSaveWorkflow   Step = "save-workflow"
	StepGenerateImages Step = "generate-images"
	StepWriteImage     Step = "write-image"
	StepCritique       Step = "critique"
	StepReportCritique Step = "report-critique"
	StepDone           Step = "done"
)

// PerImage reports whether the step runs once per generated image.
func (s Step) PerImage() bool {
	switch s {
	case StepWriteImage, StepCritique, StepReportCritique:
		return true
	}
	return false
}

func (s Step) String() string {
	return string(s)
}

// Plan returns the ordered steps of a run. Per-image steps appear once and
// are repeated for every generated image at run time.
func Plan(skipCritique bool) []Step {
	steps := []Step{StepLoadWorkflow, StepInjectPrompt, StepSaveWorkflow, StepGenerateImages, StepWriteImage}
	if !skipCritique {
		steps = append(steps, StepCritique, StepReportCritique)
	}
	return append(steps, StepDone)
}

// StepError records which step of a run failed.
type StepError struct {
	Step  Step
	Index int // image index for per-image steps, -1 otherwise
	Err   error
}

func (e *StepError) Error() string {
	if e.Step.PerImage() {
		return fmt.Sprintf("%s failed for image %d: %v", e.Step, e.Index, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(step Step, index int, err error) error {
	return &StepError{Step: step, Index: index, Err: err}
}
