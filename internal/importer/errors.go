package importer

import (
	"errors"
	"fmt"
)

// Step names the pipeline step a per-file failure happened in
type Step string

const (
	StepScan        Step = "scan"
	StepFingerprint Step = "fingerprint"
	StepMetadata    Step = "metadata"
	StepPlacement   Step = "placement"
	StepCatalog     Step = "catalog"
	StepCancelled   Step = "cancelled"
	StepInternal    Step = "internal"
)

// StepError is a per-file failure. It never aborts the run.
type StepError struct {
	Step Step
	Path string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Step, e.Path, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep returns the step of a *StepError in err's chain
func FailedStep(err error) (Step, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}
