package pipeline

import (
	"fmt"
	"time"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/notify"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/strategy"
)

// StepStatus is the outcome of one step
type StepStatus string

const (
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
)

// StepOutcome is what a step function reports back
type StepOutcome struct {
	Status    StepStatus
	Details   string
	Artifacts map[string]string
}

// Step is the record of an executed step
type Step struct {
	Name      string            `json:"name"`
	Status    StepStatus        `json:"status"`
	Duration  time.Duration     `json:"duration_ns"`
	Details   string            `json:"details,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// Summary is the result of a pipeline run; partial when a step failed
type Summary struct {
	RunID    string        `json:"run_id"`
	Pipeline string        `json:"pipeline"`
	AsOf     time.Time     `json:"as_of"`
	DryRun   bool          `json:"dry_run"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration_ns"`
	Steps    []Step        `json:"steps"`

	Notifications []notify.Status `json:"notifications,omitempty"`

	Signals   *strategy.Result           `json:"-"`
	Risk      *risk.Result               `json:"-"`
	Rebalance *contracts.RebalanceResult `json:"-"`
	Report    *contracts.DailyReport     `json:"-"`
}

// Step finds a step by name
func (s *Summary) Step(name string) (Step, bool) {
	for _, st := range s.Steps {
		if st.Name == name {
			return st, true
		}
	}
	return Step{}, false
}

// ExecutionError is returned when a step fails
type ExecutionError struct {
	Step    string
	Err     error
	Summary *Summary
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("pipeline step %s failed: %v", e.Step, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
