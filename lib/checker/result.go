/*
Copyright 2021 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package checker

import (
	"encoding/json"
	"time"
)

// Snapshot captures the observable state of a service around a single
// transition.
type Snapshot struct {
	State         State     `json:"state"`
	StateType     StateType `json:"state_type"`
	Attempt       int       `json:"attempt"`
	Reachable     bool      `json:"reachable"`
	HostReachable bool      `json:"host_reachable"`
}

// Result is the outcome of a single check. A result is mutable while it is
// being assembled by the executor or a passive submitter and becomes
// immutable once sealed. Mutating a sealed result is a programmer error
// and panics.
type Result struct {
	sealed bool

	state          State
	output         string
	scheduleStart  time.Time
	scheduleEnd    time.Time
	executionStart time.Time
	executionEnd   time.Time
	active         bool
	currentChecker string
	varsBefore     *Snapshot
	varsAfter      *Snapshot
	macros         map[string]string
}

// NewResult creates an unsealed result with the given outcome.
// Timing fields start unset and are defaulted when the result enters
// processing.
func NewResult(state State, output string) *Result {
	return &Result{
		state:  state,
		output: output,
		active: true,
	}
}

func (r *Result) State() State              { return r.state }
func (r *Result) Output() string            { return r.output }
func (r *Result) ScheduleStart() time.Time  { return r.scheduleStart }
func (r *Result) ScheduleEnd() time.Time    { return r.scheduleEnd }
func (r *Result) ExecutionStart() time.Time { return r.executionStart }
func (r *Result) ExecutionEnd() time.Time   { return r.executionEnd }
func (r *Result) Active() bool              { return r.active }
func (r *Result) CurrentChecker() string    { return r.currentChecker }
func (r *Result) VarsBefore() *Snapshot     { return r.varsBefore }
func (r *Result) VarsAfter() *Snapshot      { return r.varsAfter }
func (r *Result) Macros() map[string]string { return r.macros }

// Sealed reports whether the result has been made immutable.
func (r *Result) Sealed() bool { return r.sealed }

// Seal makes the result immutable. Sealing twice is a no-op.
func (r *Result) Seal() { r.sealed = true }

func (r *Result) SetState(state State) {
	r.mutable()
	r.state = state
}

func (r *Result) SetOutput(output string) {
	r.mutable()
	r.output = output
}

func (r *Result) SetScheduleStart(t time.Time) {
	r.mutable()
	r.scheduleStart = t
}

func (r *Result) SetScheduleEnd(t time.Time) {
	r.mutable()
	r.scheduleEnd = t
}

func (r *Result) SetExecutionStart(t time.Time) {
	r.mutable()
	r.executionStart = t
}

func (r *Result) SetExecutionEnd(t time.Time) {
	r.mutable()
	r.executionEnd = t
}

func (r *Result) SetActive(active bool) {
	r.mutable()
	r.active = active
}

func (r *Result) SetCurrentChecker(checker string) {
	r.mutable()
	r.currentChecker = checker
}

func (r *Result) SetVarsBefore(vars *Snapshot) {
	r.mutable()
	r.varsBefore = vars
}

func (r *Result) SetVarsAfter(vars *Snapshot) {
	r.mutable()
	r.varsAfter = vars
}

func (r *Result) SetMacros(macros map[string]string) {
	r.mutable()
	r.macros = macros
}

// FillDefaults sets any unset timing field to now, in schedule-start,
// schedule-end, execution-start, execution-end order.
func (r *Result) FillDefaults(now time.Time) {
	r.mutable()
	if r.scheduleStart.IsZero() {
		r.scheduleStart = now
	}
	if r.scheduleEnd.IsZero() {
		r.scheduleEnd = now
	}
	if r.executionStart.IsZero() {
		r.executionStart = now
	}
	if r.executionEnd.IsZero() {
		r.executionEnd = now
	}
}

// ExecutionTime returns the duration the check actually ran,
// or 0 if either execution timestamp is unset.
func (r *Result) ExecutionTime() time.Duration {
	if r.executionStart.IsZero() || r.executionEnd.IsZero() {
		return 0
	}
	return r.executionEnd.Sub(r.executionStart)
}

// Latency returns the time the check spent waiting between being scheduled
// and running, or 0 if either schedule timestamp is unset.
func (r *Result) Latency() time.Duration {
	if r.scheduleStart.IsZero() || r.scheduleEnd.IsZero() {
		return 0
	}
	return r.scheduleEnd.Sub(r.scheduleStart) - r.ExecutionTime()
}

func (r *Result) mutable() {
	if r.sealed {
		panic("write to a sealed check result")
	}
}

// resultPayload is the field-level wire form of a result.
type resultPayload struct {
	State          string            `json:"state"`
	Output         string            `json:"output"`
	ScheduleStart  float64           `json:"schedule_start"`
	ScheduleEnd    float64           `json:"schedule_end"`
	ExecutionStart float64           `json:"execution_start"`
	ExecutionEnd   float64           `json:"execution_end"`
	Active         bool              `json:"active"`
	CurrentChecker string            `json:"current_checker"`
	VarsBefore     *Snapshot         `json:"vars_before,omitempty"`
	VarsAfter      *Snapshot         `json:"vars_after,omitempty"`
	Macros         map[string]string `json:"macros,omitempty"`
}

// MarshalJSON encodes the result with states as strings and timestamps as
// unix seconds with fractional precision.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultPayload{
		State:          r.state.String(),
		Output:         r.output,
		ScheduleStart:  unixSeconds(r.scheduleStart),
		ScheduleEnd:    unixSeconds(r.scheduleEnd),
		ExecutionStart: unixSeconds(r.executionStart),
		ExecutionEnd:   unixSeconds(r.executionEnd),
		Active:         r.active,
		CurrentChecker: r.currentChecker,
		VarsBefore:     r.varsBefore,
		VarsAfter:      r.varsAfter,
		Macros:         r.macros,
	})
}

// UnmarshalJSON decodes a result from its wire form. The decoded result is
// unsealed.
func (r *Result) UnmarshalJSON(data []byte) error {
	var payload resultPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	*r = Result{
		state:          StateFromString(payload.State),
		output:         payload.Output,
		scheduleStart:  timeFromUnixSeconds(payload.ScheduleStart),
		scheduleEnd:    timeFromUnixSeconds(payload.ScheduleEnd),
		executionStart: timeFromUnixSeconds(payload.ExecutionStart),
		executionEnd:   timeFromUnixSeconds(payload.ExecutionEnd),
		active:         payload.Active,
		currentChecker: payload.CurrentChecker,
		varsBefore:     payload.VarsBefore,
		varsAfter:      payload.VarsAfter,
		macros:         payload.Macros,
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromUnixSeconds(seconds float64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(seconds*float64(time.Second)))
}
