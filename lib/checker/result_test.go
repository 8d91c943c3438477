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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillDefaultsSetsUnsetTimingFields(t *testing.T) {
	now := time.Unix(1700000000, 0)
	executionStart := now.Add(-3 * time.Second)

	result := NewResult(StateOK, "fine")
	result.SetExecutionStart(executionStart)
	result.FillDefaults(now)

	assert.Equal(t, now, result.ScheduleStart())
	assert.Equal(t, now, result.ScheduleEnd())
	assert.Equal(t, executionStart, result.ExecutionStart())
	assert.Equal(t, now, result.ExecutionEnd())
}

func TestExecutionTimeAndLatency(t *testing.T) {
	scheduleStart := time.Unix(1000, 0)
	result := NewResult(StateOK, "fine")
	result.SetScheduleStart(scheduleStart)
	result.SetScheduleEnd(scheduleStart.Add(10 * time.Second))
	result.SetExecutionStart(scheduleStart.Add(2 * time.Second))
	result.SetExecutionEnd(scheduleStart.Add(8 * time.Second))

	assert.Equal(t, 6*time.Second, result.ExecutionTime())
	assert.Equal(t, 4*time.Second, result.Latency())
}

func TestExecutionTimeZeroWhenFieldsUnset(t *testing.T) {
	result := NewResult(StateOK, "fine")
	assert.Equal(t, time.Duration(0), result.ExecutionTime())
	assert.Equal(t, time.Duration(0), result.Latency())

	result.SetExecutionStart(time.Unix(1000, 0))
	assert.Equal(t, time.Duration(0), result.ExecutionTime())
}

func TestSealedResultPanicsOnWrite(t *testing.T) {
	result := NewResult(StateOK, "fine")
	result.Seal()
	assert.True(t, result.Sealed())
	assert.Panics(t, func() { result.SetOutput("changed") })
	assert.Panics(t, func() { result.SetState(StateCritical) })
	assert.Panics(t, func() { result.FillDefaults(time.Now()) })
}

func TestResultDefaultsToActive(t *testing.T) {
	assert.True(t, NewResult(StateOK, "fine").Active())
}

func TestResultWireForm(t *testing.T) {
	result := NewResult(StateCritical, "connection refused")
	result.SetScheduleStart(time.Unix(1000000, 500000000))
	result.SetScheduleEnd(time.Unix(1000001, 0))
	result.SetExecutionStart(time.Unix(1000000, 600000000))
	result.SetExecutionEnd(time.Unix(1000000, 900000000))
	result.SetCurrentChecker("node-1")
	result.SetVarsAfter(&Snapshot{
		State:         StateCritical,
		StateType:     StateTypeSoft,
		Attempt:       2,
		Reachable:     true,
		HostReachable: true,
	})
	result.Seal()

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "CRITICAL", fields["state"])
	assert.Equal(t, "connection refused", fields["output"])
	assert.Equal(t, 1000000.5, fields["schedule_start"])
	assert.Equal(t, true, fields["active"])
	assert.Equal(t, "node-1", fields["current_checker"])

	var decoded Result
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, StateCritical, decoded.State())
	assert.Equal(t, "node-1", decoded.CurrentChecker())
	require.NotNil(t, decoded.VarsAfter())
	assert.Equal(t, StateTypeSoft, decoded.VarsAfter().StateType)
	assert.Equal(t, 2, decoded.VarsAfter().Attempt)
}
