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
	"context"
	"fmt"
	"time"

	"github.com/gravitational/trace"
)

// checkInfo keeps track of scheduling information for an in-flight check
// in case the probe does not provide its own.
type checkInfo struct {
	scheduleStart  time.Time
	executionStart time.Time
	macros         map[string]string
}

// BeginExecuteCheck starts an active check of the service. At most one
// check is in flight per service: a call that finds a check already
// running (or the core shut down) starts nothing but still invokes
// completion, so dispatchers can free their slots. completion runs exactly
// once per call, on an arbitrary goroutine.
func (r *Core) BeginExecuteCheck(service *Service, completion func()) {
	if completion == nil {
		completion = func() {}
	}
	if r.isClosed() {
		completion()
		return
	}

	reachable := service.IsReachable()

	service.lock()
	if service.checkRunning {
		service.unlock()
		completion()
		return
	}
	service.checkRunning = true
	service.setLastStateLocked(service.state)
	service.setLastStateTypeLocked(service.stateType)
	service.setLastReachableLocked(reachable)
	service.unlock()

	info := &checkInfo{
		scheduleStart:  service.NextCheck(),
		executionStart: r.now(),
		macros:         r.config.Macros(service, nil),
	}

	go r.runCheck(service, info, completion)
}

// runCheck owns the check-running flag from probe start to completion and
// is the sole place that clears it.
func (r *Core) runCheck(service *Service, info *checkInfo, completion func()) {
	defer completion()

	ctx, cancel := context.WithTimeout(context.Background(), r.config.CheckTimeout)
	result, err := r.probeFor(service).Run(ctx, service, info.macros)
	cancel()

	now := r.now()
	if err != nil || result == nil {
		if err == nil {
			err = fmt.Errorf("probe returned no result")
		}
		message := fmt.Sprintf("Exception occured during check for service %q: %v",
			service.Name(), err)
		r.log.Warn(message)
		result = NewResult(StateUnknown, message)
	}

	if result.ScheduleStart().IsZero() {
		result.SetScheduleStart(info.scheduleStart)
	}
	if result.ScheduleEnd().IsZero() {
		result.SetScheduleEnd(now)
	}
	if result.ExecutionStart().IsZero() {
		result.SetExecutionStart(info.executionStart)
	}
	if result.ExecutionEnd().IsZero() {
		result.SetExecutionEnd(now)
	}
	if result.Macros() == nil {
		result.SetMacros(info.macros)
	}
	result.SetActive(true)
	if result.CurrentChecker() == "" {
		result.SetCurrentChecker(r.config.Identity)
	}

	if err := r.ProcessCheckResult(service, result); err != nil {
		r.log.WithError(err).Warnf("Failed to process check result for service %q.",
			service.Name())
	}

	// recompute the schedule even if processing failed
	r.UpdateNextCheck(service)

	service.lock()
	service.checkRunning = false
	service.unlock()
}

func (r *Core) probeFor(service *Service) Probe {
	if probe := service.Probe(); probe != nil {
		return probe
	}
	if r.config.DefaultProbe != nil {
		return r.config.DefaultProbe
	}
	return probeFunc(func(context.Context, *Service, map[string]string) (*Result, error) {
		return nil, fmt.Errorf("no check command configured for service %q", service.Name())
	})
}

type probeFunc func(ctx context.Context, service *Service, macros map[string]string) (*Result, error)

func (f probeFunc) Run(ctx context.Context, service *Service, macros map[string]string) (*Result, error) {
	return f(ctx, service, macros)
}

// SubmitPassiveResult delivers a check result produced outside this node's
// active executor. The result enters the state machine directly.
func (r *Core) SubmitPassiveResult(service *Service, result *Result) error {
	if !service.EnablePassiveChecks() {
		return trace.AccessDenied("passive checks are disabled for service %q", service.Name())
	}
	if result == nil || result.Sealed() {
		return trace.BadParameter("passive result for service %q must be unsealed", service.Name())
	}
	result.SetActive(false)
	if result.CurrentChecker() == "" {
		result.SetCurrentChecker(r.config.Identity)
	}
	return r.ProcessCheckResult(service, result)
}
