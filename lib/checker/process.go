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
	"time"

	"github.com/gravitational/trace"
)

// effects collects the outbound consequences of a single reducer run.
// They are dispatched after the service lock has been released, in a fixed
// order, and never interleave with another run on the same service.
type effects struct {
	oldState     State
	recovery     bool
	sendProblem  bool
	sendDowntime bool
	inDowntime   bool
	active       bool
	statsTS      time.Time
	execution    time.Duration
	latency      time.Duration
	rescheduled  []*Service
}

// ProcessCheckResult applies a check result to the service: it advances
// the soft/hard state machine, maintains the attempt counter and
// timestamps, reschedules dependent services on a state change, and emits
// the resulting events through the configured sinks.
//
// The result must not be sealed; it is sealed here after the transition
// snapshots and macros have been attached, and stored as the service's
// last result.
func (r *Core) ProcessCheckResult(service *Service, result *Result) error {
	if result == nil {
		return trace.BadParameter("missing check result for service %q", service.Name())
	}
	if result.Sealed() {
		return trace.BadParameter("check result for service %q is already sealed", service.Name())
	}

	// preamble, no lock held
	now := r.now()
	result.FillDefaults(now)
	reachable := service.IsReachable()
	hostReachable := true
	if host := service.Host(); host != nil {
		hostReachable = host.Reachable()
	}

	service.lock()
	eff := r.applyLocked(service, result, now, reachable)
	service.unlock()

	// dispatch the reschedule signals for dependent services updated
	// during apply
	for _, parent := range eff.rescheduled {
		parent.signals().nextCheckChanged(parent)
	}

	r.updateStatistics(eff)

	// finalize the result and store it
	service.lock()
	varsAfter := &Snapshot{
		State:         service.state,
		StateType:     service.stateType,
		Attempt:       service.checkAttempt,
		Reachable:     reachable,
		HostReachable: hostReachable,
	}
	oldResult := service.lastResult
	service.unlock()
	if oldResult != nil {
		result.SetVarsBefore(oldResult.VarsAfter())
	}
	result.SetVarsAfter(varsAfter)
	result.SetMacros(r.config.Macros(service, result))
	result.Seal()

	service.lock()
	service.setLastResultLocked(result)
	service.unlock()

	// other nodes must see the new state when they receive the check
	// result message
	r.flush(service)

	r.emit(service, result, eff)
	return nil
}

// applyLocked runs the state transition under the service lock and returns
// the pending effects. It makes no calls into external sinks; the downtime
// engine is the one oracle consulted here and is bound by contract not to
// re-enter the service.
func (r *Core) applyLocked(service *Service, result *Result, now time.Time, reachable bool) effects {
	oldState := service.state
	oldStateType := service.stateType
	oldAttempt := service.checkAttempt
	hardChange := false
	recovery := false

	// the executor already set these, but a passive result bypasses the
	// executor's snapshot step
	service.setLastStateLocked(oldState)
	service.setLastStateTypeLocked(oldStateType)
	service.setLastReachableLocked(reachable)

	newState := result.State()
	var attempt int

	if newState == StateOK {
		// an OK result always confirms: there is no observable soft OK
		hardChange = (oldState == StateOK && oldStateType == StateTypeSoft) ||
			(oldState != StateOK && oldStateType == StateTypeHard)
		service.setStateTypeLocked(StateTypeHard)
		attempt = 1
		recovery = true
	} else {
		if oldAttempt >= service.MaxCheckAttempts() {
			service.setStateTypeLocked(StateTypeHard)
			attempt = 1
			hardChange = true
		} else if oldStateType == StateTypeSoft || oldState == StateOK {
			service.setStateTypeLocked(StateTypeSoft)
			attempt = oldAttempt + 1
		} else {
			attempt = oldAttempt
		}
	}

	service.setCheckAttemptLocked(attempt)
	service.setStateLocked(newState)

	var rescheduled []*Service
	if oldState != newState {
		service.setLastStateChangeLocked(now)

		// remove acknowledgements
		if service.acknowledgement == AckNormal ||
			(service.acknowledgement == AckSticky &&
				service.stateType == StateTypeHard && service.state == StateOK) {
			service.setAcknowledgementLocked(AckNone, time.Time{})
		}

		rescheduled = r.rescheduleDependenciesLocked(service, now)
	}

	if hardChange {
		service.setLastHardStateChangeLocked(now)
	}

	if service.state != StateOK && r.config.Downtime != nil {
		r.config.Downtime.TriggerDue(service)
	}

	inDowntime := false
	if r.config.Downtime != nil {
		inDowntime = r.config.Downtime.InDowntime(service)
	}
	sendNotification := hardChange && reachable && !inDowntime &&
		!service.isAcknowledgedLocked(now)
	sendDowntime := service.lastInDowntime != inDowntime
	service.setLastInDowntimeLocked(inDowntime)

	statsTS := result.ScheduleEnd()
	if statsTS.IsZero() {
		statsTS = now
	}

	return effects{
		oldState:     oldState,
		recovery:     recovery,
		sendProblem:  sendNotification,
		sendDowntime: sendDowntime,
		inDowntime:   inDowntime,
		active:       result.Active(),
		statsTS:      statsTS,
		execution:    result.ExecutionTime(),
		latency:      result.Latency(),
		rescheduled:  rescheduled,
	}
}

// rescheduleDependenciesLocked sets the next check of every parent service
// and every parent host's check service to now. The current service's lock
// is held; each parent is updated under its own lock, which is safe since
// dependency edges never point back at the service being processed. Every
// parent is updated at most once even if it appears on both dependency
// lists, and unregistered parents are skipped.
func (r *Core) rescheduleDependenciesLocked(service *Service, now time.Time) []*Service {
	seen := map[string]struct{}{service.Name(): {}}
	var rescheduled []*Service
	reschedule := func(parent *Service) {
		if _, done := seen[parent.Name()]; done {
			return
		}
		seen[parent.Name()] = struct{}{}
		parent.lock()
		parent.setNextCheckLocked(now)
		parent.unlock()
		rescheduled = append(rescheduled, parent)
	}
	for _, parent := range service.parentServices() {
		reschedule(parent)
	}
	for _, parentHost := range service.parentHosts() {
		if check := r.config.Registry.CheckService(parentHost); check != nil {
			reschedule(check)
		}
	}
	return rescheduled
}

func (r *Core) updateStatistics(eff effects) {
	if r.config.Stats == nil {
		return
	}
	if eff.active {
		r.config.Stats.UpdateActiveChecks(eff.statsTS, 1)
	} else {
		r.config.Stats.UpdatePassiveChecks(eff.statsTS, 1)
	}
	r.config.Stats.ObserveExecution(eff.execution, eff.latency)
}

// emit dispatches the outbound events of a reducer run: the cluster
// multicast first, then the downtime edge notification, then the state
// notification, then the check result signal. A sink failure is logged and
// does not stop the remaining sinks.
func (r *Core) emit(service *Service, result *Result, eff effects) {
	if r.config.Cluster != nil {
		payload := CheckResultPayload{
			Service:     service.Name(),
			OldState:    eff.oldState,
			CheckResult: result,
		}
		if err := r.config.Cluster.SendMulticast(MulticastCheckResult, payload); err != nil {
			r.log.WithError(err).Warnf("Failed to multicast check result for service %q.",
				service.Name())
		}
	}

	if eff.sendDowntime {
		kind := NotificationDowntimeEnd
		if eff.inDowntime {
			kind = NotificationDowntimeStart
		}
		r.notify(service, kind, result)
	}

	if eff.sendProblem {
		kind := NotificationProblem
		if eff.recovery {
			kind = NotificationRecovery
		}
		r.notify(service, kind, result)
	}

	service.signals().checkResult(service, result)
}
