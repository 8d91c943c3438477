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
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"

	"github.com/gravitational/vigil/lib/defaults"
)

// Acknowledgement is an operator-set flag that silences problem
// notifications for a service.
type Acknowledgement int

const (
	// AckNone means the service is not acknowledged
	AckNone Acknowledgement = iota
	// AckNormal silences notifications until the next state change
	AckNormal
	// AckSticky silences notifications until the service recovers to a
	// confirmed OK
	AckSticky
)

// ServiceConfig describes the immutable configuration of a monitored
// service.
type ServiceConfig struct {
	// Name uniquely identifies the service within the cluster
	Name string
	// Host names the host this service runs on
	Host string
	// CheckCommand is the human-readable identity of the check command
	CheckCommand string
	// Probe executes the actual check. Optional, the core falls back to
	// its default probe
	Probe Probe
	// MaxCheckAttempts is the retry threshold before a problem state
	// hardens. 0 means the default
	MaxCheckAttempts int
	// CheckInterval is the time between checks in a confirmed state.
	// 0 means the default
	CheckInterval time.Duration
	// RetryInterval is the time between checks in a provisional state.
	// 0 derives it from the check interval
	RetryInterval time.Duration
	// CheckPeriod restricts active checking to a time window. Optional
	CheckPeriod TimePeriod
	// AllowedCheckers lists glob patterns of node identities permitted to
	// actively check this service. Empty means any
	AllowedCheckers []string
	// ParentServices names the services this service depends on
	ParentServices []string
	// ParentHosts names the hosts this service depends on
	ParentHosts []string
	// SchedulingOffset is a deterministic per-service phase used to
	// anti-synchronize check times, typically a hash of the name
	SchedulingOffset int64
}

// Service is a monitored unit. Configuration is read-only after
// construction; runtime state is guarded by a per-service mutex that must
// never be held across calls into external sinks. The downtime engine is
// the one collaborator consulted while it is held.
type Service struct {
	config   ServiceConfig
	registry *Registry

	mu    sync.Mutex
	owner atomic.Int64

	state               State
	stateType           StateType
	lastState           State
	lastStateType       StateType
	lastReachable       bool
	checkAttempt        int
	nextCheck           time.Time
	lastStateChange     time.Time
	lastHardStateChange time.Time
	lastResult          *Result
	lastInDowntime      bool
	currentChecker      string
	enableActiveChecks  bool
	enablePassiveChecks bool
	forceNextCheck      bool
	checkRunning        bool
	acknowledgement     Acknowledgement
	ackExpiry           time.Time

	dirty map[string]struct{}
}

func newService(config ServiceConfig, registry *Registry) *Service {
	return &Service{
		config:              config,
		registry:            registry,
		state:               StateUnknown,
		stateType:           StateTypeSoft,
		lastState:           StateUnknown,
		lastStateType:       StateTypeSoft,
		lastReachable:       true,
		checkAttempt:        1,
		enableActiveChecks:  true,
		enablePassiveChecks: true,
		dirty:               make(map[string]struct{}),
	}
}

// Name returns the unique name of the service.
func (r *Service) Name() string { return r.config.Name }

// CheckCommand returns the identity of the configured check command.
func (r *Service) CheckCommand() string { return r.config.CheckCommand }

// Probe returns the configured probe, or nil if the service relies on the
// core's default probe.
func (r *Service) Probe() Probe { return r.config.Probe }

// MaxCheckAttempts returns the configured retry threshold or the default.
func (r *Service) MaxCheckAttempts() int {
	if r.config.MaxCheckAttempts == 0 {
		return defaults.MaxCheckAttempts
	}
	return r.config.MaxCheckAttempts
}

// CheckInterval returns the configured check interval or the default.
func (r *Service) CheckInterval() time.Duration {
	if r.config.CheckInterval == 0 {
		return defaults.CheckInterval
	}
	return r.config.CheckInterval
}

// RetryInterval returns the configured retry interval. When unset it is
// derived from the effective check interval.
func (r *Service) RetryInterval() time.Duration {
	if r.config.RetryInterval == 0 {
		return r.CheckInterval() / defaults.CheckIntervalDivisor
	}
	return r.config.RetryInterval
}

// CheckPeriod returns the configured check window, or nil.
func (r *Service) CheckPeriod() TimePeriod { return r.config.CheckPeriod }

// SchedulingOffset returns the per-service scheduling phase.
func (r *Service) SchedulingOffset() int64 { return r.config.SchedulingOffset }

// IsAllowedChecker reports whether the given node identity may actively
// check this service. An empty pattern list allows any checker.
func (r *Service) IsAllowedChecker(checker string) bool {
	if len(r.config.AllowedCheckers) == 0 {
		return true
	}
	for _, pattern := range r.config.AllowedCheckers {
		if ok, err := path.Match(pattern, checker); err == nil && ok {
			return true
		}
	}
	return false
}

// Host returns the host object this service runs on, or nil when the
// service has no host or the host is not registered.
func (r *Service) Host() *Host {
	if r.config.Host == "" || r.registry == nil {
		return nil
	}
	host, err := r.registry.Host(r.config.Host)
	if err != nil {
		return nil
	}
	return host
}

// IsReachable reports whether the service is reachable through its
// dependency chain: its host and all parent hosts are reachable and no
// parent service is in a confirmed problem state.
func (r *Service) IsReachable() bool {
	if host := r.Host(); host != nil && !host.Reachable() {
		return false
	}
	for _, parent := range r.parentServices() {
		if parent.State() != StateOK && parent.StateType() == StateTypeHard {
			return false
		}
	}
	for _, parent := range r.parentHosts() {
		if !parent.Reachable() {
			return false
		}
	}
	return true
}

// parentServices resolves the configured parent services, silently
// skipping unregistered names.
func (r *Service) parentServices() []*Service {
	if r.registry == nil {
		return nil
	}
	var parents []*Service
	for _, name := range r.config.ParentServices {
		parent, err := r.registry.Service(name)
		if err != nil {
			continue
		}
		parents = append(parents, parent)
	}
	return parents
}

// parentHosts resolves the configured parent hosts, silently skipping
// unregistered names.
func (r *Service) parentHosts() []*Host {
	if r.registry == nil {
		return nil
	}
	var parents []*Host
	for _, name := range r.config.ParentHosts {
		parent, err := r.registry.Host(name)
		if err != nil {
			continue
		}
		parents = append(parents, parent)
	}
	return parents
}

func (r *Service) State() State {
	r.lock()
	defer r.unlock()
	return r.state
}

func (r *Service) StateType() StateType {
	r.lock()
	defer r.unlock()
	return r.stateType
}

func (r *Service) LastState() State {
	r.lock()
	defer r.unlock()
	return r.lastState
}

func (r *Service) LastStateType() StateType {
	r.lock()
	defer r.unlock()
	return r.lastStateType
}

func (r *Service) LastReachable() bool {
	r.lock()
	defer r.unlock()
	return r.lastReachable
}

func (r *Service) CheckAttempt() int {
	r.lock()
	defer r.unlock()
	return r.checkAttempt
}

func (r *Service) NextCheck() time.Time {
	r.lock()
	defer r.unlock()
	return r.nextCheck
}

// LastStateChange returns the time of the last state change, or the
// process start time if no transition has happened yet.
func (r *Service) LastStateChange() time.Time {
	r.lock()
	defer r.unlock()
	return r.orStartTime(r.lastStateChange)
}

// LastHardStateChange returns the time of the last hard state change, or
// the process start time if no hard transition has happened yet.
func (r *Service) LastHardStateChange() time.Time {
	r.lock()
	defer r.unlock()
	return r.orStartTime(r.lastHardStateChange)
}

func (r *Service) LastResult() *Result {
	r.lock()
	defer r.unlock()
	return r.lastResult
}

func (r *Service) LastInDowntime() bool {
	r.lock()
	defer r.unlock()
	return r.lastInDowntime
}

func (r *Service) CurrentChecker() string {
	r.lock()
	defer r.unlock()
	return r.currentChecker
}

func (r *Service) EnableActiveChecks() bool {
	r.lock()
	defer r.unlock()
	return r.enableActiveChecks
}

func (r *Service) EnablePassiveChecks() bool {
	r.lock()
	defer r.unlock()
	return r.enablePassiveChecks
}

func (r *Service) ForceNextCheck() bool {
	r.lock()
	defer r.unlock()
	return r.forceNextCheck
}

func (r *Service) CheckRunning() bool {
	r.lock()
	defer r.unlock()
	return r.checkRunning
}

func (r *Service) Acknowledgement() Acknowledgement {
	r.lock()
	defer r.unlock()
	return r.acknowledgement
}

func (r *Service) AcknowledgementExpiry() time.Time {
	r.lock()
	defer r.unlock()
	return r.ackExpiry
}

// IsAcknowledged reports whether the service carries an unexpired
// acknowledgement as of now.
func (r *Service) IsAcknowledged(now time.Time) bool {
	r.lock()
	defer r.unlock()
	return r.isAcknowledgedLocked(now)
}

func (r *Service) isAcknowledgedLocked(now time.Time) bool {
	if r.acknowledgement == AckNone {
		return false
	}
	if !r.ackExpiry.IsZero() && r.ackExpiry.Before(now) {
		return false
	}
	return true
}

// SetNextCheck updates the next check time and fires the schedule-change
// signal.
func (r *Service) SetNextCheck(t time.Time) {
	r.lock()
	r.setNextCheckLocked(t)
	r.unlock()
	r.signals().nextCheckChanged(r)
}

// SetCurrentChecker reassigns the node responsible for checking this
// service and fires the checker-change signal.
func (r *Service) SetCurrentChecker(checker string) {
	r.lock()
	r.setCurrentCheckerLocked(checker)
	r.unlock()
	r.signals().checkerChanged(r)
}

func (r *Service) SetEnableActiveChecks(enabled bool) {
	r.lock()
	defer r.unlock()
	r.enableActiveChecks = enabled
	r.touch("enable_active_checks")
}

func (r *Service) SetEnablePassiveChecks(enabled bool) {
	r.lock()
	defer r.unlock()
	r.enablePassiveChecks = enabled
	r.touch("enable_passive_checks")
}

func (r *Service) SetForceNextCheck(forced bool) {
	r.lock()
	defer r.unlock()
	r.forceNextCheck = forced
	r.touch("force_next_check")
}

// SetAcknowledgement sets the acknowledgement kind and its expiry.
// A zero expiry means the acknowledgement does not expire.
func (r *Service) SetAcknowledgement(ack Acknowledgement, expiry time.Time) {
	r.lock()
	defer r.unlock()
	r.setAcknowledgementLocked(ack, expiry)
}

func (r *Service) setAcknowledgementLocked(ack Acknowledgement, expiry time.Time) {
	r.acknowledgement = ack
	r.touch("acknowledgement")
	r.ackExpiry = expiry
	r.touch("acknowledgement_expiry")
}

func (r *Service) setNextCheckLocked(t time.Time) {
	r.nextCheck = t
	r.touch("next_check")
}

func (r *Service) setCurrentCheckerLocked(checker string) {
	r.currentChecker = checker
	r.touch("current_checker")
}

func (r *Service) setStateLocked(state State) {
	r.state = state
	r.touch("state")
}

func (r *Service) setStateTypeLocked(stateType StateType) {
	r.stateType = stateType
	r.touch("state_type")
}

func (r *Service) setLastStateLocked(state State) {
	r.lastState = state
	r.touch("last_state")
}

func (r *Service) setLastStateTypeLocked(stateType StateType) {
	r.lastStateType = stateType
	r.touch("last_state_type")
}

func (r *Service) setLastReachableLocked(reachable bool) {
	r.lastReachable = reachable
	r.touch("last_reachable")
}

func (r *Service) setCheckAttemptLocked(attempt int) {
	r.checkAttempt = attempt
	r.touch("check_attempt")
}

func (r *Service) setLastStateChangeLocked(t time.Time) {
	r.lastStateChange = t
	r.touch("last_state_change")
}

func (r *Service) setLastHardStateChangeLocked(t time.Time) {
	r.lastHardStateChange = t
	r.touch("last_hard_state_change")
}

func (r *Service) setLastResultLocked(result *Result) {
	r.lastResult = result
	r.touch("last_result")
}

func (r *Service) setLastInDowntimeLocked(inDowntime bool) {
	r.lastInDowntime = inDowntime
	r.touch("last_in_downtime")
}

// touch records a dirty field for the next persistence flush.
func (r *Service) touch(field string) {
	r.dirty[field] = struct{}{}
}

// snapshotLocked captures the persisted fields and drains the dirty set.
func (r *Service) snapshotLocked(now time.Time) ServiceSnapshot {
	var output string
	if r.lastResult != nil {
		output = r.lastResult.Output()
	}
	dirty := make([]string, 0, len(r.dirty))
	for field := range r.dirty {
		dirty = append(dirty, field)
	}
	r.dirty = make(map[string]struct{})
	return ServiceSnapshot{
		Name:                r.config.Name,
		State:               r.state,
		StateType:           r.stateType,
		CheckAttempt:        r.checkAttempt,
		NextCheck:           r.nextCheck,
		LastStateChange:     r.orStartTime(r.lastStateChange),
		LastHardStateChange: r.orStartTime(r.lastHardStateChange),
		LastInDowntime:      r.lastInDowntime,
		CurrentChecker:      r.currentChecker,
		Output:              output,
		CapturedAt:          now,
		Dirty:               dirty,
	}
}

func (r *Service) orStartTime(t time.Time) time.Time {
	if t.IsZero() && r.registry != nil {
		return r.registry.StartTime()
	}
	return t
}

func (r *Service) signals() *Signals {
	if r.registry == nil {
		return &Signals{}
	}
	return &r.registry.signals
}

// lock acquires the service mutex. Acquiring it again from the goroutine
// that already holds it is a programmer error and panics instead of
// deadlocking.
func (r *Service) lock() {
	if id := goid.Get(); r.owner.Load() == id {
		panic("reentrant lock acquisition on service " + r.config.Name)
	}
	r.mu.Lock()
	r.owner.Store(goid.Get())
}

func (r *Service) unlock() {
	r.owner.Store(0)
	r.mu.Unlock()
}
