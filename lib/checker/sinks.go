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
	"time"
)

// Probe executes a single check against a service and returns a partial
// result. Implementations may block for up to the deadline on the context;
// any error return is converted by the executor into an unknown-state
// result.
type Probe interface {
	// Run executes the check. The returned result may leave timing fields
	// unset, they are filled by the executor
	Run(ctx context.Context, service *Service, macros map[string]string) (*Result, error)
}

// MacroExpander resolves the macro set for a service, optionally in the
// context of a specific result.
type MacroExpander func(service *Service, result *Result) map[string]string

// NotificationKind classifies a notification request.
type NotificationKind int

const (
	// NotificationProblem reports a confirmed problem state
	NotificationProblem NotificationKind = iota
	// NotificationRecovery reports a recovery to OK
	NotificationRecovery
	// NotificationDowntimeStart reports the service entering downtime
	NotificationDowntimeStart
	// NotificationDowntimeEnd reports the service leaving downtime
	NotificationDowntimeEnd
)

// String returns a human-readable name for the notification kind.
func (k NotificationKind) String() string {
	switch k {
	case NotificationProblem:
		return "problem"
	case NotificationRecovery:
		return "recovery"
	case NotificationDowntimeStart:
		return "downtime-start"
	case NotificationDowntimeEnd:
		return "downtime-end"
	default:
		return "unknown"
	}
}

// Notifier delivers notification requests. Failures are logged by the
// caller and never abort result processing.
type Notifier interface {
	Notify(service *Service, kind NotificationKind, result *Result) error
}

// DowntimeEngine answers whether a service is in a scheduled downtime and
// activates downtimes that have become due. Implementations are called
// with the service lock held and must not call back into the service.
type DowntimeEngine interface {
	// InDowntime reports whether the service is currently in downtime
	InDowntime(service *Service) bool
	// TriggerDue activates any downtime for the service that has become due
	TriggerDue(service *Service)
}

// StatsSink receives check accounting updates.
type StatsSink interface {
	// UpdateActiveChecks records n active checks as of ts
	UpdateActiveChecks(ts time.Time, n int)
	// UpdatePassiveChecks records n passive checks as of ts
	UpdatePassiveChecks(ts time.Time, n int)
	// ObserveExecution records the execution time and latency of a check
	ObserveExecution(execution, latency time.Duration)
}

// ClusterSink multicasts a message to the peer nodes of the cluster.
type ClusterSink interface {
	SendMulticast(method string, payload interface{}) error
}

// ServiceSnapshot is a point-in-time copy of a service's persisted fields
// together with the names of the fields modified since the last flush.
type ServiceSnapshot struct {
	Name                string
	State               State
	StateType           StateType
	CheckAttempt        int
	NextCheck           time.Time
	LastStateChange     time.Time
	LastHardStateChange time.Time
	LastInDowntime      bool
	CurrentChecker      string
	Output              string
	CapturedAt          time.Time
	Dirty               []string
}

// Persistence receives service snapshots after every applied result so
// downstream observers see a coherent state before the cluster message is
// sent.
type Persistence interface {
	Flush(snapshot ServiceSnapshot) error
}

// CheckResultPayload is the field-level wire form of the cluster multicast
// sent after every applied result. OldState lets peers detect transitions
// locally.
type CheckResultPayload struct {
	Service     string  `json:"service"`
	OldState    State   `json:"old_state"`
	CheckResult *Result `json:"check_result"`
}

// MulticastCheckResult is the cluster message method for check results.
const MulticastCheckResult = "checker::CheckResult"
