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

// Package downtime implements a time-window downtime engine for services.
package downtime

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gravitational/vigil/lib/checker"
)

// Window describes a scheduled downtime for a service. A fixed window is
// active for its entire span. A flexible window arms during its span and
// becomes active for Duration once the service develops a problem inside
// it.
type Window struct {
	// Start is the beginning of the scheduling span
	Start time.Time
	// End is the end of the scheduling span
	End time.Time
	// Fixed selects fixed semantics
	Fixed bool
	// Duration is how long a flexible downtime stays active once
	// triggered
	Duration time.Duration

	triggeredAt time.Time
}

// Engine tracks downtime windows per service. It never calls back into a
// service and is safe to consult while a service lock is held.
type Engine struct {
	clock clockwork.Clock

	mu      sync.Mutex
	windows map[string][]*Window
}

// New creates an empty downtime engine.
func New(clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		clock:   clock,
		windows: make(map[string][]*Window),
	}
}

// Add schedules a downtime window for the named service.
func (r *Engine) Add(service string, window Window) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows[service] = append(r.windows[service], &window)
}

// InDowntime reports whether the service is currently in downtime.
func (r *Engine) InDowntime(service *checker.Service) bool {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, window := range r.windows[service.Name()] {
		if window.activeAt(now) {
			return true
		}
	}
	return false
}

// TriggerDue activates every armed flexible window whose span contains the
// current time.
func (r *Engine) TriggerDue(service *checker.Service) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, window := range r.windows[service.Name()] {
		if window.Fixed || !window.triggeredAt.IsZero() {
			continue
		}
		if window.contains(now) {
			window.triggeredAt = now
		}
	}
}

func (r *Window) contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

func (r *Window) activeAt(t time.Time) bool {
	if r.Fixed {
		return r.contains(t)
	}
	if r.triggeredAt.IsZero() {
		return false
	}
	return t.Before(r.triggeredAt.Add(r.Duration))
}
