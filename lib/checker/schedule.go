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

import "time"

// UpdateNextCheck computes and stores the time of the next check for the
// service. Services in a provisional state are rechecked on the retry
// cadence; the per-service scheduling offset phases services with
// identical intervals apart so they do not synchronize.
func (r *Core) UpdateNextCheck(service *Service) {
	service.lock()
	interval := service.CheckInterval()
	if service.stateType == StateTypeSoft {
		interval = service.RetryInterval()
	}
	now := r.now()
	var adj time.Duration
	if interval > time.Second {
		intervalMs := interval.Milliseconds()
		adjMs := (now.UnixMilli() + service.SchedulingOffset()) % intervalMs
		if adjMs < 0 {
			adjMs += intervalMs
		}
		adj = time.Duration(adjMs) * time.Millisecond
	}
	service.setNextCheckLocked(now.Add(interval - adj))
	service.unlock()
	service.signals().nextCheckChanged(service)
}

// IsCheckEligible reports whether an active check of the service may start
// at time t on the node with the given identity.
func (r *Core) IsCheckEligible(service *Service, t time.Time) bool {
	service.lock()
	enabled := service.enableActiveChecks
	running := service.checkRunning
	service.unlock()
	if !enabled || running {
		return false
	}
	if period := service.CheckPeriod(); period != nil && !period.Contains(t) {
		return false
	}
	return service.IsAllowedChecker(r.config.Identity)
}
