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
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/vigil/lib/defaults"
)

func newTestRegistry(t *testing.T) *Registry {
	return NewRegistry(time.Unix(1600000000, 0))
}

func TestServiceDefaultsWhenUnset(t *testing.T) {
	registry := newTestRegistry(t)
	service, err := registry.AddService(ServiceConfig{Name: "web"})
	require.NoError(t, err)

	assert.Equal(t, StateUnknown, service.State())
	assert.Equal(t, StateTypeSoft, service.StateType())
	assert.Equal(t, StateTypeSoft, service.LastStateType())
	assert.True(t, service.LastReachable())
	assert.Equal(t, 1, service.CheckAttempt())
	assert.Equal(t, registry.StartTime(), service.LastStateChange())
	assert.Equal(t, registry.StartTime(), service.LastHardStateChange())
	assert.True(t, service.EnableActiveChecks())
	assert.True(t, service.EnablePassiveChecks())
	assert.False(t, service.ForceNextCheck())
	assert.Equal(t, defaults.MaxCheckAttempts, service.MaxCheckAttempts())
	assert.Equal(t, defaults.CheckInterval, service.CheckInterval())
	assert.Equal(t, defaults.CheckInterval/defaults.CheckIntervalDivisor, service.RetryInterval())
}

func TestRetryIntervalFollowsConfiguredCheckInterval(t *testing.T) {
	registry := newTestRegistry(t)
	service, err := registry.AddService(ServiceConfig{
		Name:          "web",
		CheckInterval: time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, service.RetryInterval())
}

func TestSettersRecordDirtyFields(t *testing.T) {
	registry := newTestRegistry(t)
	service, err := registry.AddService(ServiceConfig{Name: "web"})
	require.NoError(t, err)

	service.SetNextCheck(time.Unix(1600000100, 0))
	service.SetEnableActiveChecks(false)

	service.lock()
	snapshot := service.snapshotLocked(time.Unix(1600000200, 0))
	service.unlock()
	assert.ElementsMatch(t, []string{"next_check", "enable_active_checks"}, snapshot.Dirty)

	// the dirty set drains on snapshot
	service.lock()
	snapshot = service.snapshotLocked(time.Unix(1600000300, 0))
	service.unlock()
	assert.Empty(t, snapshot.Dirty)
}

func TestReentrantLockPanics(t *testing.T) {
	registry := newTestRegistry(t)
	service, err := registry.AddService(ServiceConfig{Name: "web"})
	require.NoError(t, err)

	service.lock()
	defer service.unlock()
	assert.Panics(t, func() { service.lock() })
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := newTestRegistry(t)
	_, err := registry.AddService(ServiceConfig{Name: "web"})
	require.NoError(t, err)
	_, err = registry.AddService(ServiceConfig{Name: "web"})
	assert.True(t, trace.IsAlreadyExists(err))

	_, err = registry.Service("missing")
	assert.True(t, trace.IsNotFound(err))
}

func TestAllowedCheckers(t *testing.T) {
	registry := newTestRegistry(t)
	service, err := registry.AddService(ServiceConfig{
		Name:            "web",
		AllowedCheckers: []string{"node-*", "standby"},
	})
	require.NoError(t, err)

	assert.True(t, service.IsAllowedChecker("node-1"))
	assert.True(t, service.IsAllowedChecker("standby"))
	assert.False(t, service.IsAllowedChecker("other"))

	unrestricted, err := registry.AddService(ServiceConfig{Name: "db"})
	require.NoError(t, err)
	assert.True(t, unrestricted.IsAllowedChecker("anyone"))
}

func TestAcknowledgementExpiry(t *testing.T) {
	registry := newTestRegistry(t)
	service, err := registry.AddService(ServiceConfig{Name: "web"})
	require.NoError(t, err)

	now := time.Unix(1600000000, 0)
	assert.False(t, service.IsAcknowledged(now))

	service.SetAcknowledgement(AckNormal, now.Add(time.Hour))
	assert.True(t, service.IsAcknowledged(now))
	assert.False(t, service.IsAcknowledged(now.Add(2*time.Hour)))

	// zero expiry never expires
	service.SetAcknowledgement(AckSticky, time.Time{})
	assert.True(t, service.IsAcknowledged(now.Add(1000*time.Hour)))
}

func TestReachabilityThroughDependencies(t *testing.T) {
	registry := newTestRegistry(t)
	host, err := registry.AddHost(HostConfig{Name: "web01"})
	require.NoError(t, err)
	parent, err := registry.AddService(ServiceConfig{Name: "db"})
	require.NoError(t, err)
	service, err := registry.AddService(ServiceConfig{
		Name:           "web",
		Host:           "web01",
		ParentServices: []string{"db", "not-registered"},
	})
	require.NoError(t, err)

	assert.True(t, service.IsReachable())

	host.SetReachable(false)
	assert.False(t, service.IsReachable())
	host.SetReachable(true)

	// a confirmed problem on a parent makes the service unreachable
	parent.lock()
	parent.setStateLocked(StateCritical)
	parent.setStateTypeLocked(StateTypeHard)
	parent.unlock()
	assert.False(t, service.IsReachable())

	// a provisional problem does not
	parent.lock()
	parent.setStateTypeLocked(StateTypeSoft)
	parent.unlock()
	assert.True(t, service.IsReachable())
}
