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

// Package checker implements the check execution and state-transition core
// of the monitoring system: it schedules active checks, accepts passive
// results, applies the soft/hard state machine and fans out the resulting
// events to the injected collaborators.
package checker

import (
	"sync/atomic"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/vigil/lib/defaults"
)

// Config configures the check core.
type Config struct {
	// Identity is the name of the local node as known to the cluster
	Identity string
	// Registry resolves service and host names
	Registry *Registry
	// DefaultProbe runs checks for services without their own probe.
	// Optional
	DefaultProbe Probe
	// Macros resolves the macro set attached to results. Optional,
	// defaults to DefaultMacros
	Macros MacroExpander
	// Downtime answers downtime queries. Optional
	Downtime DowntimeEngine
	// Notifier delivers notification requests. Optional
	Notifier Notifier
	// Stats receives check accounting. Optional
	Stats StatsSink
	// Cluster multicasts applied results to peer nodes. Optional
	Cluster ClusterSink
	// Persistence receives service snapshots after every applied result.
	// Optional
	Persistence Persistence
	// CheckTimeout bounds a single probe execution
	CheckTimeout time.Duration
	// Clock specifies the time implementation.
	// Overridden in tests
	Clock clockwork.Clock
	// FieldLogger specifies the logger
	FieldLogger logrus.FieldLogger
}

func (r *Config) checkAndSetDefaults() error {
	if r.Registry == nil {
		return trace.BadParameter("missing parameter Registry")
	}
	if r.Macros == nil {
		r.Macros = DefaultMacros
	}
	if r.CheckTimeout == 0 {
		r.CheckTimeout = defaults.CheckTimeout
	}
	if r.Clock == nil {
		r.Clock = clockwork.NewRealClock()
	}
	if r.FieldLogger == nil {
		r.FieldLogger = logrus.WithField(trace.Component, "checker")
	}
	return nil
}

// Core drives check execution and result processing for the services of a
// registry.
type Core struct {
	config Config
	log    logrus.FieldLogger
	closed atomic.Bool
}

// New creates a check core from the given configuration.
func New(config Config) (*Core, error) {
	if err := config.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Core{
		config: config,
		log:    config.FieldLogger,
	}, nil
}

// Registry returns the registry the core operates on.
func (r *Core) Registry() *Registry { return r.config.Registry }

// Identity returns the local node identity.
func (r *Core) Identity() string { return r.config.Identity }

// Close shuts the core down cooperatively: new check executions become
// no-ops while outstanding completions still run and still apply their
// results.
func (r *Core) Close() { r.closed.Store(true) }

func (r *Core) isClosed() bool { return r.closed.Load() }

func (r *Core) now() time.Time { return r.config.Clock.Now() }

// notify requests a notification, logging and swallowing sink failures.
func (r *Core) notify(service *Service, kind NotificationKind, result *Result) {
	if r.config.Notifier == nil {
		return
	}
	if err := r.config.Notifier.Notify(service, kind, result); err != nil {
		r.log.WithError(err).Warnf("Failed to deliver %v notification for service %q.",
			kind, service.Name())
	}
}

// flush pushes a snapshot of the service to the persistence sink.
func (r *Core) flush(service *Service) {
	if r.config.Persistence == nil {
		return
	}
	service.lock()
	snapshot := service.snapshotLocked(r.now())
	service.unlock()
	if err := r.config.Persistence.Flush(snapshot); err != nil {
		r.log.WithError(err).Warnf("Failed to flush service %q.", service.Name())
	}
}
