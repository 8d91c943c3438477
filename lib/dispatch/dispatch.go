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

// Package dispatch drives the check core: it periodically scans the
// registry for services that are due and starts their checks on a bounded
// pool of workers.
package dispatch

import (
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/vigil/lib/checker"
	"github.com/gravitational/vigil/lib/defaults"
)

// Config configures the dispatcher.
type Config struct {
	// Core executes the checks
	Core *checker.Core
	// Workers limits the number of checks in flight at once
	Workers int
	// Interval is the scan cadence
	Interval time.Duration
	// Clock specifies the time implementation.
	// Overridden in tests
	Clock clockwork.Clock
	// FieldLogger specifies the logger
	FieldLogger logrus.FieldLogger
}

func (r *Config) checkAndSetDefaults() error {
	if r.Core == nil {
		return trace.BadParameter("missing parameter Core")
	}
	if r.Workers == 0 {
		r.Workers = defaults.DispatchWorkers
	}
	if r.Interval == 0 {
		r.Interval = defaults.DispatchInterval
	}
	if r.Clock == nil {
		r.Clock = clockwork.NewRealClock()
	}
	if r.FieldLogger == nil {
		r.FieldLogger = logrus.WithField(trace.Component, "dispatch")
	}
	return nil
}

// Dispatcher runs the scan loop.
type Dispatcher struct {
	config Config
	log    logrus.FieldLogger
	slots  chan struct{}
	stop   chan chan struct{}
	once   sync.Once
}

// New creates a dispatcher from the given configuration.
func New(config Config) (*Dispatcher, error) {
	if err := config.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Dispatcher{
		config: config,
		log:    config.FieldLogger,
		slots:  make(chan struct{}, config.Workers),
		stop:   make(chan chan struct{}),
	}, nil
}

// Start launches the scan loop. Start is idempotent.
func (r *Dispatcher) Start() {
	r.once.Do(func() {
		go r.loop()
	})
}

// Stop terminates the scan loop and waits for it to exit. Checks already
// in flight run to completion through the core.
func (r *Dispatcher) Stop() {
	c := make(chan struct{})
	r.stop <- c
	<-c
}

func (r *Dispatcher) loop() {
	ticker := r.config.Clock.NewTicker(r.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case c := <-r.stop:
			close(c)
			return

		case <-ticker.Chan():
			r.scan()
		}
	}
}

// scan starts a check for every due service for which a worker slot is
// available. Slots are freed by the executor's completion callback.
func (r *Dispatcher) scan() {
	now := r.config.Clock.Now()
	for _, service := range r.config.Core.Registry().Services() {
		if !r.due(service, now) {
			continue
		}
		if !r.config.Core.IsCheckEligible(service, now) {
			continue
		}
		select {
		case r.slots <- struct{}{}:
		default:
			// worker pool exhausted, the service stays due and is
			// picked up on a later scan
			return
		}
		if service.ForceNextCheck() {
			service.SetForceNextCheck(false)
		}
		// claim the service for this node so peers observe who produced
		// its results
		if service.CurrentChecker() != r.config.Core.Identity() {
			service.SetCurrentChecker(r.config.Core.Identity())
		}
		r.log.Debugf("Dispatching check for service %q.", service.Name())
		r.config.Core.BeginExecuteCheck(service, func() {
			<-r.slots
		})
	}
}

func (r *Dispatcher) due(service *checker.Service, now time.Time) bool {
	if service.ForceNextCheck() {
		return true
	}
	next := service.NextCheck()
	return !next.After(now)
}
