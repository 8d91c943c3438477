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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	check "gopkg.in/check.v1"
)

type ExecuteSuite struct {
	clock    clockwork.FakeClock
	registry *Registry
	core     *Core
	probe    *blockingProbe
	service  *Service
}

var _ = check.Suite(&ExecuteSuite{})

func (s *ExecuteSuite) SetUpTest(c *check.C) {
	s.clock = clockwork.NewFakeClockAt(time.Unix(1000000, 0))
	s.registry = NewRegistry(s.clock.Now())
	s.probe = newBlockingProbe()
	core, err := New(Config{
		Identity: "node-1",
		Registry: s.registry,
		Clock:    s.clock,
	})
	c.Assert(err, check.IsNil)
	s.core = core
	s.service, err = s.registry.AddService(ServiceConfig{
		Name:             "web",
		MaxCheckAttempts: 3,
		CheckInterval:    time.Minute,
		Probe:            s.probe,
	})
	c.Assert(err, check.IsNil)
}

func (s *ExecuteSuite) TestSingleFlight(c *check.C) {
	first := make(chan struct{})
	s.core.BeginExecuteCheck(s.service, func() { close(first) })
	s.probe.waitStarted(c)
	c.Assert(s.service.CheckRunning(), check.Equals, true)

	// surplus calls start nothing but still complete
	var surplus sync.WaitGroup
	for i := 0; i < 3; i++ {
		surplus.Add(1)
		s.core.BeginExecuteCheck(s.service, surplus.Done)
	}
	waitDone(c, &surplus)
	c.Assert(s.probe.runCount(), check.Equals, int32(1))

	s.probe.release(NewResult(StateOK, "fine"), nil)
	waitClosed(c, first)
	c.Assert(s.service.CheckRunning(), check.Equals, false)
	c.Assert(s.service.State(), check.Equals, StateOK)

	// a new check may start now
	second := make(chan struct{})
	s.core.BeginExecuteCheck(s.service, func() { close(second) })
	s.probe.waitStarted(c)
	s.probe.release(NewResult(StateOK, "fine"), nil)
	waitClosed(c, second)
	c.Assert(s.probe.runCount(), check.Equals, int32(2))
}

func (s *ExecuteSuite) TestProbeFailureBecomesUnknownResult(c *check.C) {
	done := make(chan struct{})
	s.core.BeginExecuteCheck(s.service, func() { close(done) })
	s.probe.waitStarted(c)
	s.probe.release(nil, trace.ConnectionProblem(nil, "probe crashed"))
	waitClosed(c, done)

	c.Assert(s.service.State(), check.Equals, StateUnknown)
	result := s.service.LastResult()
	c.Assert(result, check.NotNil)
	c.Assert(result.State(), check.Equals, StateUnknown)
	c.Assert(strings.Contains(result.Output(), "probe crashed"), check.Equals, true)
	c.Assert(strings.Contains(result.Output(), "web"), check.Equals, true)
	// failures count toward hardening like any problem state
	c.Assert(s.service.StateType(), check.Equals, StateTypeSoft)
	c.Assert(s.service.CheckAttempt(), check.Equals, 2)
}

func (s *ExecuteSuite) TestResultTimingFilledFromCheckInfo(c *check.C) {
	scheduled := s.clock.Now().Add(-10 * time.Second)
	s.service.SetNextCheck(scheduled)

	done := make(chan struct{})
	s.core.BeginExecuteCheck(s.service, func() { close(done) })
	s.probe.waitStarted(c)
	s.probe.release(NewResult(StateOK, "fine"), nil)
	waitClosed(c, done)

	result := s.service.LastResult()
	c.Assert(result.ScheduleStart(), check.Equals, scheduled)
	c.Assert(result.ScheduleEnd().IsZero(), check.Equals, false)
	c.Assert(result.ExecutionStart().IsZero(), check.Equals, false)
	c.Assert(result.ExecutionEnd().IsZero(), check.Equals, false)
	c.Assert(result.Active(), check.Equals, true)
	c.Assert(result.CurrentChecker(), check.Equals, "node-1")
}

func (s *ExecuteSuite) TestNextCheckRecomputedAfterRun(c *check.C) {
	done := make(chan struct{})
	s.core.BeginExecuteCheck(s.service, func() { close(done) })
	s.probe.waitStarted(c)
	s.probe.release(NewResult(StateOK, "fine"), nil)
	waitClosed(c, done)

	next := s.service.NextCheck()
	c.Assert(next.After(s.clock.Now()), check.Equals, true)
	c.Assert(next.Sub(s.clock.Now()) <= time.Minute, check.Equals, true)
}

func (s *ExecuteSuite) TestClosedCoreExecutesNothing(c *check.C) {
	s.core.Close()
	done := make(chan struct{})
	s.core.BeginExecuteCheck(s.service, func() { close(done) })
	waitClosed(c, done)
	c.Assert(s.probe.runCount(), check.Equals, int32(0))
}

func (s *ExecuteSuite) TestNilCompletionIsAccepted(c *check.C) {
	s.core.BeginExecuteCheck(s.service, nil)
	s.probe.waitStarted(c)
	s.probe.release(NewResult(StateOK, "fine"), nil)
	// drain: wait until the in-flight flag clears
	for i := 0; i < 100 && s.service.CheckRunning(); i++ {
		time.Sleep(10 * time.Millisecond)
	}
	c.Assert(s.service.CheckRunning(), check.Equals, false)
}

// blockingProbe blocks every run until released with a canned outcome.
type blockingProbe struct {
	started chan struct{}
	outcome chan probeOutcome
	runs    atomic.Int32
}

type probeOutcome struct {
	result *Result
	err    error
}

func newBlockingProbe() *blockingProbe {
	return &blockingProbe{
		started: make(chan struct{}, 16),
		outcome: make(chan probeOutcome),
	}
}

func (r *blockingProbe) Run(ctx context.Context, service *Service, macros map[string]string) (*Result, error) {
	r.runs.Add(1)
	r.started <- struct{}{}
	outcome := <-r.outcome
	return outcome.result, outcome.err
}

func (r *blockingProbe) waitStarted(c *check.C) {
	select {
	case <-r.started:
	case <-time.After(5 * time.Second):
		c.Fatal("timeout waiting for the probe to start")
	}
}

func (r *blockingProbe) release(result *Result, err error) {
	r.outcome <- probeOutcome{result: result, err: err}
}

func (r *blockingProbe) runCount() int32 {
	return r.runs.Load()
}

func waitClosed(c *check.C, ch chan struct{}) {
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		c.Fatal("timeout waiting for completion")
	}
}

func waitDone(c *check.C, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	waitClosed(c, done)
}
