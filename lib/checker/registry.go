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
	"sort"
	"sync"
	"time"

	"github.com/gravitational/trace"
)

// Signals are the subscription points for schedule and check events.
// Handlers run outside the service lock and must not call back into the
// service that fired them.
type Signals struct {
	// OnNextCheckChanged fires after a service's next check time changes
	OnNextCheckChanged func(*Service)
	// OnCheckerChanged fires after a service is reassigned to a checker
	OnCheckerChanged func(*Service)
	// OnCheckResult fires after a check result has been fully applied
	OnCheckResult func(*Service, *Result)
}

func (r *Signals) nextCheckChanged(service *Service) {
	if r.OnNextCheckChanged != nil {
		r.OnNextCheckChanged(service)
	}
}

func (r *Signals) checkerChanged(service *Service) {
	if r.OnCheckerChanged != nil {
		r.OnCheckerChanged(service)
	}
}

func (r *Signals) checkResult(service *Service, result *Result) {
	if r.OnCheckResult != nil {
		r.OnCheckResult(service, result)
	}
}

// Host is a monitored machine. Services reference hosts by name through
// the registry; a host is reachable until marked otherwise.
type Host struct {
	name         string
	checkService string

	mu        sync.Mutex
	reachable bool
}

// HostConfig describes a host.
type HostConfig struct {
	// Name uniquely identifies the host
	Name string
	// CheckService names the service that checks the host itself. Optional
	CheckService string
}

// Name returns the host name.
func (r *Host) Name() string { return r.name }

// CheckServiceName returns the name of the service checking this host,
// or empty.
func (r *Host) CheckServiceName() string { return r.checkService }

// Reachable reports whether the host is considered reachable.
func (r *Host) Reachable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reachable
}

// SetReachable marks the host reachable or unreachable.
func (r *Host) SetReachable(reachable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reachable = reachable
}

// Registry resolves service and host names to their objects. Dependency
// links between services are stored as names and resolved through the
// registry to avoid cyclic ownership.
type Registry struct {
	startTime time.Time
	signals   Signals

	mu       sync.RWMutex
	services map[string]*Service
	hosts    map[string]*Host
}

// NewRegistry creates an empty registry. startTime is used as the default
// for state-change timestamps that have never been set.
func NewRegistry(startTime time.Time) *Registry {
	return &Registry{
		startTime: startTime,
		services:  make(map[string]*Service),
		hosts:     make(map[string]*Host),
	}
}

// StartTime returns the process start time the registry was created with.
func (r *Registry) StartTime() time.Time { return r.startTime }

// SetSignals installs the event subscription points. Must be called before
// any check executes.
func (r *Registry) SetSignals(signals Signals) { r.signals = signals }

// AddService registers a new service.
func (r *Registry) AddService(config ServiceConfig) (*Service, error) {
	if config.Name == "" {
		return nil, trace.BadParameter("service name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[config.Name]; exists {
		return nil, trace.AlreadyExists("service %q is already registered", config.Name)
	}
	service := newService(config, r)
	r.services[config.Name] = service
	return service, nil
}

// Service resolves a service by name.
func (r *Registry) Service(name string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	service, exists := r.services[name]
	if !exists {
		return nil, trace.NotFound("service %q is not registered", name)
	}
	return service, nil
}

// Services returns all registered services in name order.
func (r *Registry) Services() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	services := make([]*Service, 0, len(r.services))
	for _, service := range r.services {
		services = append(services, service)
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].Name() < services[j].Name()
	})
	return services
}

// AddHost registers a new host.
func (r *Registry) AddHost(config HostConfig) (*Host, error) {
	if config.Name == "" {
		return nil, trace.BadParameter("host name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hosts[config.Name]; exists {
		return nil, trace.AlreadyExists("host %q is already registered", config.Name)
	}
	host := &Host{
		name:         config.Name,
		checkService: config.CheckService,
		reachable:    true,
	}
	r.hosts[config.Name] = host
	return host, nil
}

// Host resolves a host by name.
func (r *Registry) Host(name string) (*Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	host, exists := r.hosts[name]
	if !exists {
		return nil, trace.NotFound("host %q is not registered", name)
	}
	return host, nil
}

// CheckService resolves the service that checks the host itself, or nil
// when the host has none.
func (r *Registry) CheckService(host *Host) *Service {
	if host.checkService == "" {
		return nil
	}
	service, err := r.Service(host.checkService)
	if err != nil {
		return nil
	}
	return service
}
