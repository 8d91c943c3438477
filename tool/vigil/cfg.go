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

package main

import (
	"hash/fnv"
	"os"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v2"

	"github.com/gravitational/vigil/lib/checker"
)

// config describes the monitored object inventory loaded from the
// configuration file.
type config struct {
	Hosts    []hostSpec    `yaml:"hosts"`
	Services []serviceSpec `yaml:"services"`
}

type hostSpec struct {
	Name         string `yaml:"name"`
	CheckService string `yaml:"check_service"`
}

type serviceSpec struct {
	Name             string     `yaml:"name"`
	Host             string     `yaml:"host"`
	Command          string     `yaml:"command"`
	Args             []string   `yaml:"args"`
	MaxCheckAttempts int        `yaml:"max_check_attempts"`
	CheckInterval    string     `yaml:"check_interval"`
	RetryInterval    string     `yaml:"retry_interval"`
	AllowedCheckers  []string   `yaml:"allowed_checkers"`
	ParentServices   []string   `yaml:"parent_services"`
	ParentHosts      []string   `yaml:"parent_hosts"`
	CheckHours       *hourRange `yaml:"check_hours"`
}

type hourRange struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

func parseConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	var config config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, trace.Wrap(err, "failed to parse %v", path)
	}
	return &config, nil
}

// buildRegistry constructs the object registry from the configuration.
func buildRegistry(config *config, startTime time.Time) (*checker.Registry, error) {
	registry := checker.NewRegistry(startTime)
	for _, spec := range config.Hosts {
		if _, err := registry.AddHost(checker.HostConfig{
			Name:         spec.Name,
			CheckService: spec.CheckService,
		}); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	for _, spec := range config.Services {
		config, err := serviceConfig(spec)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if _, err := registry.AddService(config); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return registry, nil
}

func serviceConfig(spec serviceSpec) (config checker.ServiceConfig, err error) {
	checkInterval, err := parseDuration(spec.CheckInterval)
	if err != nil {
		return config, trace.Wrap(err, "service %q: invalid check_interval", spec.Name)
	}
	retryInterval, err := parseDuration(spec.RetryInterval)
	if err != nil {
		return config, trace.Wrap(err, "service %q: invalid retry_interval", spec.Name)
	}
	config = checker.ServiceConfig{
		Name:             spec.Name,
		Host:             spec.Host,
		CheckCommand:     spec.Command,
		MaxCheckAttempts: spec.MaxCheckAttempts,
		CheckInterval:    checkInterval,
		RetryInterval:    retryInterval,
		AllowedCheckers:  spec.AllowedCheckers,
		ParentServices:   spec.ParentServices,
		ParentHosts:      spec.ParentHosts,
		SchedulingOffset: schedulingOffset(spec.Name),
	}
	if spec.Command != "" {
		config.Probe = &checker.CommandProbe{Path: spec.Command, Args: spec.Args}
	}
	if spec.CheckHours != nil {
		config.CheckPeriod = checker.HourRange{From: spec.CheckHours.From, To: spec.CheckHours.To}
	}
	return config, nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return d, nil
}

// schedulingOffset derives the deterministic scheduling phase from the
// service name.
func schedulingOffset(name string) int64 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int64(h.Sum32())
}
