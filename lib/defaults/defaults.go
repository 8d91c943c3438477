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

package defaults

import "time"

const (
	// MaxCheckAttempts specifies the number of failed checks before a problem
	// state is considered confirmed
	MaxCheckAttempts = 3

	// CheckInterval specifies the time between checks for a service in a
	// confirmed state
	CheckInterval = 5 * time.Minute

	// CheckIntervalDivisor derives the retry interval from the check interval
	// when no explicit retry interval has been configured
	CheckIntervalDivisor = 5

	// CheckTimeout bounds the execution of a single check command
	CheckTimeout = time.Minute

	// DispatchInterval specifies how often the dispatcher scans for services
	// that are due for a check
	DispatchInterval = time.Second

	// DispatchWorkers limits the number of checks executing concurrently
	DispatchWorkers = 4

	// MetricsAddr is the default listen address for the metrics endpoint
	MetricsAddr = "127.0.0.1:9360"

	// SerfRPCAddr is the default address of the serf RPC endpoint used for
	// cluster messages
	SerfRPCAddr = "127.0.0.1:7373"

	// DBFile is the name of the state database file inside the data directory
	DBFile = "vigil.db"

	// WebhookTimeout bounds a single notification webhook delivery
	WebhookTimeout = 10 * time.Second
)
