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

// Package backend defines the persistence interface for service state.
package backend

import "github.com/gravitational/vigil/lib/checker"

// Backend persists service state snapshots so observers outside the
// process see a coherent state after every applied check result.
type Backend interface {
	// Flush stores the snapshot as the current state of the service.
	Flush(snapshot checker.ServiceSnapshot) error

	// RecentService reads the last stored snapshot for the named service.
	RecentService(name string) (*checker.ServiceSnapshot, error)

	// Close releases any resources held by the backend.
	Close() error
}
