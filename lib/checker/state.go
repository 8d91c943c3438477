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

import "encoding/json"

// State is the outcome value of a service check.
type State int

const (
	// StateOK means the service is healthy
	StateOK State = iota
	// StateWarning means the service is degraded but operational
	StateWarning
	// StateCritical means the service has failed
	StateCritical
	// StateUncheckable means the check could not be run against the target
	StateUncheckable
	// StateUnknown means the check produced no usable outcome
	StateUnknown
)

// String returns the wire representation of the state.
func (s State) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateWarning:
		return "WARNING"
	case StateCritical:
		return "CRITICAL"
	case StateUncheckable:
		return "UNCHECKABLE"
	default:
		return "UNKNOWN"
	}
}

// StateFromString parses the wire representation of a state.
// Unrecognized input maps to StateUnknown.
func StateFromString(state string) State {
	switch state {
	case "OK":
		return StateOK
	case "WARNING":
		return StateWarning
	case "CRITICAL":
		return StateCritical
	case "UNCHECKABLE":
		return StateUncheckable
	default:
		return StateUnknown
	}
}

// StateType qualifies a state as provisional (soft) or confirmed (hard).
type StateType int

const (
	// StateTypeSoft marks a state that has not yet met the retry threshold.
	// Notifications are suppressed while a state is soft
	StateTypeSoft StateType = iota
	// StateTypeHard marks a state that has met the retry threshold
	StateTypeHard
)

// String returns the wire representation of the state type.
func (t StateType) String() string {
	if t == StateTypeSoft {
		return "SOFT"
	}
	return "HARD"
}

// StateTypeFromString parses the wire representation of a state type.
// Unrecognized input maps to StateTypeHard.
func StateTypeFromString(stateType string) StateType {
	if stateType == "SOFT" {
		return StateTypeSoft
	}
	return StateTypeHard
}

// MarshalJSON encodes the state as its wire string.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the state from its wire string.
func (s *State) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*s = StateFromString(value)
	return nil
}

// MarshalJSON encodes the state type as its wire string.
func (t StateType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the state type from its wire string.
func (t *StateType) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*t = StateTypeFromString(value)
	return nil
}
