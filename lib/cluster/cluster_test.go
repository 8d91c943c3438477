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

package cluster

import (
	"encoding/json"
	"testing"

	serf "github.com/hashicorp/serf/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/vigil/lib/checker"
)

func newTestMulticast(t *testing.T, client *fakeSerfClient) *Multicast {
	multicast, err := New(Config{client: client})
	require.NoError(t, err)
	return multicast
}

func TestSendMulticastEncodesEnvelope(t *testing.T) {
	client := &fakeSerfClient{}
	multicast := newTestMulticast(t, client)

	result := checker.NewResult(checker.StateCritical, "connection refused")
	result.Seal()
	err := multicast.SendMulticast(checker.MulticastCheckResult, checker.CheckResultPayload{
		Service:     "web",
		OldState:    checker.StateOK,
		CheckResult: result,
	})
	require.NoError(t, err)

	require.Len(t, client.events, 1)
	event := client.events[0]
	assert.Equal(t, checker.MulticastCheckResult, event.name)
	assert.False(t, event.coalesce)

	var envelope struct {
		Method string `json:"method"`
		Params struct {
			Service     string          `json:"service"`
			OldState    string          `json:"old_state"`
			CheckResult json.RawMessage `json:"check_result"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(event.payload, &envelope))
	assert.Equal(t, "checker::CheckResult", envelope.Method)
	assert.Equal(t, "web", envelope.Params.Service)
	assert.Equal(t, "OK", envelope.Params.OldState)

	var decoded checker.Result
	require.NoError(t, json.Unmarshal(envelope.Params.CheckResult, &decoded))
	assert.Equal(t, checker.StateCritical, decoded.State())
	assert.Equal(t, "connection refused", decoded.Output())
}

func TestMembers(t *testing.T) {
	client := &fakeSerfClient{members: []string{"node-1", "node-2"}}
	multicast := newTestMulticast(t, client)

	names, err := multicast.Members()
	require.NoError(t, err)
	assert.Equal(t, []string{"node-1", "node-2"}, names)
}

func TestConfigRequiresAddrOrClient(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

type fakeSerfClient struct {
	events  []userEvent
	members []string
}

type userEvent struct {
	name     string
	payload  []byte
	coalesce bool
}

func (r *fakeSerfClient) UserEvent(name string, payload []byte, coalesce bool) error {
	r.events = append(r.events, userEvent{name: name, payload: payload, coalesce: coalesce})
	return nil
}

func (r *fakeSerfClient) Members() ([]serf.Member, error) {
	members := make([]serf.Member, 0, len(r.members))
	for _, name := range r.members {
		members = append(members, serf.Member{Name: name})
	}
	return members, nil
}

func (r *fakeSerfClient) Close() error { return nil }
