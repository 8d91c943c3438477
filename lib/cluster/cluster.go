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

// Package cluster multicasts check results to the peer nodes of the
// cluster over the serf event bus.
package cluster

import (
	"encoding/json"

	"github.com/cenkalti/backoff"
	"github.com/gravitational/trace"
	serf "github.com/hashicorp/serf/client"
	"github.com/sirupsen/logrus"
)

// serfClient is the minimal interface to the serf cluster.
// It enables mocking access to the serf network in tests.
type serfClient interface {
	// UserEvent broadcasts a named event to the cluster.
	UserEvent(name string, payload []byte, coalesce bool) error
	// Members lists members of the serf cluster.
	Members() ([]serf.Member, error)
	// Close closes the client.
	Close() error
}

// Config configures the multicast sink.
type Config struct {
	// RPCAddr is the address of the local serf agent's RPC endpoint
	RPCAddr string
	// FieldLogger specifies the logger
	FieldLogger logrus.FieldLogger
	// client specifies the serf client.
	// Overridden in tests
	client serfClient
}

func (r *Config) checkAndSetDefaults() error {
	if r.client == nil && r.RPCAddr == "" {
		return trace.BadParameter("missing parameter RPCAddr")
	}
	if r.FieldLogger == nil {
		r.FieldLogger = logrus.WithField(trace.Component, "cluster")
	}
	return nil
}

// Multicast sends check result messages to every peer node.
type Multicast struct {
	config Config
	log    logrus.FieldLogger
	client serfClient
}

// envelope is the wire form of a cluster message.
type envelope struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// New connects the multicast sink to the local serf agent, retrying with
// exponential backoff while the agent is still coming up.
func New(config Config) (*Multicast, error) {
	if err := config.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	client := config.client
	if client == nil {
		err := backoff.Retry(func() (err error) {
			client, err = serf.NewRPCClient(config.RPCAddr)
			if err != nil {
				config.FieldLogger.WithError(err).Debugf("Failed to connect to serf on %v, retrying.",
					config.RPCAddr)
			}
			return err
		}, backoff.NewExponentialBackOff())
		if err != nil {
			return nil, trace.Wrap(err, "failed to connect to serf RPC on %v", config.RPCAddr)
		}
	}
	return &Multicast{
		config: config,
		log:    config.FieldLogger,
		client: client,
	}, nil
}

// SendMulticast broadcasts the payload to the cluster as a serf user
// event named after the method.
func (r *Multicast) SendMulticast(method string, payload interface{}) error {
	data, err := json.Marshal(envelope{Method: method, Params: payload})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := r.client.UserEvent(method, data, false); err != nil {
		return trace.Wrap(err, "failed to multicast %v", method)
	}
	return nil
}

// Members returns the names of the current cluster members.
func (r *Multicast) Members() ([]string, error) {
	members, err := r.client.Members()
	if err != nil {
		return nil, trace.Wrap(err, "failed to query serf members")
	}
	names := make([]string, 0, len(members))
	for _, member := range members {
		names = append(names, member.Name)
	}
	return names, nil
}

// Close closes the connection to the serf agent.
func (r *Multicast) Close() error {
	return trace.Wrap(r.client.Close())
}

// Discard is a cluster sink that drops every message. It stands in for the
// real sink on nodes that run outside a cluster.
type Discard struct{}

// SendMulticast drops the message.
func (Discard) SendMulticast(method string, payload interface{}) error { return nil }
