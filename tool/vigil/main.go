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

// Command vigil runs the service monitoring agent.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/gravitational/vigil/lib/backend"
	"github.com/gravitational/vigil/lib/backend/inmemory"
	"github.com/gravitational/vigil/lib/backend/sqlite"
	"github.com/gravitational/vigil/lib/checker"
	"github.com/gravitational/vigil/lib/cluster"
	"github.com/gravitational/vigil/lib/defaults"
	"github.com/gravitational/vigil/lib/dispatch"
	"github.com/gravitational/vigil/lib/downtime"
	"github.com/gravitational/vigil/lib/notify"
	"github.com/gravitational/vigil/lib/stats"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Errorf("Failed to run: %v.", trace.DebugReport(err))
		os.Exit(1)
	}
}

func run() error {
	var (
		app   = kingpin.New("vigil", "Vigil is a service monitoring agent")
		debug = app.Flag("debug", "Enable debug mode").Bool()

		cagent       = app.Command("agent", "Run the monitoring agent")
		configPath   = cagent.Flag("config", "Path to the services configuration file").Required().String()
		nodeName     = cagent.Flag("name", "Name of this node in the cluster").Required().String()
		dataDir      = cagent.Flag("data-dir", "Directory for the state database; state is kept in memory if unset").String()
		metricsAddr  = cagent.Flag("metrics-addr", "Listen address for the metrics endpoint").Default(defaults.MetricsAddr).String()
		serfRPCAddr  = cagent.Flag("serf-rpc-addr", "Address of the local serf agent RPC endpoint; cluster messages are dropped if unset").String()
		webhookURL   = cagent.Flag("webhook-url", "Deliver notifications to this webhook instead of the log").String()
		checkTimeout = cagent.Flag("check-timeout", "Maximum duration of a single check").Default(defaults.CheckTimeout.String()).Duration()

		cversion = app.Command("version", "Print version information")
	)

	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		return trace.Wrap(err)
	}

	if *debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	log.SetOutput(os.Stderr)

	switch cmd {
	case cagent.FullCommand():
		return trace.Wrap(runAgent(agentConfig{
			configPath:   *configPath,
			nodeName:     *nodeName,
			dataDir:      *dataDir,
			metricsAddr:  *metricsAddr,
			serfRPCAddr:  *serfRPCAddr,
			webhookURL:   *webhookURL,
			checkTimeout: *checkTimeout,
		}))
	case cversion.FullCommand():
		fmt.Printf("vigil %v\n", version)
		return nil
	}
	return trace.BadParameter("unknown command %v", cmd)
}

type agentConfig struct {
	configPath   string
	nodeName     string
	dataDir      string
	metricsAddr  string
	serfRPCAddr  string
	webhookURL   string
	checkTimeout time.Duration
}

func runAgent(config agentConfig) error {
	inventory, err := parseConfig(config.configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	registry, err := buildRegistry(inventory, time.Now())
	if err != nil {
		return trace.Wrap(err)
	}
	registry.SetSignals(checker.Signals{
		OnNextCheckChanged: func(service *checker.Service) {
			log.Debugf("Service %q next check at %v.", service.Name(), service.NextCheck())
		},
		OnCheckerChanged: func(service *checker.Service) {
			log.Infof("Service %q is now checked by %q.", service.Name(), service.CurrentChecker())
		},
	})

	var persistence backend.Backend
	if config.dataDir != "" {
		persistence, err = sqlite.New(config.dataDir)
		if err != nil {
			return trace.Wrap(err)
		}
	} else {
		persistence = inmemory.New()
	}
	defer persistence.Close()

	collector := stats.New()
	prometheus.MustRegister(collector.Collectors()...)
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(config.metricsAddr, nil); err != nil {
			log.WithError(err).Error("Metrics endpoint failed.")
		}
	}()

	var clusterSink checker.ClusterSink = cluster.Discard{}
	if config.serfRPCAddr != "" {
		multicast, err := cluster.New(cluster.Config{RPCAddr: config.serfRPCAddr})
		if err != nil {
			return trace.Wrap(err)
		}
		defer multicast.Close()
		clusterSink = multicast
	}

	var notifier checker.Notifier = notify.NewLog()
	if config.webhookURL != "" {
		notifier = notify.NewWebhook(config.webhookURL)
	}

	core, err := checker.New(checker.Config{
		Identity:     config.nodeName,
		Registry:     registry,
		Downtime:     downtime.New(nil),
		Notifier:     notifier,
		Stats:        collector,
		Cluster:      clusterSink,
		Persistence:  persistence,
		CheckTimeout: config.checkTimeout,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	dispatcher, err := dispatch.New(dispatch.Config{Core: core})
	if err != nil {
		return trace.Wrap(err)
	}
	dispatcher.Start()
	log.Infof("Agent %q started with %v services.", config.nodeName, len(registry.Services()))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	log.Info("Shutting down.")
	dispatcher.Stop()
	core.Close()
	return nil
}
